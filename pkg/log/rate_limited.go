// Copyright 2021 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitedLogger forwards at most one message per interval. The next
// message that gets through reports how many were dropped in between.
type rateLimitedLogger struct {
	logger     Logger
	limit      *rate.Limiter
	suppressed atomic.Int64

	// now is time.Now outside of tests.
	now func() time.Time
}

// allow returns the format and arguments to log, or false if the message
// must be dropped.
func (rl *rateLimitedLogger) allow(format string, v []any) (string, []any, bool) {
	if !rl.limit.AllowN(rl.now(), 1) {
		rl.suppressed.Add(1)
		return "", nil, false
	}
	if n := rl.suppressed.Swap(0); n > 0 {
		format = strings.TrimSuffix(format, "\n") + " (%d similar messages suppressed)"
		v = append(v[:len(v):len(v)], n)
	}
	return format, v, true
}

func (rl *rateLimitedLogger) Debugf(format string, v ...any) {
	if format, v, ok := rl.allow(format, v); ok {
		rl.logger.Debugf(format, v...)
	}
}

func (rl *rateLimitedLogger) Infof(format string, v ...any) {
	if format, v, ok := rl.allow(format, v); ok {
		rl.logger.Infof(format, v...)
	}
}

func (rl *rateLimitedLogger) Warningf(format string, v ...any) {
	if format, v, ok := rl.allow(format, v); ok {
		rl.logger.Warningf(format, v...)
	}
}

func (rl *rateLimitedLogger) IsLogging(level Level) bool {
	return rl.logger.IsLogging(level)
}

// RateLimitedLogger returns a Logger that logs to the provided logger no more
// than once per the provided duration.
func RateLimitedLogger(logger Logger, every time.Duration) Logger {
	return &rateLimitedLogger{
		logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), 1),
		now:    time.Now,
	}
}
