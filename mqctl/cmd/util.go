// Copyright 2026 The gVisor Authors.
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

// Package cmd holds implementations of the mqctl commands.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
	"gvisor.dev/mqshm/pkg/errors/linuxerr"
	"gvisor.dev/mqshm/pkg/log"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by the caller, so they must be kept short.
var ErrorLogger io.Writer = os.Stderr

// Fatalf logs to stderr and the debug log, and exits with a status derived
// from err's errno if err is the last argument.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("FATAL ERROR: %s", msg)
	fmt.Fprintf(ErrorLogger, "mqctl: %s\n", msg)
	status := 128
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			status = exitStatus(err)
		}
	}
	os.Exit(status)
}

// exitStatus maps an error to the process exit status: the errno it
// carries, so that scripts can tell a full queue (EAGAIN) from a missing one
// (ENOENT).
func exitStatus(err error) int {
	if e := linuxerr.ErrnoOf(err); e != 0 && e < 128 {
		return int(e)
	}
	return 128
}

// withTimeout returns a deadline-bound context for d > 0.
func withTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(context.Background(), d)
	}
	return context.WithCancel(context.Background())
}

func parseSignal(s string) (unix.Signal, error) {
	n, err := strconv.Atoi(s)
	if err == nil {
		sig := unix.Signal(n)
		for _, msig := range signalMap {
			if sig == msig {
				return sig, nil
			}
		}
		return -1, fmt.Errorf("unknown signal %q", s)
	}
	if sig, ok := signalMap[strings.TrimPrefix(strings.ToUpper(s), "SIG")]; ok {
		return sig, nil
	}
	return -1, fmt.Errorf("unknown signal %q", s)
}

// signalMap lists the signals that make sense as queue notifications.
var signalMap = map[string]unix.Signal{
	"ALRM":   unix.SIGALRM,
	"CHLD":   unix.SIGCHLD,
	"CONT":   unix.SIGCONT,
	"HUP":    unix.SIGHUP,
	"INT":    unix.SIGINT,
	"IO":     unix.SIGIO,
	"PIPE":   unix.SIGPIPE,
	"POLL":   unix.SIGPOLL,
	"PROF":   unix.SIGPROF,
	"PWR":    unix.SIGPWR,
	"QUIT":   unix.SIGQUIT,
	"TERM":   unix.SIGTERM,
	"URG":    unix.SIGURG,
	"USR1":   unix.SIGUSR1,
	"USR2":   unix.SIGUSR2,
	"VTALRM": unix.SIGVTALRM,
	"WINCH":  unix.SIGWINCH,
}
