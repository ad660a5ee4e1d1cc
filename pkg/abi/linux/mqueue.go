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

package linux

// Limits for POSIX message queues. Source: include/linux/ipc_namespace.h
const (
	MIN_MSGMAX      = 1
	HARD_MSGMAX     = 65536
	HARD_MSGSIZEMAX = (16 * 1024 * 1024)
)

// Maximum values for a message queue. Source: include/uapi/linux/mqueue.h
const (
	MQ_PRIO_MAX  = 32768
	MQ_BYTES_MAX = 819200
)
