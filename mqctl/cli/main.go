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

// Package cli is the main entrypoint for mqctl.
package cli

import (
	"context"
	"flag"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/mqshm/mqctl/cmd"
	"gvisor.dev/mqshm/mqctl/config"
	"gvisor.dev/mqshm/pkg/log"
)

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		cmd.Fatalf("%v", err)
	}

	if conf.LogFilename != "" {
		// O_APPEND so that consecutive invocations share one log.
		f, err := os.OpenFile(conf.LogFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			cmd.Fatalf("error opening log file %q: %v", conf.LogFilename, err)
		}
		cmd.ErrorLogger = io.MultiWriter(os.Stderr, f)
	}

	subcommand := flag.CommandLine.Arg(0)
	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	var emitters log.MultiEmitter
	if conf.DebugLog != "" {
		f, err := log.OpenFile(conf.DebugLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, log.CommandFileOpts{
			Command:   subcommand,
			Timestamp: time.Now(),
		})
		if err != nil {
			cmd.Fatalf("error opening debug log file in %q: %v", conf.DebugLog, err)
		}
		emitters = append(emitters, newEmitter(conf.LogFormat, f))
	}
	if conf.AlsoLogToStderr {
		emitters = append(emitters, newEmitter(conf.LogFormat, os.Stderr))
	}

	switch len(emitters) {
	case 0:
		// Stdout and stderr carry command output, so logs are dropped
		// unless a destination was requested.
		log.SetTarget(newEmitter("text", io.Discard))
	case 1:
		log.SetTarget(emitters[0])
	default:
		log.SetTarget(&emitters)
	}

	const delimString = `**************** mqctl ****************`
	log.Infof(delimString)
	log.Infof("%s, %s, %d CPUs, %s, PID %d, PPID %d, UID %d, GID %d", runtime.Version(), runtime.GOARCH, runtime.NumCPU(), runtime.GOOS, os.Getpid(), os.Getppid(), os.Getuid(), os.Getgid())
	log.Infof("Args: %v", os.Args)
	conf.Log()
	log.Infof(delimString)

	subcmdCode := subcommands.Execute(context.Background(), conf)
	if subcmdCode != subcommands.ExitSuccess {
		log.Warningf("Failure to execute command, err: %v", subcmdCode)
	}
	os.Exit(int(subcmdCode))
}

// forEachCmd invokes the passed callback for each command supported by mqctl.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	cb(new(cmd.Create), "")
	cb(new(cmd.Send), "")
	cb(new(cmd.Receive), "")
	cb(new(cmd.Attr), "")
	cb(new(cmd.Unlink), "")
	cb(new(cmd.Notify), "")
	cb(new(cmd.List), "")

	const debugGroup = "debug"
	cb(new(cmd.Stat), debugGroup)
	cb(new(cmd.Stress), debugGroup)
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	case "json-k8s":
		return log.K8sJSONEmitter{Writer: &log.Writer{Next: logFile}}
	}
	return log.GoogleEmitter{Emitter: &log.Writer{Next: logFile}}
}
