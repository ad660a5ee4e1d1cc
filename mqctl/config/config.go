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

// Package config provides basic infrastructure to set configuration settings
// for mqctl. Each setting is backed by a flag of the same name and can also
// be set from a TOML configuration file; flags given on the command line take
// precedence over the file.
package config

import (
	"fmt"

	"gvisor.dev/mqshm/pkg/log"
	"gvisor.dev/mqshm/pkg/mqueue"
)

// Config holds configuration that is not part of an individual command.
type Config struct {
	// RootDir is the directory holding queue objects.
	RootDir string `flag:"root" toml:"root"`

	// MaxQueues is the number of queues a single mqctl process may have
	// open.
	MaxQueues int `flag:"max-queues" toml:"max-queues"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format" toml:"log-format"`

	// DebugLog is an additional location for logs. If it ends with '/',
	// files are created inside the directory with default names.
	DebugLog string `flag:"debug-log" toml:"debug-log"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr" toml:"alsologtostderr"`

	// ConfigFile is the TOML file the settings above were loaded from.
	ConfigFile string `flag:"config" toml:"-"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json", "json-k8s":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text', 'json', or 'json-k8s'", c.LogFormat)
	}
	if c.MaxQueues <= 0 {
		return fmt.Errorf("max-queues must be positive, got %d", c.MaxQueues)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config.RootDir: %s", c.RootDir)
	log.Infof("Config.MaxQueues: %d", c.MaxQueues)
	log.Infof("Config.Debug: %t", c.Debug)
	log.Infof("Config.LogFormat: %s", c.LogFormat)
	if c.ConfigFile != "" {
		log.Infof("Config.ConfigFile: %s", c.ConfigFile)
	}
}

// Registry returns a queue registry configured by c.
func (c *Config) Registry() *mqueue.Registry {
	return mqueue.NewRegistry(mqueue.Config{
		Root:      c.RootDir,
		MaxQueues: c.MaxQueues,
	})
}
