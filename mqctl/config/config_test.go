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

package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/mqshm/pkg/shm"
)

func newFlagSet(t *testing.T, args ...string) *flag.FlagSet {
	t.Helper()
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Parse(args); err != nil {
		t.Fatalf("Parse(%v): %v", args, err)
	}
	return testFlags
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mqctl.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t))
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		RootDir:   shm.DefaultRoot,
		MaxQueues: 64,
		LogFormat: "text",
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("default config mismatch (-want +got):\n%s", diff)
	}

	// All defaults doesn't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
}

func TestFromFlags(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t, "--root=some-path", "--debug", "--max-queues=3", "--log-format=json"))
	if err != nil {
		t.Fatal(err)
	}
	if want := "some-path"; c.RootDir != want {
		t.Errorf("RootDir=%v, want: %v", c.RootDir, want)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug=%v, want: %v", c.Debug, want)
	}
	if want := 3; c.MaxQueues != want {
		t.Errorf("MaxQueues=%v, want: %v", c.MaxQueues, want)
	}
	if want := "json"; c.LogFormat != want {
		t.Errorf("LogFormat=%v, want: %v", c.LogFormat, want)
	}
}

func TestToFlagsFromFlags(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t, "--root=some-path", "--debug", "--max-queues=64"))
	if err != nil {
		t.Fatal(err)
	}
	flags := c.ToFlags()
	want := []string{"--root=some-path", "--debug=true"}
	if diff := cmp.Diff(want, flags); diff != "" {
		t.Errorf("ToFlags mismatch (-want +got):\n%s", diff)
	}

	// The flags reproduce the config.
	c2, err := NewFromFlags(newFlagSet(t, flags...))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(c, c2); diff != "" {
		t.Errorf("config did not survive ToFlags (-want +got):\n%s", diff)
	}
}

func TestConfigFile(t *testing.T) {
	path := writeConfig(t, `
root = "/from/file"
max-queues = 8
debug = true
log-format = "json-k8s"
`)
	c, err := NewFromFlags(newFlagSet(t, "--config="+path, "--root=/from/flag"))
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		RootDir:    "/from/flag",
		MaxQueues:  8,
		Debug:      true,
		LogFormat:  "json-k8s",
		ConfigFile: path,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigFileErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
		want     string
	}{
		{"unknown key", "bogus = 1\n", "unknown settings"},
		{"syntax", "root = \n", "error reading config file"},
		{"invalid value", "log-format = \"xml\"\n", "invalid log format"},
		{"zero queues", "max-queues = 0\n", "max-queues must be positive"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.contents)
			_, err := NewFromFlags(newFlagSet(t, "--config="+path))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("NewFromFlags = %v, want error containing %q", err, tc.want)
			}
		})
	}
	if _, err := NewFromFlags(newFlagSet(t, "--config=/does/not/exist.toml")); err == nil {
		t.Errorf("NewFromFlags with missing config file succeeded")
	}
}
