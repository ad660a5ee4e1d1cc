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
	"fmt"
	"reflect"
	"strconv"

	"github.com/BurntSushi/toml"
	"gvisor.dev/mqshm/pkg/mqueue"
	"gvisor.dev/mqshm/pkg/shm"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("root", shm.DefaultRoot, "directory holding message queue objects.")
	flagSet.Int("max-queues", mqueue.DefaultMaxQueues, "maximum number of queues open at once.")
	flagSet.String("config", "", "TOML file with settings. Flags given on the command line override it.")

	// Debugging flags.
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr.")
	flagSet.String("log-format", "text", "log format: text (default), json, or json-k8s.")
	flagSet.String("debug-log", "", "additional location for logs. If it ends with '/', log files are created inside the directory with default names. The following variables are available: %TIMESTAMP%, %COMMAND%, %PID%.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr.")
}

// NewFromFlags creates a new Config with values coming from command line
// flags and, if --config is set, the named TOML file.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	if err := conf.setFromFlags(flagSet, func(*flag.Flag) bool { return true }); err != nil {
		return nil, err
	}

	if conf.ConfigFile != "" {
		md, err := toml.DecodeFile(conf.ConfigFile, conf)
		if err != nil {
			return nil, fmt.Errorf("error reading config file %q: %w", conf.ConfigFile, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown settings in config file %q: %v", conf.ConfigFile, undecoded)
		}
		// Flags given explicitly win over the file.
		explicit := make(map[string]bool)
		flagSet.Visit(func(fl *flag.Flag) { explicit[fl.Name] = true })
		if err := conf.setFromFlags(flagSet, func(fl *flag.Flag) bool { return explicit[fl.Name] }); err != nil {
			return nil, err
		}
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// setFromFlags copies the value of every flag accepted by use into the
// field tagged with its name.
func (c *Config) setFromFlags(flagSet *flag.FlagSet, use func(*flag.Flag) bool) error {
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if !use(fl) {
			continue
		}
		getter, ok := fl.Value.(flag.Getter)
		if !ok {
			return fmt.Errorf("flag %q does not implement flag.Getter", name)
		}
		obj.Field(i).Set(reflect.ValueOf(getter.Get()))
	}
	return nil
}

// ToFlags returns a slice of flags that correspond to the given Config. Flags
// equal to their default are omitted.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		val := getVal(obj.Field(i))

		flag := flagSet.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if val == flag.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", flag.Name, val))
	}
	return rv
}

func getVal(field reflect.Value) string {
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}
