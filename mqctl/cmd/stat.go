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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/prometheus/common/expfmt"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/protobuf/proto"
	"gopkg.in/yaml.v3"
	"gvisor.dev/mqshm/mqctl/config"
	"gvisor.dev/mqshm/pkg/mqueue"
)

// Stat implements subcommands.Command for the "stat" command.
type Stat struct {
	format string
}

// Name implements subcommands.Command.Name.
func (*Stat) Name() string {
	return "stat"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stat) Synopsis() string {
	return "print the state of queues"
}

// Usage implements subcommands.Command.Usage.
func (*Stat) Usage() string {
	return `stat [flags] [name...] - print the state of the named queues, or of all
queues under the root.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stat) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.format, "format", "text", "output format: text, yaml or prometheus.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stat) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	switch s.format {
	case "text", "yaml", "prometheus":
	default:
		f.Usage()
		return subcommands.ExitUsageError
	}

	r := conf.Registry()
	defer r.CloseAll()
	names := f.Args()
	if len(names) == 0 {
		var err error
		if names, err = r.List(); err != nil {
			Fatalf("listing queues in %q: %v", r.Root(), err)
		}
	}
	stats, err := collectStats(r, names)
	if err != nil {
		Fatalf("%v", err)
	}

	switch s.format {
	case "prometheus":
		err = writePrometheus(os.Stdout, stats)
	case "yaml":
		err = writeYAML(os.Stdout, stats)
	default:
		err = writeText(os.Stdout, stats)
	}
	if err != nil {
		Fatalf("writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

// collectStats opens each queue just long enough to sample it.
func collectStats(r *mqueue.Registry, names []string) ([]mqueue.Stat, error) {
	stats := make([]mqueue.Stat, 0, len(names))
	for _, name := range names {
		h, err := r.Open(name, mqueue.OpenOptions{ReadOnly: true})
		if err != nil {
			return nil, fmt.Errorf("opening queue %q: %w", name, err)
		}
		st, err := r.Stat(h)
		r.Close(h)
		if err != nil {
			return nil, fmt.Errorf("reading state of %q: %w", name, err)
		}
		stats = append(stats, st)
	}
	return stats, nil
}

func writeText(w io.Writer, stats []mqueue.Stat) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "NAME\tMAXMSG\tMSGSIZE\tCURMSGS\tHEAD\tTAIL\tNOTIFY\tNOTIFICATIONS\n")
	for _, st := range stats {
		notify := "-"
		if st.Subscribed {
			notify = fmt.Sprintf("%v:%d", st.Subscriber.Kind, st.Subscriber.PID)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\t%d\n", st.Name, st.MaxMessages, st.MessageSize, st.CurMessages, st.Head, st.Tail, notify, st.NotifySeq)
	}
	return tw.Flush()
}

// queueState is the yaml form of mqueue.Stat.
type queueState struct {
	Name        string       `yaml:"name"`
	MaxMessages int64        `yaml:"maxmsg"`
	MessageSize int64        `yaml:"msgsize"`
	CurMessages int64        `yaml:"curmsgs"`
	Head        uint64       `yaml:"head"`
	Tail        uint64       `yaml:"tail"`
	SegmentSize int64        `yaml:"segment_size"`
	LockOwner   int32        `yaml:"lock_owner,omitempty"`
	NotifySeq   uint32       `yaml:"notifications"`
	Notify      *notifyState `yaml:"notify,omitempty"`
}

type notifyState struct {
	PID    int32  `yaml:"pid"`
	Kind   string `yaml:"kind"`
	Signal int    `yaml:"signal,omitempty"`
}

func writeYAML(w io.Writer, stats []mqueue.Stat) error {
	out := make([]queueState, 0, len(stats))
	for _, st := range stats {
		qs := queueState{
			Name:        st.Name,
			MaxMessages: st.MaxMessages,
			MessageSize: st.MessageSize,
			CurMessages: st.CurMessages,
			Head:        st.Head,
			Tail:        st.Tail,
			SegmentSize: st.SegmentSize,
			LockOwner:   st.LockOwner,
			NotifySeq:   st.NotifySeq,
		}
		if st.Subscribed {
			qs.Notify = &notifyState{
				PID:    st.Subscriber.PID,
				Kind:   st.Subscriber.Kind.String(),
				Signal: int(st.Subscriber.Signal),
			}
		}
		out = append(out, qs)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}

// Metric names exported by "stat -format prometheus".
const (
	metricMessages      = "mqshm_queue_messages"
	metricCapacity      = "mqshm_queue_capacity_messages"
	metricMessageSize   = "mqshm_queue_message_size_bytes"
	metricSegmentSize   = "mqshm_queue_segment_size_bytes"
	metricSubscribed    = "mqshm_queue_notification_registered"
	metricNotifications = "mqshm_queue_notifications_total"
)

func writePrometheus(w io.Writer, stats []mqueue.Stat) error {
	families := []*dto.MetricFamily{
		family(metricMessages, "Messages currently queued.", dto.MetricType_GAUGE),
		family(metricCapacity, "Maximum number of messages the queue holds.", dto.MetricType_GAUGE),
		family(metricMessageSize, "Maximum size of one message.", dto.MetricType_GAUGE),
		family(metricSegmentSize, "Size of the shared memory segment backing the queue.", dto.MetricType_GAUGE),
		family(metricSubscribed, "1 if a notification registration is outstanding.", dto.MetricType_GAUGE),
		family(metricNotifications, "Notification registrations consumed, modulo 2^32.", dto.MetricType_COUNTER),
	}
	for _, st := range stats {
		subscribed := 0.0
		if st.Subscribed {
			subscribed = 1
		}
		for i, v := range []float64{
			float64(st.CurMessages),
			float64(st.MaxMessages),
			float64(st.MessageSize),
			float64(st.SegmentSize),
			subscribed,
			float64(st.NotifySeq),
		} {
			families[i].Metric = append(families[i].Metric, sample(families[i].GetType(), st.Name, v))
		}
	}

	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

func family(name, help string, typ dto.MetricType) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: typ.Enum(),
	}
}

func sample(typ dto.MetricType, queue string, v float64) *dto.Metric {
	m := &dto.Metric{
		Label: []*dto.LabelPair{{
			Name:  proto.String("queue"),
			Value: proto.String(queue),
		}},
	}
	if typ == dto.MetricType_COUNTER {
		m.Counter = &dto.Counter{Value: proto.Float64(v)}
	} else {
		m.Gauge = &dto.Gauge{Value: proto.Float64(v)}
	}
	return m
}
