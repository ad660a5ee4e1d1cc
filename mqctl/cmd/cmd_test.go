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
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/common/expfmt"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
	"gvisor.dev/mqshm/pkg/mqueue"
)

func newRegistry(t *testing.T) *mqueue.Registry {
	t.Helper()
	r := mqueue.NewRegistry(mqueue.Config{Root: t.TempDir()})
	t.Cleanup(func() { r.CloseAll() })
	return r
}

func TestParseSignal(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    unix.Signal
		wantErr bool
	}{
		{in: "USR1", want: unix.SIGUSR1},
		{in: "sigusr2", want: unix.SIGUSR2},
		{in: "SIGTERM", want: unix.SIGTERM},
		{in: "10", want: unix.Signal(10)},
		{in: "KILL", wantErr: true},
		{in: "9", wantErr: true},
		{in: "bogus", wantErr: true},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseSignal(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Errorf("parseSignal(%q) = %v, want error", tc.in, got)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Errorf("parseSignal(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
			}
		})
	}
}

func TestExitStatus(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want int
	}{
		{err: mqueue.ErrQueueFull, want: int(unix.EAGAIN)},
		{err: fmt.Errorf("opening: %w", mqueue.ErrNotFound), want: int(unix.ENOENT)},
		{err: &mqueue.IOError{Op: "open", Name: "/q", Err: unix.ENOMEM}, want: int(unix.EIO)},
		{err: context.DeadlineExceeded, want: int(unix.EIO)},
	} {
		if got := exitStatus(tc.err); got != tc.want {
			t.Errorf("exitStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestStatText(t *testing.T) {
	r := newRegistry(t)
	h, err := r.Open("/text", mqueue.OpenOptions{Create: true, MaxMessages: 4, MessageSize: 16})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.Send(h, []byte("x"), 0); err != nil {
		t.Fatalf("Send: %v", err)
	}
	stats, err := collectStats(r, []string{"/text"})
	if err != nil {
		t.Fatalf("collectStats: %v", err)
	}
	var buf bytes.Buffer
	if err := writeText(&buf, stats); err != nil {
		t.Fatalf("writeText: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), buf.String())
	}
	if got, want := strings.Fields(lines[1]), []string{"/text", "4", "16", "1", "0", "1", "-", "0"}; !cmp.Equal(got, want) {
		t.Errorf("row mismatch (-want +got):\n%s", cmp.Diff(want, got))
	}
}

func TestStatYAML(t *testing.T) {
	r := newRegistry(t)
	h, err := r.Open("/yaml", mqueue.OpenOptions{Create: true, MaxMessages: 2, MessageSize: 8})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.Notify(h, &mqueue.Subscriber{Kind: mqueue.NotifyNone}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	stats, err := collectStats(r, []string{"/yaml"})
	if err != nil {
		t.Fatalf("collectStats: %v", err)
	}
	var buf bytes.Buffer
	if err := writeYAML(&buf, stats); err != nil {
		t.Fatalf("writeYAML: %v", err)
	}
	var got []queueState
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("parsing output %q: %v", buf.String(), err)
	}
	want := []queueState{{
		Name:        "/yaml",
		MaxMessages: 2,
		MessageSize: 8,
		SegmentSize: stats[0].SegmentSize,
		Notify:      &notifyState{PID: int32(os.Getpid()), Kind: "none"},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("yaml mismatch (-want +got):\n%s", diff)
	}
}

func TestStatPrometheus(t *testing.T) {
	r := newRegistry(t)
	for _, name := range []string{"/a", "/b"} {
		if _, err := r.Open(name, mqueue.OpenOptions{Create: true, MaxMessages: 8, MessageSize: 32}); err != nil {
			t.Fatalf("Open(%q): %v", name, err)
		}
	}
	h, err := r.Open("/a", mqueue.OpenOptions{WriteOnly: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := r.Send(h, []byte("m"), 0); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	names, err := r.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	stats, err := collectStats(r, names)
	if err != nil {
		t.Fatalf("collectStats: %v", err)
	}
	var buf bytes.Buffer
	if err := writePrometheus(&buf, stats); err != nil {
		t.Fatalf("writePrometheus: %v", err)
	}

	var p expfmt.TextParser
	families, err := p.TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("parsing output: %v", err)
	}
	value := func(metric, queue string) float64 {
		mf, ok := families[metric]
		if !ok {
			t.Fatalf("metric %q missing", metric)
		}
		for _, m := range mf.GetMetric() {
			if m.GetLabel()[0].GetValue() != queue {
				continue
			}
			if m.Counter != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
		t.Fatalf("metric %q has no sample for %q", metric, queue)
		return 0
	}
	for _, tc := range []struct {
		metric, queue string
		want          float64
	}{
		{metricMessages, "/a", 3},
		{metricMessages, "/b", 0},
		{metricCapacity, "/a", 8},
		{metricMessageSize, "/b", 32},
		{metricSubscribed, "/a", 0},
		{metricNotifications, "/b", 0},
	} {
		if got := value(tc.metric, tc.queue); got != tc.want {
			t.Errorf("%s{queue=%q} = %v, want %v", tc.metric, tc.queue, got, tc.want)
		}
	}
	if got := value(metricSegmentSize, "/a"); got <= 0 {
		t.Errorf("%s = %v, want > 0", metricSegmentSize, got)
	}
}

func TestStress(t *testing.T) {
	r := newRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := runStress(ctx, r, "/stress", 3, 2, 200, nil); err != nil {
		t.Fatalf("runStress: %v", err)
	}
	// The queue is drained once every message has been accounted for.
	stats, err := collectStats(r, []string{"/stress"})
	if err != nil {
		t.Fatalf("collectStats: %v", err)
	}
	if got := stats[0].CurMessages; got != 0 {
		t.Errorf("CurMessages = %d, want 0", got)
	}
}

func TestStressSpawnErrors(t *testing.T) {
	r := newRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	spawn := func(context.Context, int) error { return fmt.Errorf("no workers") }
	if err := runStress(ctx, r, "/spawn", 2, 1, 10, spawn); err == nil {
		t.Fatalf("runStress succeeded with failing workers")
	}
}
