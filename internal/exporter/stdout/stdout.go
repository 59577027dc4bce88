// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package stdout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"k8s.io/utils/clock"

	"github.com/sustainable-computing-io/perfevent/internal/manager"
	"github.com/sustainable-computing-io/perfevent/internal/service"
)

// SnapshotProvider is the part of the counter manager the exporter reads
type SnapshotProvider interface {
	Snapshot() (*manager.Snapshot, error)
}

// Exporter prints the counters as tables every interval
type Exporter struct {
	logger   *slog.Logger
	source   SnapshotProvider
	out      io.WriteCloser
	clock    clock.WithTicker
	ticker   clock.Ticker
	interval time.Duration
}

var (
	_ service.Initializer = (*Exporter)(nil)
	_ service.Runner      = (*Exporter)(nil)
	_ service.Shutdowner  = (*Exporter)(nil)
)

type Opts struct {
	logger   *slog.Logger
	out      io.WriteCloser
	clock    clock.WithTicker
	interval time.Duration
}

// DefaultOpts returns a new Opts with defaults set
func DefaultOpts() Opts {
	return Opts{
		logger:   slog.Default(),
		out:      os.Stdout,
		clock:    clock.RealClock{},
		interval: 5 * time.Second,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Exporter
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

func WithOutput(out io.WriteCloser) OptionFn {
	return func(o *Opts) {
		o.out = out
	}
}

func WithInterval(interval time.Duration) OptionFn {
	return func(o *Opts) {
		o.interval = interval
	}
}

// WithClock sets the clock driving the print ticker
func WithClock(c clock.WithTicker) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

func NewExporter(src SnapshotProvider, applyOpts ...OptionFn) *Exporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Exporter{
		logger:   opts.logger.With("service", "stdout"),
		source:   src,
		out:      opts.out,
		clock:    opts.clock,
		interval: opts.interval,
	}
}

func (e *Exporter) Init() error {
	if e.interval <= 0 {
		return fmt.Errorf("invalid stdout interval %s", e.interval)
	}
	e.ticker = e.clock.NewTicker(e.interval)
	return nil
}

// Run prints one snapshot per tick. A failed read is logged and skipped.
func (e *Exporter) Run(ctx context.Context) error {
	defer e.ticker.Stop()

	for {
		select {
		case now := <-e.ticker.C():
			snapshot, err := e.source.Snapshot()
			if err != nil {
				e.logger.Error("Failed to read counters", "error", err)
				continue
			}
			if err := write(e.out, now, snapshot); err != nil {
				e.logger.Error("Failed to print counters", "error", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func write(out io.Writer, now time.Time, s *manager.Snapshot) error {
	status := "valid"
	if !s.Valid {
		status = "discarded: counters paused or resumed"
	}
	if _, err := fmt.Fprintf(out, "%s  %d instances read (%s)\n", now.UTC().Format(time.RFC3339), s.Read, status); err != nil {
		return err
	}
	if !s.Valid {
		return nil
	}
	if err := writeCounters(out, s); err != nil {
		return err
	}
	if len(s.Derived) == 0 {
		return nil
	}
	return writeDerived(out, s)
}

func newTable(out io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Formatting.Alignment = tw.AlignRight
	})
	return table
}

func writeCounters(out io.Writer, s *manager.Snapshot) error {
	rows := [][]string{}
	for _, c := range s.Counters {
		if c.Disabled {
			rows = append(rows, []string{c.Name, "-", "disabled", "-"})
			continue
		}
		for _, d := range c.Data {
			rows = append(rows, []string{
				c.Name,
				strconv.Itoa(d.CPU),
				strconv.FormatUint(d.Value, 10),
				strconv.FormatFloat(d.DutyCycle()*100, 'f', 1, 64),
			})
		}
	}

	table := newTable(out)
	table.Header([]string{"Event", "CPU", "Value", "Running"})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func writeDerived(out io.Writer, s *manager.Snapshot) error {
	rows := [][]string{}
	for _, d := range s.Derived {
		for i, v := range d.Values {
			rows = append(rows, []string{d.Name, strconv.Itoa(i), strconv.FormatFloat(v, 'f', 2, 64)})
		}
	}

	table := newTable(out)
	table.Header([]string{"Derived", "Instance", "Value"})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func (e *Exporter) Shutdown() error {
	if e.out == os.Stdout {
		return nil
	}
	return e.out.Close()
}

// Name implements service.Name
func (e *Exporter) Name() string {
	return "stdout"
}
