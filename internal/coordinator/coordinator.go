// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package coordinator pauses counter collection while another process holds
// the exclusive counter lock.
package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/sustainable-computing-io/perfevent/internal/service"
)

// Toggler switches the programmed counters on or off and returns the number
// of counters toggled
type Toggler interface {
	Enable(on bool) int
}

// State is the collection state the Coordinator last applied
type State int

const (
	Disabled State = iota
	Enabled
)

func (s State) String() string {
	if s == Enabled {
		return "enabled"
	}
	return "disabled"
}

var errAlreadyRunning = errors.New("coordinator is already running")

// Coordinator polls the lock and toggles the target on every state change
type Coordinator struct {
	logger   *slog.Logger
	target   Toggler
	prober   LockProber
	clock    clock.WithTicker
	interval time.Duration

	mu      sync.Mutex
	state   State
	tainted bool
	running bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

var (
	_ service.Runner     = (*Coordinator)(nil)
	_ service.Shutdowner = (*Coordinator)(nil)
)

// New returns a Coordinator in the Disabled state
func New(target Toggler, applyOpts ...OptionFn) *Coordinator {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	prober := opts.prober
	if prober == nil {
		prober = newFileLock(opts.lockFile)
	}

	return &Coordinator{
		logger:   opts.logger.With("service", "coordinator"),
		target:   target,
		prober:   prober,
		clock:    opts.clock,
		interval: opts.interval,
		state:    Disabled,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (c *Coordinator) Name() string {
	return "coordinator"
}

// Run probes the lock immediately and then on every tick until ctx is done
// or Shutdown is called. Run after Shutdown returns at once.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errAlreadyRunning
	}
	select {
	case <-c.stop:
		c.mu.Unlock()
		return nil
	default:
	}
	c.running = true
	c.mu.Unlock()
	defer close(c.done)

	c.logger.Info("Coordinator is running...", "interval", c.interval)
	c.poll()

	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Coordinator has terminated.")
			return nil
		case <-c.stop:
			c.logger.Info("Coordinator has terminated.")
			return nil
		case <-ticker.C():
			c.poll()
		}
	}
}

// Shutdown stops the loop and waits for it to exit
func (c *Coordinator) Shutdown() error {
	c.logger.Info("shutting down coordinator")
	c.stopOnce.Do(func() { close(c.stop) })

	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if running {
		<-c.done
	}

	if closer, ok := c.prober.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// poll applies one probe. A failed probe leaves the state untouched.
func (c *Coordinator) poll() {
	held, err := c.prober.Held()
	if err != nil {
		c.logger.Warn("Unable to probe counter lock", "error", err)
		return
	}

	want := Enabled
	if held {
		want = Disabled
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if want == c.state {
		return
	}

	n := c.target.Enable(want == Enabled)
	c.logger.Info("Counter state changed", "state", want, "counters", n)
	c.state = want
	c.tainted = true
}

// State returns the state last applied to the target
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Tainted reports whether the state changed since the previous call, and
// clears the flag
func (c *Coordinator) Tainted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.tainted
	c.tainted = false
	return t
}
