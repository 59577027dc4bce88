// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"io"
	"log/slog"

	"github.com/oklog/run"
)

// Run runs every Runner in its own actor until the first one returns or ctx
// is cancelled. Each runner that also implements Shutdowner is shut down as
// its actor is interrupted. Services that only implement Shutdowner, such as
// the counter manager, are shut down after all runners have stopped, in
// reverse order.
func Run(outer context.Context, logger *slog.Logger, services []Service) error {
	logger = orDefault(logger)

	ctx, cancel := context.WithCancel(outer)
	defer cancel()

	var g run.Group
	passive := make([]Service, 0, len(services))
	for _, s := range services {
		r, ok := s.(Runner)
		if !ok {
			passive = append(passive, s)
			continue
		}
		addRunner(&g, ctx, cancel, logger, r)
	}

	// keeps the group alive until ctx is done when no service blocks
	done := make(chan struct{})
	g.Add(func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return nil
		}
	}, func(error) {
		close(done)
	})

	logger.Info("Running services", "runners", len(services)-len(passive))
	err := g.Run()
	shutdownReverse(logger, passive)
	return err
}

func addRunner(g *run.Group, ctx context.Context, cancel context.CancelFunc, logger *slog.Logger, r Runner) {
	g.Add(
		func() error {
			logger.Info("Running service", "service", r.Name())
			return r.Run(ctx)
		},
		func(err error) {
			cancel()
			if err != nil {
				logger.Warn("Service terminated", "service", r.Name(), "reason", err)
			}
			if s, ok := r.(Shutdowner); ok {
				if err := s.Shutdown(); err != nil {
					logger.Warn("Shutdown failed", "service", r.Name(), "error", err)
				}
			}
		},
	)
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
