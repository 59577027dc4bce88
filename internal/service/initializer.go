// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"fmt"
	"log/slog"
)

// Init initializes services in order. When one fails, every service
// initialized before it is shut down in reverse order and the failure is
// returned.
func Init(logger *slog.Logger, services []Service) error {
	logger = orDefault(logger)

	initialized := make([]Service, 0, len(services))
	for _, s := range services {
		srv, ok := s.(Initializer)
		if !ok {
			continue
		}

		logger.Info("Initializing service", "service", s.Name())
		if err := srv.Init(); err != nil {
			logger.Error("Initialization failed, rolling back", "service", s.Name(), "error", err)
			shutdownReverse(logger, initialized)
			return fmt.Errorf("failed to initialize service %s: %w", s.Name(), err)
		}
		initialized = append(initialized, s)
	}
	return nil
}

// shutdownReverse calls Shutdown on every Shutdowner in services, last first.
func shutdownReverse(logger *slog.Logger, services []Service) {
	for i := len(services) - 1; i >= 0; i-- {
		s := services[i]
		srv, ok := s.(Shutdowner)
		if !ok {
			continue
		}
		if err := srv.Shutdown(); err != nil {
			logger.Warn("Shutdown failed", "service", s.Name(), "error", err)
			continue
		}
		logger.Debug("Shutdown complete", "service", s.Name())
	}
}
