// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import "context"

// Service is a named component of the perfevent daemon
type Service interface {
	Name() string
}

// Initializer is a service that must be prepared before anything runs
type Initializer interface {
	Service
	Init() error
}

// Runner is a service that blocks in the background until ctx is done
type Runner interface {
	Service
	Run(ctx context.Context) error
}

// Shutdowner is a service that releases resources on exit
type Shutdowner interface {
	Service
	// Shutdown must be safe to call more than once
	Shutdown() error
}
