// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"sync"
)

// recorder collects lifecycle calls across services in the order they happen
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type named struct {
	name string
	rec  *recorder
}

func (n *named) Name() string { return n.name }

type initShutdown struct {
	named
	initErr     error
	shutdownErr error
}

func (s *initShutdown) Init() error {
	s.rec.add("init:" + s.name)
	return s.initErr
}

func (s *initShutdown) Shutdown() error {
	s.rec.add("shutdown:" + s.name)
	return s.shutdownErr
}

type initOnly struct {
	named
	initErr error
}

func (s *initOnly) Init() error {
	s.rec.add("init:" + s.name)
	return s.initErr
}

type shutdownOnly struct {
	named
}

func (s *shutdownOnly) Shutdown() error {
	s.rec.add("shutdown:" + s.name)
	return nil
}

type runShutdown struct {
	named
	runFn func(ctx context.Context) error
}

func (s *runShutdown) Run(ctx context.Context) error {
	s.rec.add("run:" + s.name)
	return s.runFn(ctx)
}

func (s *runShutdown) Shutdown() error {
	s.rec.add("shutdown:" + s.name)
	return nil
}

type runOnly struct {
	named
	runFn func(ctx context.Context) error
}

func (s *runOnly) Run(ctx context.Context) error {
	s.rec.add("run:" + s.name)
	return s.runFn(ctx)
}

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
