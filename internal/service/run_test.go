// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runAsync(ctx context.Context, services []Service) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(ctx, nil, services)
	}()
	return errCh
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		require.FailNow(t, "Run did not return")
		return nil
	}
}

func TestRun(t *testing.T) {
	t.Run("cancel stops all runners", func(t *testing.T) {
		rec := &recorder{}
		ctx, cancel := context.WithCancel(context.Background())
		started := make(chan struct{}, 2)
		block := func(ctx context.Context) error {
			started <- struct{}{}
			return blockUntilDone(ctx)
		}
		services := []Service{
			&runShutdown{named: named{"coordinator", rec}, runFn: block},
			&runOnly{named: named{"exporter", rec}, runFn: block},
		}

		errCh := runAsync(ctx, services)
		<-started
		<-started
		cancel()

		assert.ErrorIs(t, waitErr(t, errCh), context.Canceled)
		assert.Contains(t, rec.list(), "shutdown:coordinator")
	})

	t.Run("first failure stops the group", func(t *testing.T) {
		rec := &recorder{}
		runErr := errors.New("listen failed")
		services := []Service{
			&runShutdown{named: named{"server", rec}, runFn: func(context.Context) error { return runErr }},
			&runShutdown{named: named{"coordinator", rec}, runFn: blockUntilDone},
		}

		err := waitErr(t, runAsync(context.Background(), services))
		assert.ErrorIs(t, err, runErr)

		calls := rec.list()
		assert.Contains(t, calls, "shutdown:server")
		assert.Contains(t, calls, "shutdown:coordinator")
	})

	t.Run("passive services shut down after runners", func(t *testing.T) {
		rec := &recorder{}
		services := []Service{
			&shutdownOnly{named{"topology", rec}},
			&shutdownOnly{named{"manager", rec}},
			&runShutdown{named: named{"signal", rec}, runFn: func(context.Context) error { return nil }},
		}

		assert.NoError(t, waitErr(t, runAsync(context.Background(), services)))
		assert.Equal(t, []string{
			"run:signal", "shutdown:signal",
			"shutdown:manager", "shutdown:topology",
		}, rec.list())
	})

	t.Run("no runners waits for context", func(t *testing.T) {
		rec := &recorder{}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := waitErr(t, runAsync(ctx, []Service{&shutdownOnly{named{"manager", rec}}}))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, []string{"shutdown:manager"}, rec.list())
	})
}
