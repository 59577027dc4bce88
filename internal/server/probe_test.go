// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeCounters []string

func (f fakeCounters) Events() []string { return f }

func probeMux(t *testing.T, counters CounterSource) http.Handler {
	t.Helper()
	var handler http.Handler
	api := &mockAPIService{}
	api.On("Register", "/probe/", "probe", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { handler = args.Get(3).(http.Handler) }).
		Return(nil)

	p := NewProbe(api, counters, quietLogger())
	require.NoError(t, p.Init())
	api.AssertExpectations(t)
	return handler
}

func TestProbe(t *testing.T) {
	tt := []struct {
		name     string
		counters fakeCounters
		path     string
		method   string
		code     int
		status   string
		events   int
	}{
		{name: "live", counters: nil, path: "/probe/livez", method: http.MethodGet, code: http.StatusOK, status: "alive"},
		{name: "ready", counters: fakeCounters{"instructions", "cycles"}, path: "/probe/readyz", method: http.MethodGet, code: http.StatusOK, status: "ok", events: 2},
		{name: "not ready", counters: fakeCounters{}, path: "/probe/readyz", method: http.MethodGet, code: http.StatusServiceUnavailable, status: "not ready"},
		{name: "post rejected", counters: fakeCounters{"cycles"}, path: "/probe/readyz", method: http.MethodPost, code: http.StatusMethodNotAllowed},
		{name: "post rejected live", counters: nil, path: "/probe/livez", method: http.MethodPost, code: http.StatusMethodNotAllowed},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			mux := probeMux(t, tc.counters)
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))

			assert.Equal(t, tc.code, rr.Code)
			if tc.status == "" {
				return
			}
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var body probeResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tc.status, body.Status)
			assert.Equal(t, tc.events, body.Events)
		})
	}
}
