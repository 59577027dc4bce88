// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sustainable-computing-io/perfevent/internal/service"
)

// CounterSource reports the events that were programmed successfully
type CounterSource interface {
	Events() []string
}

type probeResponse struct {
	Status string `json:"status"`
	Events int    `json:"events,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type probe struct {
	logger   *slog.Logger
	api      APIService
	counters CounterSource
}

var _ service.Initializer = (*probe)(nil)

// NewProbe creates the /probe/livez and /probe/readyz endpoints. The daemon
// is ready once at least one event is programmed.
func NewProbe(api APIService, counters CounterSource, logger *slog.Logger) *probe {
	if logger == nil {
		logger = slog.Default()
	}
	return &probe{
		logger:   logger.With("service", "probe"),
		api:      api,
		counters: counters,
	}
}

func (p *probe) Name() string {
	return "probe"
}

func (p *probe) Init() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/probe/livez", p.livez)
	mux.HandleFunc("/probe/readyz", p.readyz)
	return p.api.Register("/probe/", "probe", "Liveness and readiness checks", mux)
}

func (p *probe) livez(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p.respond(w, http.StatusOK, probeResponse{Status: "alive"})
}

func (p *probe) readyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	n := len(p.counters.Events())
	if n == 0 {
		p.respond(w, http.StatusServiceUnavailable, probeResponse{Status: "not ready", Reason: "no counters programmed"})
		return
	}
	p.respond(w, http.StatusOK, probeResponse{Status: "ok", Events: n})
}

func (p *probe) respond(w http.ResponseWriter, code int, body probeResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		p.logger.Error("Failed to encode probe response", "error", err)
	}
}
