// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"net/http/pprof"

	"github.com/sustainable-computing-io/perfevent/internal/service"
)

const pprofPath = "/debug/pprof/"

type pp struct {
	api APIService
}

var _ service.Initializer = (*pp)(nil)

// NewPprof exposes the runtime profiles on api, for inspecting the cost of
// reading counters on large machines
func NewPprof(api APIService) *pp {
	return &pp{api: api}
}

func (p *pp) Name() string {
	return "pprof"
}

func (p *pp) Init() error {
	return p.api.Register(pprofPath, "pprof", "Profiling data", pprofHandlers())
}

func pprofHandlers() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(pprofPath, pprof.Index)
	mux.HandleFunc(pprofPath+"cmdline", pprof.Cmdline)
	mux.HandleFunc(pprofPath+"profile", pprof.Profile)
	mux.HandleFunc(pprofPath+"symbol", pprof.Symbol)
	mux.HandleFunc(pprofPath+"trace", pprof.Trace)
	return mux
}
