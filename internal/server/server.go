// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/exporter-toolkit/web"

	"github.com/sustainable-computing-io/perfevent/config"
	"github.com/sustainable-computing-io/perfevent/internal/service"
)

// ErrDuplicateEndpoint is returned when an endpoint is registered twice
var ErrDuplicateEndpoint = errors.New("endpoint already registered")

// shutdownTimeout bounds how long in-flight requests may take on Shutdown
const shutdownTimeout = 5 * time.Second

// APIService is the HTTP server other services register endpoints on
type APIService interface {
	service.Service
	Register(endpoint, summary, description string, handler http.Handler) error
}

type endpoint struct {
	path        string
	summary     string
	description string
}

// APIServer serves the registered endpoints through the exporter-toolkit,
// which adds TLS and basic auth from an optional web config file.
type APIServer struct {
	logger    *slog.Logger
	server    *http.Server
	mux       *http.ServeMux
	webConfig *web.FlagConfig

	mu        sync.RWMutex
	endpoints []endpoint
}

var (
	_ APIService          = (*APIServer)(nil)
	_ service.Initializer = (*APIServer)(nil)
	_ service.Runner      = (*APIServer)(nil)
	_ service.Shutdowner  = (*APIServer)(nil)
)

type Opts struct {
	logger    *slog.Logger
	webConfig *web.FlagConfig
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the APIServer
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithListen sets the listen addresses and the web config file
func WithListen(addrs []string, configFile string) OptionFn {
	return func(o *Opts) {
		o.webConfig = &web.FlagConfig{
			WebListenAddresses: &addrs,
			WebConfigFile:      &configFile,
		}
	}
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	configFile := ""
	return Opts{
		logger: slog.Default(),
		webConfig: &web.FlagConfig{
			WebListenAddresses: &[]string{config.DefaultListenAddress},
			WebConfigFile:      &configFile,
		},
	}
}

// NewAPIServer creates an APIServer; nothing listens until Run
func NewAPIServer(applyOpts ...OptionFn) *APIServer {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	mux := http.NewServeMux()
	return &APIServer{
		logger:    opts.logger.With("service", "api-server"),
		mux:       mux,
		server:    &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		webConfig: opts.webConfig,
	}
}

func (s *APIServer) Name() string {
	return "api-server"
}

// Init installs the landing page listing every registered endpoint
func (s *APIServer) Init() error {
	s.mux.HandleFunc("/", s.landingPage)
	return nil
}

func (s *APIServer) landingPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.mu.RLock()
	var items strings.Builder
	for _, ep := range s.endpoints {
		fmt.Fprintf(&items, "\t<li><a href=\"%s\">%s</a> %s</li>\n",
			html.EscapeString(ep.path), html.EscapeString(ep.summary), html.EscapeString(ep.description))
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := fmt.Fprintf(w, `<html>
<head><title>perfevent</title></head>
<body>
<h1>perfevent</h1>
<p>Available endpoints:</p>
<ul>
%s</ul>
</body>
</html>`, items.String())
	if err != nil {
		s.logger.Error("Failed to write landing page", "error", err)
	}
}

// Run serves until ctx is done or the listener fails
func (s *APIServer) Run(ctx context.Context) error {
	s.logger.Info("Starting API server", "addresses", *s.webConfig.WebListenAddresses)

	errCh := make(chan error, 1)
	go func() {
		errCh <- web.ListenAndServe(s.server, s.webConfig, s.logger)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error("API server failed", "error", err)
		return err
	}
}

// Shutdown stops the listener and waits for in-flight requests
func (s *APIServer) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Register adds handler under endpoint and lists it on the landing page
func (s *APIServer) Register(path, summary, description string, handler http.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ep := range s.endpoints {
		if ep.path == path {
			return fmt.Errorf("%w: %s", ErrDuplicateEndpoint, path)
		}
	}
	s.mux.Handle(path, handler)
	s.endpoints = append(s.endpoints, endpoint{path: path, summary: summary, description: description})
	s.logger.Debug("Endpoint registered", "endpoint", path)
	return nil
}
