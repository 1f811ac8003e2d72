package metrics

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/AmmannChristian/go-authx/httpserver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const baseURLV1 = "/api/v1"

// Server exposes Prometheus metrics on /api/v1/metrics and a liveness check on
// /api/v1/health while an audit run is in progress. With WithStatus it also
// serves a JSON progress document on /api/v1/status.
type Server struct {
	addr   string
	server *http.Server
	status func() any
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithStatus serves the JSON encoding of fn's result on /api/v1/status.
func WithStatus(fn func() any) ServerOption {
	return func(s *Server) { s.status = fn }
}

// NewServer creates a metrics HTTP server for addr ("host:port"). Metrics are
// gathered from gatherer, or from prometheus.DefaultGatherer when nil.
//
// Example:
//
//	metricsServer := metrics.NewServer("127.0.0.1:8080", nil)
//	go func() {
//	    if err := metricsServer.Start(); err != nil {
//	        log.Printf("metrics: %v", err)
//	    }
//	}()
func NewServer(addr string, gatherer prometheus.Gatherer, opts ...ServerOption) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{addr: addr}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.Handle(baseURLV1+"/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc(baseURLV1+"/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Printf("metrics: health handler write error: %v", err)
		}
	})
	if s.status != nil {
		mux.HandleFunc(baseURLV1+"/status", s.handleStatus)
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.status()); err != nil {
		log.Printf("metrics: status handler write error: %v", err)
	}
}

// Start serves HTTP requests until Shutdown is called. A graceful shutdown
// returns nil.
func (s *Server) Start() error {
	if s.server == nil {
		return errors.New("metrics server not initialized")
	}

	log.Printf("metrics: starting HTTP server on %s", s.addr)

	if err := validateAddress(s.addr); err != nil {
		return fmt.Errorf("metrics: invalid address %q: %w", s.addr, err)
	}

	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: HTTP server error: %w", err)
	}

	log.Println("metrics: HTTP server stopped")
	return nil
}

// StartTLS serves HTTPS requests until Shutdown is called. caFile is optional
// and enables client certificate verification according to clientAuth.
func (s *Server) StartTLS(certFile, keyFile, caFile string, clientAuth tls.ClientAuthType) error {
	if s.server == nil {
		return errors.New("metrics server not initialized")
	}

	log.Printf("metrics: starting HTTPS server on %s", s.addr)

	if err := validateAddress(s.addr); err != nil {
		return fmt.Errorf("metrics: invalid address %q: %w", s.addr, err)
	}

	tlsConfig := &httpserver.TLSConfig{
		CertFile:   certFile,
		KeyFile:    keyFile,
		CAFile:     caFile,
		ClientAuth: clientAuth,
	}
	if err := httpserver.ConfigureServer(s.server, tlsConfig); err != nil {
		return fmt.Errorf("metrics: configure TLS: %w", err)
	}
	if caFile != "" {
		log.Printf("metrics: verifying client certificates against %s", caFile)
	}

	err := s.server.ListenAndServeTLS("", "")
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: HTTPS server error: %w", err)
	}

	log.Println("metrics: HTTPS server stopped")
	return nil
}

// Shutdown gracefully stops the HTTP server within the deadline of ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Println("metrics: shutting down HTTP server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics: shutdown error: %w", err)
	}

	log.Println("metrics: HTTP server shutdown complete")
	return nil
}

// validateAddress checks that addr is host:port with a port and a resolvable host.
func validateAddress(addr string) error {
	if addr == "" {
		return errors.New("empty address")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid host:port format: %w", err)
	}
	if port == "" {
		return errors.New("port is required")
	}

	// Empty or wildcard host listens on all interfaces.
	if host == "" || host == "0.0.0.0" || host == "::" {
		return nil
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if _, err := net.LookupHost(host); err != nil {
		return fmt.Errorf("cannot resolve host %q: %w", host, err)
	}
	return nil
}
