package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// TransportChecker abstracts reachability of a configured RIB or
// next-hop transport for /readyz, the same small-fake-over-interface
// pattern the teacher used for its Kafka ConsumerStatus check.
type TransportChecker interface {
	Ping(ctx context.Context) error
}

// DBChecker abstracts the audit database health check for testability.
type DBChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	srv            *http.Server
	dbChecker      DBChecker
	ribTransports  map[string]TransportChecker
	nextHopChecker TransportChecker
	logger         *zap.Logger
}

// NewServer builds the HTTP surface. dbChecker may be nil when the audit
// writer (§9.5) is not configured — /readyz then reports audit as
// disabled rather than failing.
func NewServer(addr string, dbChecker DBChecker, ribTransports map[string]TransportChecker, nextHopChecker TransportChecker, logger *zap.Logger) *Server {
	s := &Server{
		dbChecker:      dbChecker,
		ribTransports:  ribTransports,
		nextHopChecker: nextHopChecker,
		logger:         logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	allOK := true

	if s.dbChecker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		if err := s.dbChecker.Ping(ctx); err != nil {
			checks["audit"] = "error"
			allOK = false
		} else {
			checks["audit"] = "ok"
		}
		cancel()
	} else {
		checks["audit"] = "disabled"
	}

	for name, checker := range s.ribTransports {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		if err := checker.Ping(ctx); err != nil {
			checks["ribclient_"+name] = "error"
			allOK = false
		} else {
			checks["ribclient_"+name] = "ok"
		}
		cancel()
	}

	if s.nextHopChecker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		if err := s.nextHopChecker.Ping(ctx); err != nil {
			checks["nexthop"] = "error"
			allOK = false
		} else {
			checks["nexthop"] = "ok"
		}
		cancel()
	} else {
		checks["nexthop"] = "error"
		allOK = false
	}

	w.Header().Set("Content-Type", "application/json")
	status := "ready"
	httpStatus := http.StatusOK
	if !allOK {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}
