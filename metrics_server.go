package hypertracez

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// metricsTarget pairs the sink installed on a hub with the endpoint serving it.
type metricsTarget struct {
	sink   *PrometheusSink
	server *metricsServer
}

func startMetricsTarget(cfg MetricsConfig, logger *slog.Logger) (*metricsTarget, error) {
	sink, err := NewPrometheusSink(cfg, logger)
	if err != nil {
		return nil, err
	}
	server, err := startMetricsServer(cfg.Port, sink.Handler(), logger)
	if err != nil {
		return nil, err
	}
	return &metricsTarget{sink: sink, server: server}, nil
}

// metricsServer is the pull endpoint. It runs until Stop.
type metricsServer struct {
	srv    *http.Server
	ln     net.Listener
	done   chan struct{}
	logger *slog.Logger
}

func startMetricsServer(port int, handler http.Handler, logger *slog.Logger) (*metricsServer, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("metrics port %d out of range", port)
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on metrics port %d: %w", port, err)
	}

	s := &metricsServer{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:     ln,
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.serve()

	logger.Info("metrics endpoint started", slog.String("addr", ln.Addr().String()))
	return s, nil
}

func (s *metricsServer) serve() {
	defer close(s.done)
	if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("metrics endpoint failed", slog.Any("error", err))
	}
}

// Addr returns the listener address.
func (s *metricsServer) Addr() string {
	return s.ln.Addr().String()
}

// Stop shuts the endpoint down and waits for the serve goroutine to exit.
func (s *metricsServer) Stop(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	if err != nil {
		// Deadline hit: drop remaining connections.
		_ = s.srv.Close()
	}
	<-s.done

	s.logger.Info("metrics endpoint stopped", slog.String("addr", s.Addr()))
	if err != nil {
		return fmt.Errorf("stop metrics endpoint: %w", err)
	}
	return nil
}
