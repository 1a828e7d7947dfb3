package server

import (
	"context"
	_ "embed"
	"net"
	"net/http"
	"time"

	"github.com/andresmejia3/faced/internal/config"
	"github.com/andresmejia3/faced/internal/imageio"
	"github.com/andresmejia3/faced/internal/pipeline"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

//go:embed index.html
var indexHTML []byte

const shutdownTimeout = 10 * time.Second

// Server is the single-page detect-and-annotate tool. Every request is an
// independent pipeline run; nothing is kept between requests.
type Server struct {
	pipeline *pipeline.Pipeline
	decoder  imageio.Decoder
	cfg      *config.Config
	limiter  *rate.Limiter
	logger   *zap.SugaredLogger
	version  string
}

// New creates a server around p. logger may be nil.
func New(p *pipeline.Pipeline, cfg *config.Config, version string, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		pipeline: p,
		decoder:  cfg.Decoder(),
		cfg:      cfg,
		logger:   logger,
		version:  version,
	}
	if cfg.Server.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), max(cfg.Server.RateBurst, 1))
	}
	return s
}

// Handler returns the routed handler with request ids and access logs.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/detect", s.rateLimited(s.handleDetect))
	mux.HandleFunc("/api/detect/download", s.rateLimited(s.handleDownload))
	return s.withRequestID(s.withAccessLog(mux))
}

// Run serves on cfg.Server.Addr until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return errors.WithHint(
			errors.Wrapf(err, "failed to listen on %s", s.cfg.Server.Addr),
			"set server.addr (or FACED_SERVER_ADDR) to a free address",
		)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("Server listening", "addr", ln.Addr().String(), "detector", s.pipeline.Detector().Name())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "server failed")
	case <-ctx.Done():
	}

	s.logger.Infow("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "graceful shutdown failed")
	}
	return nil
}
