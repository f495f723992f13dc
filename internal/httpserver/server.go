package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

const (
	DefaultReadHeaderTimeout = 15 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second

	// WriteMargin is added on top of the slowest upstream call so a timed out
	// request can still be answered.
	WriteMargin = 10 * time.Second
)

// Options tunes the server. ReadTimeout bounds the whole upload; WriteTimeout
// must outlast the backend request timeout. A zero ShutdownTimeout waits at
// least as long as WriteTimeout so in-flight requests can finish.
type Options struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server wraps http.Server with address validation and graceful shutdown.
type Server struct {
	server          *http.Server
	shutdownTimeout time.Duration
	inflight        sync.WaitGroup
}

// New creates a server for addr. The address is validated first.
func New(addr string, handler http.Handler, opts Options) (*Server, error) {
	if err := ValidateAddress(addr); err != nil {
		return nil, err
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = max(DefaultShutdownTimeout, opts.WriteTimeout)
	}

	s := &Server{shutdownTimeout: opts.ShutdownTimeout}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.track(handler),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}
	return s, nil
}

// track counts running handlers so Shutdown can wait for them after a forced
// close.
func (s *Server) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.inflight.Add(1)
		defer s.inflight.Done()
		next.ServeHTTP(w, r)
	})
}

// ShutdownTimeout is how long Shutdown waits for in-flight requests.
func (s *Server) ShutdownTimeout() time.Duration {
	return s.shutdownTimeout
}

// WriteTimeoutFor returns the write timeout that lets a request wait for a
// backend for up to requestTimeout and still get its answer.
func WriteTimeoutFor(requestTimeout time.Duration) time.Duration {
	return requestTimeout + WriteMargin
}

// Start listens on the configured address. It returns nil after Shutdown.
func (s *Server) Start() error {
	return ignoreClosed(s.server.ListenAndServe())
}

// Serve accepts connections on ln. It returns nil after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return ignoreClosed(s.server.Serve(ln))
}

// Shutdown stops accepting connections and waits for in-flight requests, at
// most the shutdown timeout. Past that it closes every connection, which
// cancels the remaining request contexts, and waits for their handlers to
// return before reporting the timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)
	if err != nil {
		s.server.Close()
		s.inflight.Wait()
	}
	return err
}

func ignoreClosed(err error) error {
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ValidateAddress checks a host:port listen address. It has the signature of
// a validation.RuleFunc.
func ValidateAddress(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if err := is.Port.Validate(port); err != nil || port == "" {
		return validation.NewError("validation_invalid_port", "must have a valid port")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}
