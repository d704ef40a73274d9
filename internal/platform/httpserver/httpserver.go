package httpserver

import (
	"errors"
	"net/http"
	"time"
)

type Option func(*http.Server)

// WithWriteTimeout bounds the time to read an upload body and write the reply.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *http.Server) {
		s.ReadTimeout = d
		s.WriteTimeout = d
	}
}

// New builds the API server. Read and write default to 60s because uploads
// stream up to the intake size limit.
func New(addr string, handler http.Handler, opts ...Option) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// ListenAndServe blocks until srv stops. A graceful Shutdown is not an error.
func ListenAndServe(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
