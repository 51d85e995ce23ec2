package httpserver

import (
	"net/http"
	"time"
)

// New builds the API server. Read timeouts are short because every
// endpoint takes small JSON bodies; writes are left to the per-route
// timeout middleware.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
