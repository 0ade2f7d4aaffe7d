package httpserver

import (
	"net/http"
	"time"
)

// New builds the API server. Only the header read is bounded here: a manual
// sync trigger blocks until the whole pass finishes, so a write timeout would
// cut off exactly the slow responses the endpoint exists for. Upstream
// slowness is bounded per fetch by the source timeouts instead.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
