package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"onemeter-mqtt-bridge/pkg/logger"
)

// Server exposes the operational endpoints: /health, /metrics and the
// /ws live stream.
type Server struct {
	server *http.Server
}

// NewServer wires the endpoints onto one mux. wsHandler may be nil to
// run without the live stream.
func NewServer(port int, health *HealthHandler, gatherer prometheus.Gatherer, wsHandler http.Handler) *Server {
	mux := http.NewServeMux()
	mux.Handle("/health", health)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if wsHandler != nil {
		mux.Handle("/ws", wsHandler)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html>
<head><title>OneMeter MQTT Bridge</title></head>
<body>
<h1>OneMeter MQTT Bridge</h1>
<ul>
<li><a href="/health">Health Check</a></li>
<li><a href="/metrics">Metrics</a></li>
<li><code>/ws</code> live snapshot stream</li>
</ul>
</body>
</html>`)
	})

	// No WriteTimeout: the /ws stream is long-lived and a write deadline
	// would sever it.
	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Start serves until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.LogStartup("HTTP endpoint listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
