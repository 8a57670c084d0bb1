// Package readapi implements the durable log's read-only HTTP surface:
// in-process handlers behind a short-TTL cache, never touching the
// correlator/emitter's write path.
package readapi

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"gemwatch/internal/fanout"
)

// Server exposes the six read-only endpoints of spec §4.7 over net/http,
// each handler wrapped with otelhttp for request spans and latency.
type Server struct {
	mux *http.ServeMux

	cache      *cache
	registry   fanout.SubscriberRegistry
	emergency  string
	backupGlob string
	log        logrus.FieldLogger
}

// New builds a Server reading the log at source.Path() and (optionally)
// subscriber counts from registry. registry may be nil to omit
// subscriber counts from /api/stats.
func New(source LogSource, registry fanout.SubscriberRegistry, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	path := source.Path()
	s := &Server{
		cache:      newCache(source),
		registry:   registry,
		emergency:  path + ".emergency",
		backupGlob: path + ".bak.*",
		log:        log,
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/api/alerts/recent", s.handleRecent)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	s.mux.HandleFunc("/api/alerts/tiers", s.handleTiers)
	s.mux.HandleFunc("/api/alerts/stats/daily", s.handleDaily)
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/cache/refresh", s.handleCacheRefresh)
	return s
}

// ServeHTTP implements http.Handler: applies permissive CORS per spec
// §4.7 ("cross-origin access is permitted from any origin") and delegates
// to the otelhttp-wrapped mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	otelhttp.NewHandler(s.mux, "readapi").ServeHTTP(w, r)
}

func (s *Server) backupCount() int {
	matches, err := filepath.Glob(s.backupGlob)
	if err != nil {
		return 0
	}
	return len(matches)
}

func (s *Server) emergencyPresent() bool {
	_, err := os.Stat(s.emergency)
	return err == nil
}
