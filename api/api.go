// Copyright (c) 2025 The Harbor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	poolapi "github.com/harborlabs/harbor/api/pool"
	"github.com/harborlabs/harbor/log"
	"github.com/harborlabs/harbor/metrics"
	"github.com/harborlabs/harbor/pool"
)

var logger = log.WithContext("pkg", "api")

// Options tunes the assembled handler.
type Options struct {
	AllowedOrigins  string
	PprofOn         bool
	EnableMetrics   bool
	EnableReqLogger bool
}

// New assembles the http handler exposing pool state.
func New(p *pool.Pool, block poolapi.BlockSource, opts Options) http.HandlerFunc {
	origins := strings.Split(strings.TrimSpace(opts.AllowedOrigins), ",")
	for i, o := range origins {
		origins[i] = strings.ToLower(strings.TrimSpace(o))
	}

	router := mux.NewRouter()

	poolapi.New(p, block).
		Mount(router, "/pool")

	if opts.PprofOn {
		router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		router.HandleFunc("/debug/pprof/profile", pprof.Profile)
		router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		router.HandleFunc("/debug/pprof/trace", pprof.Trace)
		router.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	}

	if opts.EnableMetrics {
		if h := metrics.HTTPHandler(); h != nil {
			router.Path("/metrics").Handler(h)
		}
		router.Use(metricsMiddleware)
	}

	handler := handlers.CompressHandler(router)
	handler = handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedHeaders([]string{"content-type"}),
	)(handler)

	if opts.EnableReqLogger {
		handler = requestLoggerHandler(handler, logger)
	}

	return handler.ServeHTTP
}

func requestLoggerHandler(handler http.Handler, logger log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info("incoming request",
			"uri", r.URL.String(),
			"method", r.Method,
			"remote", r.RemoteAddr,
		)
		handler.ServeHTTP(w, r)
	})
}
