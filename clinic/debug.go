package clinic

import (
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const metricsPath = "/metrics"

// debugRouter serves Prometheus metrics and a health check, writing access logs to accessLog.
func debugRouter(accessLog io.Writer) http.Handler {
	r := mux.NewRouter()
	r.Handle(metricsPath, promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/debug/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet, http.MethodHead)

	return handlers.CombinedLoggingHandler(accessLog, r)
}

type debugServer struct {
	srv       *http.Server
	accessLog *io.PipeWriter
	log       *logrus.Entry
}

func newDebugServer(addr string, log *logrus.Entry) *debugServer {
	w := log.WriterLevel(logrus.DebugLevel)
	return &debugServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           debugRouter(w),
			ReadHeaderTimeout: 5 * time.Second,
		},
		accessLog: w,
		log:       log,
	}
}

func (s *debugServer) serve() {
	s.log.WithField("address", s.srv.Addr).Info("debug server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.WithError(err).Error("error listening on debug interface")
	}
}

// stop closes the server, then the access log pipe and its scanning goroutine.
func (s *debugServer) stop() {
	if err := s.srv.Close(); err != nil {
		s.log.WithError(err).Warn("failed to close debug server")
	}
	if err := s.accessLog.Close(); err != nil {
		s.log.WithError(err).Warn("failed to close debug server access log")
	}
}

// startDebugServer serves Prometheus metrics on addr in the background. The returned function shuts it down.
func startDebugServer(addr string, log *logrus.Entry) func() {
	s := newDebugServer(addr, log)
	go s.serve()
	return s.stop
}
