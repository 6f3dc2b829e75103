package metricshttp

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves /metrics and /health on a dedicated listener. It has no
// dependency on the pipeline's own lifecycle: a scrape failing or a health
// check returning unhealthy never affects the conductor's relay loop.
type Server struct {
	addr string
	reg  *prometheus.Registry
	srv  *http.Server
}

// NewServer builds a Server bound to addr, and returns the Registerer its
// metrics must be registered with.
func NewServer(addr string) (*Server, prometheus.Registerer) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", handleHealth)

	return &Server{
		addr: addr,
		reg:  reg,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}, reg
}

type healthResponse struct {
	Status string `json:"status"`
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok"})
}

// ListenAndServe starts the listener and blocks until ctx is cancelled or the
// server fails. It always returns a non-nil error; http.ErrServerClosed on a
// clean shutdown is the caller's signal to ignore the error.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		_ = s.srv.Close()
		<-errCh
		return http.ErrServerClosed
	case err := <-errCh:
		return err
	}
}
