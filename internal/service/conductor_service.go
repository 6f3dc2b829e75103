// Package service wires the conductor's configuration into a running
// pipeline: one Connector per component, the control-channel handler, the
// optional MCP HTTP bridge, and the router that ties them together.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	acpconnector "github.com/acpconductor/conductor/internal/adapter/connector"
	"github.com/acpconductor/conductor/internal/adapter/inbound/metricshttp"
	"github.com/acpconductor/conductor/internal/config"
	"github.com/acpconductor/conductor/internal/domain/httpbridge"
	"github.com/acpconductor/conductor/internal/domain/mcpbridge"
	"github.com/acpconductor/conductor/internal/domain/pipeline"
	"github.com/acpconductor/conductor/internal/domain/queue"
	"github.com/acpconductor/conductor/internal/domain/router"
	"github.com/acpconductor/conductor/internal/port/connector"
)

// ErrConfig marks a configuration problem caught before any pipeline
// component was started. The cmd layer maps this to exit code 2.
var ErrConfig = errors.New("service: invalid configuration")

// queueCapacity sizes the router's central message queue. A positive
// capacity lets the router's task push frames ahead of the queue's consumer
// without affecting delivery order (§5).
const queueCapacity = 64

// ConductorService builds and runs one conductor pipeline for the lifetime
// of a process: exactly one call to Run.
type ConductorService struct {
	cfg      *config.Config
	registry *mcpbridge.Registry
	log      *slog.Logger
}

// NewConductorService creates a ConductorService. registry is the tool
// server registry tools were registered into before Run is called (the
// conductor itself registers none; that is the embedding application's job
// — §3 "ToolServer ... registered before a session/new that references its
// URL").
func NewConductorService(cfg *config.Config, registry *mcpbridge.Registry, log *slog.Logger) *ConductorService {
	if log == nil {
		log = slog.Default()
	}
	return &ConductorService{cfg: cfg, registry: registry, log: log}
}

// Run builds the pipeline's connectors, the control-channel handler, the
// optional HTTP bridge, and the router, then blocks on router.Run until a
// fatal fault or ctx cancellation. stdin/stdout are the conductor's own
// process streams, which carry the client hop.
func (s *ConductorService) Run(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	proxyNames := make([]string, len(s.cfg.Pipeline.Proxies))
	for i, p := range s.cfg.Pipeline.Proxies {
		proxyNames[i] = p.Name
	}
	pl := pipeline.New(proxyNames)

	connectors := make([]connector.Connector, len(pl.Components))
	connectors[0] = acpconnector.NewPipe(stdin, stdout)
	for i, p := range s.cfg.Pipeline.Proxies {
		c, err := s.buildConnector(p)
		if err != nil {
			return err
		}
		connectors[i+1] = c
	}
	agentConnector, err := s.buildConnector(s.cfg.Pipeline.Agent)
	if err != nil {
		return err
	}
	connectors[pl.AgentIndex()] = agentConnector

	handler := mcpbridge.NewHandler(s.registry)

	var metrics *metricshttp.Metrics
	var metricsSrv *metricshttp.Server
	if s.cfg.Metrics.Enabled {
		var reg prometheus.Registerer
		metricsSrv, reg = metricshttp.NewServer(s.cfg.Metrics.Addr)
		metrics = metricshttp.NewMetrics(reg)
	}

	hooks := router.Hooks{
		IsControlMethod:     mcpbridge.IsControlMethod,
		HandleControlMethod: handler.Dispatch,
		OnForward:           s.logForward,
	}
	if metrics != nil {
		hooks.OnForward = func(direction pipeline.Direction, method string, wrapped bool) {
			s.logForward(direction, method, wrapped)
			metrics.OnForward(direction, method, wrapped)
		}
		hooks.OnPendingChange = metrics.SetPendingRequests
	}

	var bridge *httpbridge.Bridge
	if s.cfg.Bridge.Enabled {
		bridge = httpbridge.New(s.cfg.Bridge.BindAddr, handler, s.log)
		hooks.RewriteSessionNew = bridge.RewriteSessionNew
		hooks.PublishSessionID = bridge.PublishSessionID
		if metrics != nil {
			bridge.OnResponse = metrics.ObserveBridgeStatus
		}
	}

	q := queue.New(queueCapacity)
	rtr, err := router.New(pl, connectors, q, s.log, hooks)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	if metricsSrv != nil {
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go func() {
			if err := metricsSrv.ListenAndServe(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Warn("metrics server exited", "error", err)
			}
		}()
	}

	runErr := rtr.Run(ctx)
	if bridge != nil {
		_ = bridge.Close()
	}
	return runErr
}

// buildConnector instantiates the Connector adapter a ComponentConfig names.
// Only "stdio" is constructible here. Config validation accepts "inprocess",
// but it has no on-disk representation, so a component of that kind (or any
// other) is rejected with ErrConfig.
func (s *ConductorService) buildConnector(cc config.ComponentConfig) (connector.Connector, error) {
	switch cc.Kind {
	case "stdio":
		return acpconnector.NewStdio(cc.Command, cc.Args...), nil
	default:
		return nil, fmt.Errorf("%w: component %q: connector kind %q is not constructible from configuration", ErrConfig, cc.Name, cc.Kind)
	}
}

// logForward emits one debug log line per forwarded frame, keyed by method
// and direction rather than payload content.
func (s *ConductorService) logForward(direction pipeline.Direction, method string, wrapped bool) {
	s.log.Debug("router: forwarded frame",
		"direction", direction,
		"method", method,
		"wrapped", wrapped,
	)
}

// ExitCode maps a Run (or configuration-loading) error to the conductor's
// exit code taxonomy (§SUPPLEMENTAL "exit code taxonomy"): 0 normal, 1
// generic component fault, 2 configuration error, 3 proxy handshake
// rejection.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, router.ErrHandshakeRejected):
		return 3
	case errors.Is(err, ErrConfig):
		return 2
	default:
		return 1
	}
}
