package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/prattlelabs/prattle-core/internal/bus"
	"github.com/prattlelabs/prattle-core/internal/config"
	"github.com/prattlelabs/prattle-core/internal/ingest"
	"github.com/prattlelabs/prattle-core/internal/natsserver"
	"github.com/prattlelabs/prattle-core/internal/observe"
	"github.com/prattlelabs/prattle-core/internal/presence"
	"github.com/prattlelabs/prattle-core/internal/recognizer"
	"github.com/prattlelabs/prattle-core/internal/sink"
	"github.com/prattlelabs/prattle-core/internal/transcriptstore"
)

const shutdownTimeout = 10 * time.Second

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer  *http.Server
	tracerClose func(context.Context) error
	embedded    *natsserver.EmbeddedServer
	busClient   *bus.Client
	store       *transcriptstore.Store
	sinks       *sink.Multi
	ingest      *ingest.Service
	presence    *presence.Registry

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start wires the consolidation runtime together and blocks until ctx is
// done, then shuts the pieces down in reverse start order.
func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		r.closeAll(context.Background())
		return fmt.Errorf("failed to create metric instruments: %w", err)
	}

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		r.closeAll(context.Background())
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	r.embedded = embedded

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		r.closeAll(context.Background())
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.busClient = busClient

	store, err := transcriptstore.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		r.closeAll(context.Background())
		return fmt.Errorf("failed to open transcript store: %w", err)
	}
	r.store = store

	rec, err := recognizer.New(r.cfg.Recognizer, r.logger, metrics)
	if err != nil {
		r.closeAll(context.Background())
		return fmt.Errorf("failed to build recognizer: %w", err)
	}

	sinks := sink.NewMulti(metrics)
	if r.cfg.Output.Stdout {
		sinks.Add("stdout", sink.NewWriter(os.Stdout, r.cfg.Output.Newline, r.cfg.Output.Interim))
	}
	if r.cfg.Output.Publish {
		busSink, err := sink.NewBus(busClient, r.cfg.Output.Durable)
		if err != nil {
			r.closeAll(context.Background())
			return fmt.Errorf("failed to build bus sink: %w", err)
		}
		sinks.Add("bus", busSink)
	}
	if r.cfg.Store.RetentionMode != "ephemeral" {
		sinks.Add("store", sink.NewStore(store))
	}
	r.sinks = sinks

	svc := ingest.NewService(ctx, r.cfg, busClient, rec, sinks, store, r.logger, metrics)
	if err := svc.Start(); err != nil {
		r.closeAll(context.Background())
		return fmt.Errorf("failed to start ingest service: %w", err)
	}
	r.ingest = svc

	registry, err := presence.NewRegistry(ctx, r.nodeConfig(), busClient, r.logger)
	if err != nil {
		r.closeAll(context.Background())
		return fmt.Errorf("failed to start presence registry: %w", err)
	}
	r.presence = registry

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/nodes", r.handleNodes)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	r.closeAll(shutdownCtx)

	return nil
}

// closeAll releases services in reverse start order. Safe with any subset
// wired, so error paths during Start reuse it.
func (r *Runtime) closeAll(ctx context.Context) {
	if r.presence != nil {
		r.presence.Close()
		r.presence = nil
	}
	if r.ingest != nil {
		r.ingest.Close()
		r.ingest = nil
	}
	if r.sinks != nil {
		if err := r.sinks.Close(ctx); err != nil {
			r.logger.Warn("sink close error", slog.String("error", err.Error()))
		}
		r.sinks = nil
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("store close error", slog.String("error", err.Error()))
		}
		r.store = nil
	}
	if r.busClient != nil {
		r.busClient.Close()
		r.busClient = nil
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
		r.embedded = nil
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
		r.tracerClose = nil
	}
}

// nodeConfig enriches the advertised transcribe capability with the
// recognizer's mode and language so peers can route by them.
func (r *Runtime) nodeConfig() config.NodeConfig {
	node := r.cfg.Node
	caps := make([]config.NodeCapability, len(node.Capabilities))
	copy(caps, node.Capabilities)
	for i, c := range caps {
		if c.Name != "transcribe" {
			continue
		}
		attrs := make(map[string]string, len(c.Attributes)+2)
		for k, v := range c.Attributes {
			attrs[k] = v
		}
		if _, ok := attrs["mode"]; !ok {
			attrs["mode"] = r.cfg.Recognizer.Mode
		}
		if _, ok := attrs["language"]; !ok {
			attrs["language"] = r.cfg.Recognizer.Language
		}
		caps[i].Attributes = attrs
	}
	node.Capabilities = caps
	return node
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, req *http.Request) {
	if r.isReady(req.Context()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) isReady(ctx context.Context) bool {
	if !r.ready.Load() {
		return false
	}
	if r.busClient == nil || !r.busClient.Healthy() {
		return false
	}
	if r.store == nil || !r.store.Healthy(ctx) {
		return false
	}
	if r.ingest == nil || !r.ingest.Healthy() {
		return false
	}
	return true
}

func (r *Runtime) handleNodes(w http.ResponseWriter, req *http.Request) {
	registry := r.presence
	if registry == nil {
		http.Error(w, "presence not started", http.StatusServiceUnavailable)
		return
	}

	var filter func(presence.NodeInfo) bool
	if name := req.URL.Query().Get("capability"); name != "" {
		filter = presence.WithCapabilityFilter(name)
	} else if role := req.URL.Query().Get("role"); role != "" {
		filter = presence.WithRoleFilter(role)
	}

	nodes := registry.Query(filter)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(nodes); err != nil {
		r.logger.Warn("failed to encode nodes response", slog.String("error", err.Error()))
	}
}
