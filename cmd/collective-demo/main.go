package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // register /debug/pprof
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/creastat/collective"
	"github.com/creastat/collective/telemetry"
	"github.com/creastat/collective/transport"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := telemetry.New(telemetry.Config{Level: cfg.LogLevel, Pretty: cfg.Pretty})
	logger.Info("starting demo",
		telemetry.Int("size", cfg.Size),
		telemetry.Int("arity", cfg.Arity),
		telemetry.Int("rounds", cfg.Rounds),
		telemetry.String("transport", cfg.Transport))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("demo failed", telemetry.Err(err))
	}
}

func run(cfg *Config, logger telemetry.Logger) error {
	tree, err := collective.NewKaryTree(cfg.Size, cfg.Arity)
	if err != nil {
		return err
	}

	metrics := telemetry.NewMetrics()
	if cfg.DebugAddr != "" {
		metrics.Publish("collective")
		go serveDebug(cfg.DebugAddr, logger)
	}

	group, cleanup, err := buildGroup(cfg, tree, metrics, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := runRounds(cfg, tree, group, logger); err != nil {
		return err
	}

	logger.Info("demo complete",
		telemetry.Int("barriers", int(metrics.BarriersCompleted.Value())),
		telemetry.Int("frames", int(metrics.FramesSent.Value())))
	return nil
}

// buildGroup assembles all ranks of the group in this process, over the
// configured transport, and returns the nodes with a teardown func
func buildGroup(cfg *Config, tree *collective.Tree, metrics *telemetry.Metrics, logger telemetry.Logger) ([]*collective.Node, func(), error) {
	if cfg.Transport == "websocket" {
		return buildWebSocketGroup(cfg, tree, metrics, logger)
	}
	return buildMeshGroup(cfg, tree, metrics, logger)
}

func buildMeshGroup(cfg *Config, tree *collective.Tree, metrics *telemetry.Metrics, logger telemetry.Logger) ([]*collective.Node, func(), error) {
	mesh := transport.NewMesh(transport.MeshConfig{Size: cfg.Size, Logger: logger})

	nodes := make([]*collective.Node, cfg.Size)
	for rank := 0; rank < cfg.Size; rank++ {
		view, err := tree.View(rank)
		if err != nil {
			return nil, nil, err
		}
		endpoint, err := mesh.Endpoint(rank)
		if err != nil {
			return nil, nil, err
		}
		node := collective.NewNode(collective.NodeConfig{
			Topology:  view,
			Transport: endpoint,
			Logger:    logger,
			Metrics:   metrics,
		})
		if err := mesh.Attach(rank, node); err != nil {
			return nil, nil, err
		}
		nodes[rank] = node
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := mesh.Start(ctx); err != nil {
		cancel()
		return nil, nil, err
	}

	cleanup := func() {
		mesh.Close()
		cancel()
	}
	return nodes, cleanup, nil
}

func buildWebSocketGroup(cfg *Config, tree *collective.Tree, metrics *telemetry.Metrics, logger telemetry.Logger) ([]*collective.Node, func(), error) {
	meshID := uuid.NewString()

	transports := make([]*transport.WebSocketTransport, cfg.Size)
	nodes := make([]*collective.Node, cfg.Size)
	teardown := func() {
		for _, t := range transports {
			if t != nil {
				t.Close()
			}
		}
	}

	for rank := 0; rank < cfg.Size; rank++ {
		view, err := tree.View(rank)
		if err != nil {
			teardown()
			return nil, nil, err
		}
		t := transport.NewWebSocketTransport(transport.WebSocketConfig{
			Rank:   rank,
			Size:   cfg.Size,
			MeshID: meshID,
			Logger: logger,
		})
		node := collective.NewNode(collective.NodeConfig{
			Topology:  view,
			Transport: t,
			Logger:    logger,
			Metrics:   metrics,
		})
		t.Attach(node)
		if err := t.Listen(); err != nil {
			teardown()
			return nil, nil, err
		}
		transports[rank] = t
		nodes[rank] = node
	}

	urls := make([]string, cfg.Size)
	for rank, t := range transports {
		urls[rank] = transport.PeerURL(t.Addr())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StartTimeout)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, cfg.Size)
	for _, t := range transports {
		wg.Add(1)
		go func(t *transport.WebSocketTransport) {
			defer wg.Done()
			if err := t.Start(ctx, urls); err != nil {
				errs <- err
			}
		}(t)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			teardown()
			return nil, nil, err
		}
	}

	return nodes, teardown, nil
}

// runRounds drives barrier rounds on the same channel id. Each rank waits
// for its parent to open the channel before entering, so an eager leaf's
// ready can never reach a rank that has not registered yet
func runRounds(cfg *Config, tree *collective.Tree, nodes []*collective.Node, logger telemetry.Logger) error {
	const id = collective.ReservedChannels

	views := make([]*collective.TreeView, len(nodes))
	for rank := range nodes {
		view, err := tree.View(rank)
		if err != nil {
			return err
		}
		views[rank] = view
	}

	for round := 0; round < cfg.Rounds; round++ {
		start := time.Now()

		var wg sync.WaitGroup
		errs := make(chan error, len(nodes))
		for rank := range nodes {
			wg.Add(1)
			go func(rank int) {
				defer wg.Done()
				if !views[rank].IsRoot() {
					parent := nodes[views[rank].Parent()]
					for !parent.Registry().Has(id) {
						time.Sleep(200 * time.Microsecond)
					}
				}
				if err := nodes[rank].Barrier(id); err != nil {
					errs <- fmt.Errorf("rank %d: %w", rank, err)
				}
			}(rank)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				return err
			}
		}

		logger.Info("round complete",
			telemetry.Int("round", round),
			telemetry.Float64("ms", float64(time.Since(start).Microseconds())/1000))
	}
	return nil
}

// serveDebug exposes expvar and pprof on the default mux
func serveDebug(addr string, logger telemetry.Logger) {
	http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	logger.Info("debug server listening", telemetry.String("addr", addr))
	if err := http.ListenAndServe(addr, nil); err != nil {
		logger.Error("debug server failed", telemetry.Err(err))
	}
}
