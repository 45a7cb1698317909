// Command hopperkv-server runs a single tenant cache instance behind a
// line-oriented TCP command protocol, with Prometheus metrics and optional
// pprof endpoints alongside.
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chenhao-ye/hopperkv/engine"
	"github.com/chenhao-ye/hopperkv/hare"
	pmet "github.com/chenhao-ye/hopperkv/metrics/prom"
	"github.com/chenhao-ye/hopperkv/storage"
)

type serverFlags struct {
	addr          string
	metricsAddr   string
	pprofAddr     string
	cacheSize     int64
	cacheCapacity int
	admitWrite    bool
	allocTotalBW  bool

	dynamoTable string
	mockBackend bool
	mockLatency time.Duration

	allocTick time.Duration

	configPath string
}

func main() {
	f := &serverFlags{}

	root := &cobra.Command{
		Use:   "hopperkv-server",
		Short: "Serve one tenant's look-aside cache over a line-oriented TCP protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.configPath != "" {
				fc, err := loadFileConfig(f.configPath)
				if err != nil {
					return err
				}
				applyFileConfig(f, fc, cmd.Flags().Changed)
			}
			return run(cmd.Context(), f)
		},
	}

	flags := root.Flags()
	flags.StringVar(&f.configPath, "config", "", "path to a YAML config file (command-line flags take precedence)")
	flags.StringVar(&f.addr, "addr", ":6380", "TCP address to accept client connections on")
	flags.StringVar(&f.metricsAddr, "metrics-addr", ":8080", "address to serve /metrics on")
	flags.StringVar(&f.pprofAddr, "pprof-addr", "", "address to serve /debug/pprof/* on (empty disables)")
	flags.Int64Var(&f.cacheSize, "cache-size", 64<<20, "initial cache byte budget (0 disables cost limiting)")
	flags.IntVar(&f.cacheCapacity, "cache-capacity", 1_000_000, "host table entry-count limit")
	flags.BoolVar(&f.admitWrite, "admit-write", true, "cache a SET on a key with no prior cached value")
	flags.BoolVar(&f.allocTotalBW, "alloc-total-net-bw", true, "account storage-facing bandwidth in addition to client-facing")
	flags.StringVar(&f.dynamoTable, "dynamo-table", "", "DynamoDB table name (required unless --mock)")
	flags.BoolVar(&f.mockBackend, "mock", true, "use a synthetic backend instead of a real DynamoDB table")
	flags.DurationVar(&f.mockLatency, "mock-latency", 2*time.Millisecond, "simulated backend round-trip latency in mock mode")
	flags.DurationVar(&f.allocTick, "alloc-tick", 0, "interval for the in-process HARE allocator loop (0 disables; a no-op with a single tenant)")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		log.WithError(err).Fatal("hopperkv-server: exiting")
	}
}

func run(ctx context.Context, f *serverFlags) error {
	cfg := engine.DefaultConfig()
	cfg.AdmitWrite = f.admitWrite
	cfg.AllocTotalNetBW = f.allocTotalBW
	cfg.CacheCapacity = f.cacheCapacity
	cfg.MockDynamoLatency = f.mockLatency

	backend, err := buildBackend(ctx, f, cfg)
	if err != nil {
		return err
	}

	cfg.Metrics = pmet.New(nil, "hopperkv", "engine", nil)
	inst := engine.NewInstance(cfg, backend, f.cacheSize)
	defer func() { _ = inst.Close() }()

	st := &serverState{inst: inst, dynamoTable: f.dynamoTable, dynamoMock: f.mockBackend}

	http.Handle("/metrics", promhttp.Handler())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return inst.Run(gctx)
	})

	if f.allocTick > 0 {
		// A single-tenant deployment makes every DoAlloc pass a no-op
		// (Allocator.DoAlloc returns early below two tenants), but this is
		// the hook a multi-tenant deployment would extend by passing more
		// instances here.
		g.Go(func() error {
			loop := engine.NewAllocatorLoop(f.allocTick, hare.Policy{Harvest: true, Conserving: true}, hare.DefaultParams(), []*engine.Instance{inst})
			return loop.Run(gctx)
		})
	}

	if f.pprofAddr != "" {
		g.Go(func() error {
			log.WithField("addr", f.pprofAddr).Info("hopperkv-server: serving pprof")
			return serveHTTP(gctx, f.pprofAddr, nil)
		})
	}

	g.Go(func() error {
		log.WithField("addr", f.metricsAddr).Info("hopperkv-server: serving metrics")
		return serveHTTP(gctx, f.metricsAddr, nil)
	})

	g.Go(func() error {
		return ServeCommands(gctx, f.addr, st)
	})

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	return nil
}

func buildBackend(ctx context.Context, f *serverFlags, cfg engine.Config) (storage.Backend, error) {
	if f.mockBackend {
		return storage.NewMockBackend(cfg.MockDynamoLatency)
	}
	if f.dynamoTable == "" {
		return nil, fmt.Errorf("hopperkv-server: --dynamo-table is required when --mock=false")
	}
	return storage.NewDynamoBackend(ctx, f.dynamoTable)
}

// serveHTTP runs an http.Server on addr using mux (nil => DefaultServeMux)
// until ctx is cancelled, at which point it shuts down gracefully.
func serveHTTP(ctx context.Context, addr string, mux http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
