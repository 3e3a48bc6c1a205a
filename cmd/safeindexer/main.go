// Command safeindexer is the composition root: it wires together the
// chain client(s), ledger store, decoder registry, the three range-scan
// indexers and the processor into one long-running service, replacing
// the global-singleton provider registry this codebase used to wire its
// chain adapters with explicit construction here instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gnosis/safe-transaction-history/internal/chain"
	"github.com/gnosis/safe-transaction-history/internal/config"
	"github.com/gnosis/safe-transaction-history/internal/decoder"
	"github.com/gnosis/safe-transaction-history/internal/indexer"
	"github.com/gnosis/safe-transaction-history/internal/indexer/events"
	"github.com/gnosis/safe-transaction-history/internal/indexer/internaltx"
	"github.com/gnosis/safe-transaction-history/internal/indexer/proxyfactory"
	"github.com/gnosis/safe-transaction-history/internal/ledger"
	"github.com/gnosis/safe-transaction-history/internal/ledger/memstore"
	"github.com/gnosis/safe-transaction-history/internal/ledger/postgres"
	"github.com/gnosis/safe-transaction-history/internal/logging"
	"github.com/gnosis/safe-transaction-history/internal/metrics"
	"github.com/gnosis/safe-transaction-history/internal/outbox"
	"github.com/gnosis/safe-transaction-history/internal/processor"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file overriding environment variables")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "loading config:", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Environment)
	if err != nil {
		fmt.Fprintln(os.Stderr, "building logger:", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("safeindexer exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	m := metrics.New()

	rpcClient, err := newChainClient(cfg.EthereumNodeURL, m, "rpc")
	if err != nil {
		return fmt.Errorf("building rpc chain client: %w", err)
	}
	tracingClient, err := newChainClient(cfg.EthereumTracingNodeURL, m, "tracing")
	if err != nil {
		return fmt.Errorf("building tracing chain client: %w", err)
	}

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening ledger store: %w", err)
	}
	defer store.Close() //nolint:errcheck

	dec, err := decoder.NewRegistry()
	if err != nil {
		return fmt.Errorf("building decoder registry: %w", err)
	}

	factoryAddresses := make([]common.Address, len(cfg.ProxyFactoryAddresses))
	for i, a := range cfg.ProxyFactoryAddresses {
		factoryAddresses[i] = common.HexToAddress(a)
	}

	addressLister := func(ctx context.Context) ([]common.Address, error) {
		monitored, err := store.ListMonitoredAddresses(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]common.Address, len(monitored))
		for i, ma := range monitored {
			out[i] = ma.Address
		}
		return out, nil
	}

	scanners := []*indexer.Scanner{
		{
			Stream:       &proxyfactory.Stream{Chain: rpcClient, Store: store, FactoryAddresses: factoryAddresses, Logger: logger},
			Chain:        rpcClient,
			Metrics:      m,
			Logger:       logger,
			BlockLimit:   cfg.ProxyFactoryBlockProcessLimit,
			ReorgBlocks:  cfg.EthReorgBlocks,
			PollInterval: cfg.PollInterval,
		},
		{
			Stream:       &events.Stream{Chain: rpcClient, Store: store, Addresses: addressLister, Logger: logger},
			Chain:        rpcClient,
			Metrics:      m,
			Logger:       logger,
			BlockLimit:   cfg.EventsBlockProcessLimit,
			ReorgBlocks:  cfg.EthReorgBlocks,
			PollInterval: cfg.PollInterval,
		},
	}

	// The internal-transaction indexer requires a tracing-capable node
	// and is the one component an L2 deployment (no tracing endpoint)
	// skips, per spec.md §6's ETH_L2_NETWORK flag.
	if !cfg.EthL2Network {
		scanners = append(scanners, &indexer.Scanner{
			Stream:       &internaltx.Stream{Chain: tracingClient, Store: store, Decoder: dec, Addresses: addressLister, Logger: logger},
			Chain:        tracingClient,
			Metrics:      m,
			Logger:       logger,
			BlockLimit:   cfg.InternalTxBlockProcessLimit,
			ReorgBlocks:  cfg.EthReorgBlocks,
			PollInterval: cfg.PollInterval,
		})
	} else {
		logger.Info("ETH_L2_NETWORK set, internal-tx indexer disabled; Safe discovery is event-only")
	}

	proc := &processor.Processor{
		Store:                      store,
		Decoder:                    dec,
		ChainID:                    big.NewInt(cfg.ChainID),
		Metrics:                    m,
		Logger:                     logger,
		BatchSize:                  cfg.RPCBatchSize,
		AlwaysMarkUnknownProcessed: cfg.AlwaysMarkUnknownProcessed,
	}

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler()}
	go func() {
		logger.Info("metrics server starting", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// Every scanner plus the processor runs until ctx is cancelled; an
	// errgroup lets the shutdown path wait for all of them to actually
	// return (finishing whatever ledger write is in flight) before the
	// store is closed, instead of racing a bare set of "go func()" calls
	// against the deferred store.Close() above.
	g, gctx := errgroup.WithContext(ctx)
	for _, sc := range scanners {
		sc := sc
		g.Go(func() error {
			sc.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		proc.Run(gctx, cfg.PollInterval)
		return nil
	})

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown error", zap.Error(err))
	}

	if err := g.Wait(); err != nil {
		logger.Warn("scanner/processor goroutine returned an error", zap.Error(err))
	}

	return nil
}

func newChainClient(endpoints []string, m metrics.Metrics, label string) (chain.Client, error) {
	if len(endpoints) == 1 && isWebSocketEndpoint(endpoints[0]) {
		transport, err := chain.NewWebSocketTransport(endpoints[0])
		if err != nil {
			return nil, err
		}
		return chain.NewClient(transport, m, label), nil
	}

	transport, err := chain.NewHTTPTransport(endpoints, 30*time.Second, chain.NewHealthTracker())
	if err != nil {
		return nil, err
	}
	return chain.NewClient(transport, m, label), nil
}

// isWebSocketEndpoint reports whether endpoint is a ws:// or wss:// URL. A
// node reachable only over WebSocket (no HTTP JSON-RPC listener) is wired
// as a single-endpoint chain.wsTransport instead of the pooled HTTP
// transport's failover path.
func isWebSocketEndpoint(endpoint string) bool {
	return strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://")
}

func newStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ledger.Store, error) {
	var base ledger.Store
	if cfg.DatabaseURL != "" {
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		base = pg
	} else {
		logger.Warn("no DATABASE_URL configured, running against an in-memory store")
		base = memstore.New()
	}

	if len(cfg.KafkaBrokers) == 0 {
		return ledger.WithPublisher(base, outbox.NoOp{}), nil
	}
	publisher := outbox.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	return ledger.WithPublisher(base, publisher), nil
}

