package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/eres45/EcoChain/internal/api"
	"github.com/eres45/EcoChain/internal/infra/aggregate"
	"github.com/eres45/EcoChain/internal/infra/chain"
	"github.com/eres45/EcoChain/internal/infra/ledger"
	"github.com/eres45/EcoChain/internal/infra/providers"
	"github.com/eres45/EcoChain/internal/infra/reputation"
	"github.com/eres45/EcoChain/internal/infra/rewards"
	"github.com/eres45/EcoChain/internal/infra/sqlite"
	"github.com/eres45/EcoChain/internal/logging"
	"github.com/eres45/EcoChain/internal/oracle"
)

// Node is a fully wired oracle node.
type Node struct {
	cfg    Config
	logger zerolog.Logger

	Coordinator *oracle.Coordinator
	Trust       *reputation.Store
	Book        *rewards.Book
	DB          *sqlite.DB

	server *http.Server
}

// Build assembles a node from config: storage, trust store, ledger,
// aggregation engine, coordinator, built-in providers, chains and the
// HTTP server. State persisted by a previous run is restored.
func Build(cfg Config) (*Node, error) {
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	trustCfg := reputation.DefaultConfig()
	trustCfg.DefaultScore = cfg.Reputation.DefaultScore
	trustCfg.AccuracyWeight = cfg.Reputation.AccuracyWeight
	trustCfg.ConsistencyWeight = cfg.Reputation.ConsistencyWeight
	trustCfg.DecayFactor = cfg.Reputation.DecayFactor
	if cfg.Reputation.MaxHistory > 0 {
		trustCfg.MaxHistory = cfg.Reputation.MaxHistory
		trustCfg.MaxAccuracyHistory = cfg.Reputation.MaxHistory
	}
	trust := reputation.NewStore(trustCfg, logger)

	book := rewards.NewBook(rewards.Config{
		BaseReward:        cfg.Rewards.BaseReward,
		AccuracyBonus:     cfg.Rewards.AccuracyBonus,
		AccuracyThreshold: cfg.Rewards.AccuracyThreshold,
	}, logger)

	engine, err := aggregate.NewEngine(cfg.Oracle.Strategy, trust, book, logger)
	if err != nil {
		return nil, err
	}

	coord := oracle.New(oracle.Config{
		AutoFinalize:         cfg.Oracle.AutoFinalize,
		DefaultMinProviders:  cfg.Oracle.DefaultMinProviders,
		DefaultMinReputation: cfg.Oracle.DefaultMinReputation,
	}, ledger.New(nil, logger), trust, engine, logger)

	node := &Node{
		cfg:         cfg,
		logger:      logger,
		Coordinator: coord,
		Trust:       trust,
		Book:        book,
	}

	if cfg.Storage.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
		db, err := sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		node.DB = db

		snaps, err := db.LoadReputations()
		if err != nil {
			return nil, fmt.Errorf("load reputations: %w", err)
		}
		trust.Restore(snaps)

		entries, err := db.LoadRewards()
		if err != nil {
			return nil, fmt.Errorf("load rewards: %w", err)
		}
		book.Restore(entries)

		trust.SetSink(db)
		book.SetSink(db)
		coord.SetStore(db)
		logger.Info().
			Str("path", cfg.Storage.Path).
			Int("reputations", len(snaps)).
			Int("rewards", len(entries)).
			Msg("storage attached")
	}

	if cfg.Providers.Carbon.Enabled {
		p := providers.NewCarbonEmissionsProvider(providers.Config{
			SigningKey:  cfg.Providers.Carbon.SigningKey,
			MaxInFlight: cfg.Providers.Carbon.MaxInFlight,
			Logger:      logger,
		}, 0)
		if err := coord.RegisterProvider(p); err != nil {
			return nil, err
		}
	}
	if cfg.Providers.Certificates.Enabled {
		p := providers.NewRenewableCertificateProvider(providers.Config{
			SigningKey:  cfg.Providers.Certificates.SigningKey,
			MaxInFlight: cfg.Providers.Certificates.MaxInFlight,
			Logger:      logger,
		}, 0)
		if err := coord.RegisterProvider(p); err != nil {
			return nil, err
		}
	}

	for _, name := range cfg.Chains.Simulated {
		coord.ConnectChain(name, chain.NewSimulatedAdapter(name, logger))
	}

	srv := api.NewServer(coord, book, logger)
	if cfg.API.Metrics {
		srv.EnableMetrics()
	}
	node.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return node, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (n *Node) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		n.logger.Info().Str("addr", n.server.Addr).Msg("oracle node listening")
		if err := n.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stopDecay := n.startDecaySweep(ctx)
	defer stopDecay()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.server.Shutdown(shutdownCtx); err != nil {
		n.logger.Warn().Err(err).Msg("shutdown")
	}
	if n.DB != nil {
		n.DB.Close()
	}
	n.logger.Info().Msg("oracle node stopped")
	return nil
}

// startDecaySweep runs the periodic reputation decay. Without it, scores
// only decay lazily when an entity is next updated.
func (n *Node) startDecaySweep(ctx context.Context) func() {
	interval, err := time.ParseDuration(n.cfg.Reputation.DecayInterval)
	if err != nil || interval <= 0 {
		return func() {}
	}

	quit := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				decayed := n.Trust.DecayScores()
				n.logger.Debug().Int("entities", decayed).Msg("reputation decay sweep")
			case <-ctx.Done():
				return
			case <-quit:
				return
			}
		}
	}()
	return func() { close(quit) }
}
