package cmd

import (
	"context"
	"fmt"
	"time"

	"pow-ledger/cache"
	"pow-ledger/config"
	"pow-ledger/consensus"
	"pow-ledger/core"
	"pow-ledger/database"
	"pow-ledger/logger"
)

// session is an opened ledger and the resources behind it.
type session struct {
	cfg   *config.Config
	store *database.ChainStore
	bc    *core.Blockchain
	cache *cache.Cache
}

// openSession loads the config, opens the LevelDB store in datadir and
// restores the ledger from it, creating a fresh one when the store is empty.
// Extra sinks receive ledger events next to the log sink.
func openSession(ctx context.Context, sinks ...core.EventSink) (*session, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %v", err)
	}
	logger.SetLevel(cfg.GetLogLevel())
	logger.SetFormat(cfg.LogFormat)

	store, err := database.OpenChainStore(cfg.ChainDataDir(), database.Options{
		CacheMB: cfg.DBCache,
		Handles: cfg.DBHandles,
	})
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, store: store}
	opts := ledgerOptions(cfg, sinks...)
	if cfg.EnableCache {
		s.cache = cache.NewCache(time.Minute)
		opts = append(opts, core.WithBalanceCache(s.cache, cfg.CacheTTL))
	}

	bc, created, err := store.OpenLedger(ctx, cfg.LedgerConfig(), opts...)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	if created {
		logger.Infof("Created new ledger in %s (difficulty %d)", cfg.DataDir, cfg.Difficulty)
	} else {
		logger.Debugf("Loaded ledger from %s: %d blocks", cfg.DataDir, bc.Len())
	}
	s.bc = bc
	return s, nil
}

func ledgerOptions(cfg *config.Config, sinks ...core.EventSink) []core.Option {
	all := append([]core.EventSink{core.NewLogSink(logger.GetLogger())}, sinks...)
	return []core.Option{
		core.WithEngine(consensus.NewProofOfWork(cfg.MiningWorkers)),
		core.WithEventSink(core.MultiSink(all...)),
	}
}

func (s *session) storeOptions() []core.Option {
	opts := append(ledgerOptions(s.cfg), core.WithPersister(s.store))
	if s.cache != nil {
		s.cache.Clear()
		opts = append(opts, core.WithBalanceCache(s.cache, s.cfg.CacheTTL))
	}
	return opts
}

// replaceWith builds a ledger from doc and makes it the stored ledger. The
// store is only touched once the document has been accepted.
func (s *session) replaceWith(doc *core.Document) error {
	bc, err := core.FromDocument(doc, s.storeOptions()...)
	if err != nil {
		return err
	}
	if err := s.store.Replace(bc); err != nil {
		return fmt.Errorf("failed to write ledger store: %w", err)
	}
	s.bc = bc
	return nil
}

// reset empties the store and starts over from a new genesis block.
func (s *session) reset(ctx context.Context) error {
	if err := s.store.Reset(nil); err != nil {
		return fmt.Errorf("failed to clear ledger store: %w", err)
	}
	bc, err := core.NewBlockchain(ctx, s.cfg.LedgerConfig(), s.storeOptions()...)
	if err != nil {
		return err
	}
	s.bc = bc
	return nil
}

// miningContext bounds one mining call by mining_timeout.
func (s *session) miningContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.MiningTimeout > 0 {
		return context.WithTimeout(parent, s.cfg.MiningTimeout)
	}
	return context.WithCancel(parent)
}

func (s *session) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
	if err := s.store.Close(); err != nil {
		logger.Errorf("Failed to close ledger store: %v", err)
	}
}
