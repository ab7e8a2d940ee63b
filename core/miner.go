package core

import (
	"context"
	"sync"
	"time"
)

// Miner seals pending transactions in the background at a fixed interval.
type Miner struct {
	blockchain   *Blockchain
	minerAddr    string
	interval     time.Duration
	blockTimeout time.Duration

	running     bool
	blocksMined int
	lastErr     error
	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewMiner creates a stopped miner. blockTimeout bounds each mining attempt;
// zero means no bound beyond Stop.
func NewMiner(blockchain *Blockchain, minerAddr string, interval, blockTimeout time.Duration) *Miner {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Miner{
		blockchain:   blockchain,
		minerAddr:    minerAddr,
		interval:     interval,
		blockTimeout: blockTimeout,
	}
}

// Start launches the work loop. It returns false if the miner is already running.
func (m *Miner) Start(parent context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return false
	}

	ctx, cancel := context.WithCancel(parent)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)
	return true
}

// Stop cancels any in-flight search and waits for the loop to exit.
func (m *Miner) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancel()
	done := m.done
	m.mu.Unlock()

	<-done
}

func (m *Miner) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mineOnce(ctx)
		}
	}
}

func (m *Miner) mineOnce(ctx context.Context) {
	if m.blockchain.GetMempool().Size() == 0 {
		return
	}

	mineCtx := ctx
	if m.blockTimeout > 0 {
		var cancel context.CancelFunc
		mineCtx, cancel = context.WithTimeout(ctx, m.blockTimeout)
		defer cancel()
	}

	block, err := m.blockchain.MinePendingTransactions(mineCtx, m.minerAddr)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
	if block != nil {
		m.blocksMined++
	}
}

func (m *Miner) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Miner) BlocksMined() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocksMined
}

// LastError is the result of the most recent mining attempt.
func (m *Miner) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Miner) Address() string { return m.minerAddr }
