package core

import (
	"context"
	"testing"
	"time"
)

func TestMinerSealsPendingTransactions(t *testing.T) {
	bc := newTestChain(t, func(c *Config) { c.InitialBalances = map[string]float64{"Alice": 100} })
	m := NewMiner(bc, "Miner1", 5*time.Millisecond, time.Second)

	if !m.Start(context.Background()) {
		t.Fatal("Start() = false on a stopped miner")
	}
	defer m.Stop()
	if m.Start(context.Background()) {
		t.Error("second Start() should report already running")
	}

	if _, err := bc.CreateTransaction("Alice", "Bob", 30); err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for bc.Len() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("miner did not seal the pending transaction")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := bc.GetBalance("Miner1", false); got != 10 {
		t.Errorf("Miner1 = %v, want 10", got)
	}
	if m.Address() != "Miner1" {
		t.Errorf("Address() = %q", m.Address())
	}
}

func TestMinerStop(t *testing.T) {
	bc := newTestChain(t, nil)
	m := NewMiner(bc, "Miner1", 0, 0)

	m.Stop()
	m.Start(context.Background())
	if !m.IsRunning() {
		t.Fatal("IsRunning() = false after Start")
	}
	m.Stop()
	if m.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	if m.BlocksMined() != 0 || m.LastError() != nil {
		t.Errorf("idle miner mined %d blocks, last error %v", m.BlocksMined(), m.LastError())
	}
	if bc.Len() != 1 {
		t.Errorf("Len() = %d, want 1", bc.Len())
	}
}

func TestMinerStopsWithParentContext(t *testing.T) {
	bc := newTestChain(t, nil)
	m := NewMiner(bc, "Miner1", time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()

	deadline := time.Now().Add(time.Second)
	for m.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("miner kept running after parent cancellation")
		}
		time.Sleep(time.Millisecond)
	}
}
