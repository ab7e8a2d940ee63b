package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"pow-ledger/core"
	"pow-ledger/logger"

	"github.com/ethereum/go-ethereum/event"
)

type MiningAPI struct {
	blockchain   *core.Blockchain
	miner        *core.Miner
	stats        *MiningStats
	mutex        sync.RWMutex
	blockTimeout time.Duration

	// Background miners outlive the request that started them.
	ctx    context.Context
	cancel context.CancelFunc
	sub    event.Subscription
	done   chan struct{}
}

type MiningStats struct {
	IsActive       bool   `json:"isActive"`
	BlocksFound    int    `json:"blocksFound"`
	FailedAttempts int    `json:"failedAttempts"`
	LastBlockIndex int    `json:"lastBlockIndex"`
	LastBlockHash  string `json:"lastBlockHash,omitempty"`
	LastElapsed    string `json:"lastElapsed,omitempty"`
	Difficulty     int    `json:"difficulty"`
	Pending        int    `json:"pending"`
	MinerAddress   string `json:"minerAddress,omitempty"`
	StartTime      int64  `json:"startTime,omitempty"`
	LastError      string `json:"lastError,omitempty"`
}

// NewMiningAPI builds the mining endpoints. With a feed, block counts come
// from the ledger's own block_mined events, so blocks sealed by any caller
// are seen; without one only blocks mined through this API are counted.
func NewMiningAPI(blockchain *core.Blockchain, feed *core.FeedSink, blockTimeout time.Duration) *MiningAPI {
	ctx, cancel := context.WithCancel(context.Background())
	api := &MiningAPI{
		blockchain:   blockchain,
		stats:        &MiningStats{LastBlockIndex: -1},
		blockTimeout: blockTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	if feed != nil {
		ch := make(chan core.Event, 64)
		api.sub = feed.Subscribe(ch)
		api.done = make(chan struct{})
		go api.watch(ch)
	}
	return api
}

func (api *MiningAPI) watch(ch <-chan core.Event) {
	defer close(api.done)
	for {
		select {
		case ev := <-ch:
			api.record(ev)
		case <-api.sub.Err():
			return
		}
	}
}

func (api *MiningAPI) record(ev core.Event) {
	api.mutex.Lock()
	defer api.mutex.Unlock()

	switch ev.Type {
	case core.EventBlockMined:
		if index, ok := ev.Fields["index"].(int); ok && index == 0 {
			return // genesis
		}
		api.stats.BlocksFound++
		if index, ok := ev.Fields["index"].(int); ok {
			api.stats.LastBlockIndex = index
		}
		api.stats.LastBlockHash, _ = ev.Fields["hash"].(string)
		api.stats.LastElapsed, _ = ev.Fields["elapsed"].(string)
	case core.EventMiningFailed:
		api.stats.FailedAttempts++
		api.stats.LastError, _ = ev.Fields["error"].(string)
	}
}

// Close stops the background miner and detaches from the event feed.
func (api *MiningAPI) Close() {
	api.StopMiner()
	api.cancel()
	if api.sub != nil {
		api.sub.Unsubscribe()
		<-api.done
	}
}

// StartMiner launches a background miner paying rewards to minerAddress.
// It returns false when one is already running.
func (api *MiningAPI) StartMiner(minerAddress string, interval time.Duration) bool {
	api.mutex.Lock()
	defer api.mutex.Unlock()

	if api.miner != nil && api.miner.IsRunning() {
		return false
	}
	api.miner = core.NewMiner(api.blockchain, minerAddress, interval, api.blockTimeout)
	if !api.miner.Start(api.ctx) {
		return false
	}
	api.stats.MinerAddress = minerAddress
	api.stats.StartTime = time.Now().Unix()
	logger.Infof("Background miner started for %s (interval %v)", minerAddress, interval)
	return true
}

// StopMiner halts the background miner. It returns false if none was running.
func (api *MiningAPI) StopMiner() bool {
	api.mutex.Lock()
	miner := api.miner
	api.mutex.Unlock()

	if miner == nil || !miner.IsRunning() {
		return false
	}
	miner.Stop()
	logger.Infof("Background miner stopped after %d blocks", miner.BlocksMined())
	return true
}

func (api *MiningAPI) mineBlock(ctx context.Context, minerAddress string) (*core.Block, error) {
	if api.blockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, api.blockTimeout)
		defer cancel()
	}
	block, err := api.blockchain.MinePendingTransactions(ctx, minerAddress)
	if err == nil && block != nil && api.sub == nil {
		api.mutex.Lock()
		api.stats.BlocksFound++
		api.stats.LastBlockIndex = block.GetIndex()
		api.stats.LastBlockHash = block.GetHash()
		api.mutex.Unlock()
	}
	return block, err
}

// Snapshot returns a copy of the current stats.
func (api *MiningAPI) Snapshot() MiningStats {
	api.mutex.RLock()
	statsCopy := *api.stats
	miner := api.miner
	api.mutex.RUnlock()

	if miner != nil {
		statsCopy.IsActive = miner.IsRunning()
		if err := miner.LastError(); err != nil {
			statsCopy.LastError = err.Error()
		}
	}
	statsCopy.Difficulty = api.blockchain.Difficulty()
	statsCopy.Pending = len(api.blockchain.PendingTransactions())
	return statsCopy
}

type minerRequest struct {
	MinerAddress string `json:"minerAddress"`
	IntervalMs   int    `json:"intervalMs"`
}

func decodeMinerRequest(w http.ResponseWriter, r *http.Request) (minerRequest, bool) {
	var req minerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request format: "+err.Error(), http.StatusBadRequest)
		return req, false
	}
	if len(req.MinerAddress) == 0 {
		http.Error(w, "Miner address is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func (api *MiningAPI) StartHandler(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, "POST, OPTIONS") {
		return
	}
	req, ok := decodeMinerRequest(w, r)
	if !ok {
		return
	}

	interval := time.Duration(req.IntervalMs) * time.Millisecond
	if !api.StartMiner(req.MinerAddress, interval) {
		http.Error(w, "Mining already active", http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Mining started successfully",
		"stats":   api.Snapshot(),
	})
}

func (api *MiningAPI) StopHandler(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, "POST, OPTIONS") {
		return
	}
	if !api.StopMiner() {
		http.Error(w, "Mining not active", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Mining stopped successfully",
	})
}

func (api *MiningAPI) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, "GET, OPTIONS") {
		return
	}
	writeJSON(w, http.StatusOK, api.Snapshot())
}

func (api *MiningAPI) MineBlockHandler(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, "POST, OPTIONS") {
		return
	}
	req, ok := decodeMinerRequest(w, r)
	if !ok {
		return
	}

	block, err := api.mineBlock(r.Context(), req.MinerAddress)
	if err != nil {
		logger.Warningf("MiningAPI: failed to mine block: %v", err)
		writeError(w, err)
		return
	}
	if block == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"message": "No pending transactions to mine",
		})
		return
	}

	logger.LogBlockEvent(block.GetIndex(), block.GetHash(), len(block.Transactions()), req.MinerAddress)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"blockNumber": block.GetIndex(),
		"hash":        block.GetHash(),
		"nonce":       block.GetNonce(),
		"difficulty":  block.GetDifficulty(),
	})
}
