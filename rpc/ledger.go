package rpc

import (
	"encoding/json"
	"net/http"
	"strconv"

	"pow-ledger/core"
	"pow-ledger/logger"

	"github.com/gorilla/mux"
)

// LedgerAPI serves the read and transfer endpoints under /api.
type LedgerAPI struct {
	blockchain *core.Blockchain
}

func NewLedgerAPI(blockchain *core.Blockchain) *LedgerAPI {
	return &LedgerAPI{blockchain: blockchain}
}

type historyItem struct {
	Block       int                    `json:"block"`
	Direction   string                 `json:"direction"`
	Transaction core.TransactionRecord `json:"transaction"`
}

func (api *LedgerAPI) ChainHandler(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, "GET, OPTIONS") {
		return
	}
	blocks := api.blockchain.Blocks()
	records := make([]core.BlockRecord, len(blocks))
	for i, b := range blocks {
		records[i] = b.Record()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"length":     len(records),
		"difficulty": api.blockchain.Difficulty(),
		"blocks":     records,
	})
}

func (api *LedgerAPI) BlockHandler(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, "GET, OPTIONS") {
		return
	}
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		http.Error(w, "Invalid block index", http.StatusBadRequest)
		return
	}
	block, err := api.blockchain.GetBlock(index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, block.Record())
}

func (api *LedgerAPI) LatestHandler(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, "GET, OPTIONS") {
		return
	}
	latest := api.blockchain.GetLatestBlock()
	if latest == nil {
		writeError(w, &core.NotFoundError{What: "block", Key: "latest"})
		return
	}
	writeJSON(w, http.StatusOK, latest.Record())
}

func (api *LedgerAPI) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, "GET, OPTIONS") {
		return
	}
	address := mux.Vars(r)["address"]
	includePending := r.URL.Query().Get("pending") == "true"
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": address,
		"balance": api.blockchain.GetBalance(address, includePending),
		"pending": includePending,
	})
}

func (api *LedgerAPI) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, "GET, OPTIONS") {
		return
	}
	address := mux.Vars(r)["address"]
	entries := api.blockchain.GetTransactionHistory(address)
	items := make([]historyItem, len(entries))
	for i, e := range entries {
		dir := "received"
		if e.Transaction.Sender() == address {
			dir = "sent"
		}
		items[i] = historyItem{Block: e.BlockIndex, Direction: dir, Transaction: e.Transaction.Record()}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": address,
		"history": items,
	})
}

func (api *LedgerAPI) PendingHandler(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, "GET, OPTIONS") {
		return
	}
	writeJSON(w, http.StatusOK, transactionRecords(api.blockchain.PendingTransactions()))
}

func (api *LedgerAPI) SendTransactionHandler(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, "POST, OPTIONS") {
		return
	}

	var req struct {
		Sender   string      `json:"sender"`
		Receiver string      `json:"receiver"`
		Amount   json.Number `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request format: "+err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := core.ParseAmount(req.Amount.String())
	if err != nil {
		writeError(w, err)
		return
	}

	tx, err := api.blockchain.CreateTransaction(req.Sender, req.Receiver, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	logger.LogTransactionEvent(tx.ID(), tx.Sender(), tx.Receiver(), "accepted", tx.Amount())
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":     true,
		"transaction": tx.Record(),
	})
}

func (api *LedgerAPI) ValidateHandler(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, "GET, OPTIONS") {
		return
	}
	failure := api.blockchain.VerifyChain()
	body := map[string]interface{}{"valid": failure == nil}
	if failure != nil {
		body["failure"] = failureView(failure)
	}
	writeJSON(w, http.StatusOK, body)
}

func (api *LedgerAPI) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, "GET, OPTIONS") {
		return
	}
	stats, ok := api.blockchain.GetMiningStats()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"available": false,
			"message":   "Not enough blocks for statistics",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"available": true,
		"stats":     stats,
	})
}

func (api *LedgerAPI) ExportHandler(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, "GET, OPTIONS") {
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="ledger.json"`)
	if err := api.blockchain.ExportTo(w); err != nil {
		logger.Errorf("REST: export failed: %v", err)
	}
}
