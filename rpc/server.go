package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"pow-ledger/core"
	"pow-ledger/logger"

	"github.com/gorilla/mux"
)

type Config struct {
	Host string
	Port int
	// MiningTimeout bounds a single mining request. Zero means none.
	MiningTimeout time.Duration
}

type Server struct {
	config     *Config
	blockchain *core.Blockchain
	server     *http.Server
	ledgerAPI  *LedgerAPI
	miningAPI  *MiningAPI
}

type JSONRPCRequest struct {
	ID      interface{}   `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	Version string        `json:"jsonrpc"`
}

type JSONRPCResponse struct {
	ID      interface{}   `json:"id"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
	Version string        `json:"jsonrpc"`
}

type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeLedgerError    = -32000
)

// NewServer wires the HTTP API to a ledger. feed may be nil; when set, the
// mining stats follow the ledger's block events.
func NewServer(config *Config, blockchain *core.Blockchain, feed *core.FeedSink) *Server {
	return &Server{
		config:     config,
		blockchain: blockchain,
		ledgerAPI:  NewLedgerAPI(blockchain),
		miningAPI:  NewMiningAPI(blockchain, feed, config.MiningTimeout),
	}
}

// Mining exposes the mining API so callers can start the background miner.
func (s *Server) Mining() *MiningAPI { return s.miningAPI }

// Router builds the route table. It is separate from Start so tests can
// drive it through httptest.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/", s.handleRPC).Methods("POST", "OPTIONS") // OPTIONS untuk CORS preflight
	router.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/chain", s.ledgerAPI.ChainHandler).Methods("GET", "OPTIONS")
	api.HandleFunc("/blocks/{index:[0-9]+}", s.ledgerAPI.BlockHandler).Methods("GET", "OPTIONS")
	api.HandleFunc("/latest", s.ledgerAPI.LatestHandler).Methods("GET", "OPTIONS")
	api.HandleFunc("/balance/{address}", s.ledgerAPI.BalanceHandler).Methods("GET", "OPTIONS")
	api.HandleFunc("/history/{address}", s.ledgerAPI.HistoryHandler).Methods("GET", "OPTIONS")
	api.HandleFunc("/pending", s.ledgerAPI.PendingHandler).Methods("GET", "OPTIONS")
	api.HandleFunc("/transactions", s.ledgerAPI.SendTransactionHandler).Methods("POST", "OPTIONS")
	api.HandleFunc("/validate", s.ledgerAPI.ValidateHandler).Methods("GET", "OPTIONS")
	api.HandleFunc("/stats", s.ledgerAPI.StatsHandler).Methods("GET", "OPTIONS")
	api.HandleFunc("/export", s.ledgerAPI.ExportHandler).Methods("GET", "OPTIONS")

	mining := api.PathPrefix("/mining").Subrouter()
	mining.HandleFunc("/start", s.miningAPI.StartHandler).Methods("POST", "OPTIONS")
	mining.HandleFunc("/stop", s.miningAPI.StopHandler).Methods("POST", "OPTIONS")
	mining.HandleFunc("/stats", s.miningAPI.StatsHandler).Methods("GET", "OPTIONS")
	mining.HandleFunc("/mine-block", s.miningAPI.MineBlockHandler).Methods("POST", "OPTIONS")

	return router
}

// Start listens in the background and returns immediately.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("RPC server error: %v", err)
		}
	}()

	logger.Infof("JSON-RPC server with REST API started on %s", addr)
	return nil
}

// Stop halts the background miner and shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.miningAPI.Close()
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	logger.Info("JSON-RPC server stopped")
	return err
}

func setCORS(w http.ResponseWriter, methods string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", methods)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// preflight handles CORS headers and reports whether the request was an
// OPTIONS request that is already answered.
func preflight(w http.ResponseWriter, r *http.Request, methods string) bool {
	setCORS(w, methods)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warningf("failed to encode response: %v", err)
	}
}

// statusFor maps a ledger error onto an HTTP status.
func statusFor(err error) int {
	switch core.KindOf(err) {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case core.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	body := map[string]interface{}{
		"success": false,
		"error":   err.Error(),
	}
	if kind := core.KindOf(err); kind != 0 {
		body["kind"] = kind.String()
	}
	var ibe *core.InsufficientBalanceError
	if errors.As(err, &ibe) {
		body["available"] = ibe.Available
		body["required"] = ibe.Required
	}
	writeJSON(w, statusFor(err), body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, "GET") {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"blocks": s.blockchain.Len(),
	})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, "POST, OPTIONS") {
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, &JSONRPCError{Code: codeParseError, Message: "Parse error"})
		return
	}

	result, rpcErr := s.handleMethod(r.Context(), req.Method, req.Params)
	if rpcErr != nil {
		s.sendError(w, req.ID, rpcErr)
		return
	}

	response := JSONRPCResponse{
		ID:      req.ID,
		Result:  result,
		Version: "2.0",
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) sendError(w http.ResponseWriter, id interface{}, rpcErr *JSONRPCError) {
	writeJSON(w, http.StatusOK, JSONRPCResponse{ID: id, Error: rpcErr, Version: "2.0"})
}

func (s *Server) handleMethod(ctx context.Context, method string, params []interface{}) (interface{}, *JSONRPCError) {
	switch method {
	case "ledger_blockNumber":
		return s.blockchain.Len() - 1, nil
	case "ledger_getBalance":
		return s.ledgerGetBalance(params)
	case "ledger_getBlockByIndex":
		return s.ledgerGetBlockByIndex(params)
	case "ledger_sendTransaction":
		return s.ledgerSendTransaction(params)
	case "ledger_mine":
		return s.ledgerMine(ctx, params)
	case "ledger_isChainValid":
		return s.ledgerIsChainValid()
	case "ledger_pendingTransactions":
		return transactionRecords(s.blockchain.PendingTransactions()), nil
	default:
		return nil, &JSONRPCError{Code: codeMethodNotFound, Message: "method not found: " + method}
	}
}

func ledgerError(err error) *JSONRPCError {
	rpcErr := &JSONRPCError{Code: codeLedgerError, Message: err.Error()}
	if kind := core.KindOf(err); kind != 0 {
		rpcErr.Data = map[string]string{"kind": kind.String()}
	} else {
		rpcErr.Code = codeInternalError
	}
	return rpcErr
}

func invalidParams(msg string) *JSONRPCError {
	return &JSONRPCError{Code: codeInvalidParams, Message: msg}
}

func stringParam(params []interface{}, i int, name string) (string, *JSONRPCError) {
	if len(params) <= i {
		return "", invalidParams("missing " + name + " parameter")
	}
	v, ok := params[i].(string)
	if !ok {
		return "", invalidParams(name + " parameter must be a string")
	}
	return v, nil
}

// numberParam accepts a JSON number or a numeric string.
func numberParam(params []interface{}, i int, name string) (float64, *JSONRPCError) {
	if len(params) <= i {
		return 0, invalidParams("missing " + name + " parameter")
	}
	switch v := params[i].(type) {
	case float64:
		return v, nil
	case string:
		f, err := core.ParseAmount(v)
		if err != nil {
			return 0, ledgerError(err)
		}
		return f, nil
	default:
		return 0, invalidParams(name + " parameter must be a number")
	}
}

func (s *Server) ledgerGetBalance(params []interface{}) (interface{}, *JSONRPCError) {
	address, rpcErr := stringParam(params, 0, "address")
	if rpcErr != nil {
		return nil, rpcErr
	}
	includePending := false
	if len(params) > 1 {
		if val, ok := params[1].(bool); ok {
			includePending = val
		}
	}
	return s.blockchain.GetBalance(address, includePending), nil
}

func (s *Server) ledgerGetBlockByIndex(params []interface{}) (interface{}, *JSONRPCError) {
	index, rpcErr := numberParam(params, 0, "index")
	if rpcErr != nil {
		return nil, rpcErr
	}
	if index != math.Trunc(index) {
		return nil, invalidParams("index parameter must be an integer")
	}
	block, err := s.blockchain.GetBlock(int(index))
	if err != nil {
		return nil, ledgerError(err)
	}
	return block.Record(), nil
}

func (s *Server) ledgerSendTransaction(params []interface{}) (interface{}, *JSONRPCError) {
	sender, rpcErr := stringParam(params, 0, "sender")
	if rpcErr != nil {
		return nil, rpcErr
	}
	receiver, rpcErr := stringParam(params, 1, "receiver")
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := numberParam(params, 2, "amount")
	if rpcErr != nil {
		return nil, rpcErr
	}
	tx, err := s.blockchain.CreateTransaction(sender, receiver, amount)
	if err != nil {
		return nil, ledgerError(err)
	}
	return tx.ID(), nil
}

func (s *Server) ledgerMine(ctx context.Context, params []interface{}) (interface{}, *JSONRPCError) {
	miner, rpcErr := stringParam(params, 0, "miner")
	if rpcErr != nil {
		return nil, rpcErr
	}
	block, err := s.miningAPI.mineBlock(ctx, miner)
	if err != nil {
		return nil, ledgerError(err)
	}
	if block == nil {
		// result must be non-null, omitempty drops it otherwise
		return map[string]interface{}{"mined": false, "message": "No pending transactions to mine"}, nil
	}
	return block.Record(), nil
}

func (s *Server) ledgerIsChainValid() (interface{}, *JSONRPCError) {
	failure := s.blockchain.VerifyChain()
	result := map[string]interface{}{"valid": failure == nil}
	if failure != nil {
		result["failure"] = failureView(failure)
	}
	return result, nil
}

func failureView(f *core.ChainIntegrityFailure) map[string]interface{} {
	return map[string]interface{}{
		"block":    f.BlockIndex,
		"check":    string(f.Check),
		"reason":   f.Reason,
		"expected": f.Expected,
		"actual":   f.Actual,
	}
}

func transactionRecords(txs []*core.Transaction) []core.TransactionRecord {
	out := make([]core.TransactionRecord, len(txs))
	for i, tx := range txs {
		out[i] = tx.Record()
	}
	return out
}
