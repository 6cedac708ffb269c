package main

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/jstz-dev/jstz-core/core"
)

// requestID stamps every inspector request with a correlation id, echoed
// back as X-Request-Id and attached to the access log line, the same
// "opaque, unique, never persisted" uuid.New().String() shape used anywhere
// else this repository needs a throwaway identifier.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-Id", id)
		start := time.Now()
		next.ServeHTTP(w, req)
		logger.WithFields(map[string]interface{}{
			"request_id": id,
			"method":     req.Method,
			"path":       req.URL.Path,
			"duration":   time.Since(start),
		}).Debug("jstzd: inspector request")
	})
}

// serveInspector runs a read-only HTTP endpoint over the live store and
// dispatcher: GET /accounts/{address}, GET /receipts/{hash}, GET /level.
// Grounded on core/virtual_machine.go's gorilla/mux HTTP server — same
// router setup, same bounded-timeout http.Server, generalised from one
// POST /execute opcode endpoint to a handful of read-only GETs.
func serveInspector(addr string, host *core.WALHost, dispatcher *core.Dispatcher) {
	r := mux.NewRouter()
	r.Use(requestID)
	store := core.NewDurableStore(host)

	r.HandleFunc("/accounts/{address}", func(w http.ResponseWriter, req *http.Request) {
		target, err := core.ParseAddress(mux.Vars(req)["address"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		tx := core.NewTxEngine(store).Begin()
		defer tx.Rollback()
		accounts := core.NewAccounts(tx)

		balance, err := accounts.BalanceOf(target)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		nonce, err := accounts.NonceOf(target)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		code, err := accounts.CodeOf(target)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]interface{}{
			"address":   target.String(),
			"kind":      target.Kind.String(),
			"balance":   balance,
			"nonce":     nonce,
			"code_size": len(code),
		})
	}).Methods("GET")

	r.HandleFunc("/receipts/{hash}", func(w http.ResponseWriter, req *http.Request) {
		raw, err := hex.DecodeString(mux.Vars(req)["hash"])
		if err != nil || len(raw) != core.HashSize {
			http.Error(w, "malformed operation hash", http.StatusBadRequest)
			return
		}
		var opHash core.Hash
		copy(opHash[:], raw)
		receipt, ok, err := core.LookupReceipt(store, opHash)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !ok {
			http.NotFound(w, req)
			return
		}
		writeJSON(w, receipt)
	}).Methods("GET")

	r.HandleFunc("/level", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]uint64{"level": dispatcher.CurrentLevel()})
	}).Methods("GET")

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	logger.WithField("addr", addr).Info("jstzd: serving read-only inspector")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Error("jstzd: inspector server stopped")
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
