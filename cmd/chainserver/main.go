package main

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/RelationLab/relation-node/core"
	"github.com/RelationLab/relation-node/pkg/config"
)

// chainserver exposes the chain store's head pointers and block lookups
// over a small read-only HTTP API.

type server struct {
	store *core.ChainStore
}

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logrus.Fatal(err)
	}
	if lvl, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logrus.SetLevel(lvl)
	}

	storage, err := core.StorageFromNamespace(cfg.Chain.Namespace)
	if err != nil {
		logrus.Fatal(err)
	}
	pool, err := core.NewConnectionPool(cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logrus.Fatal(err)
	}
	defer pool.Close()
	genesis, err := core.ParseHash(cfg.Chain.GenesisHash)
	if err != nil {
		logrus.Fatal(err)
	}
	ident := core.NetworkIdentifier{NetVersion: cfg.Chain.NetVersion, GenesisBlockHash: genesis}
	s := &server{store: core.NewChainStore(cfg.Chain.Name, storage, ident, core.ReadOnly,
		core.LogChainHeadUpdateSender{Chain: cfg.Chain.Name}, pool)}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/api/chains", s.handleHeads)
	r.Get("/api/chain/head", s.handleHead)
	r.Get("/api/chain/early-head", s.handleEarlyHead)
	r.Get("/api/chain/blocks/{number:[0-9]+}", s.handleBlocksAtNumber)
	r.Get("/api/chain/receipts/{hash}", s.handleReceipts)

	logrus.Infof("chain server listening on %s", cfg.Server.Bind)
	if err := http.ListenAndServe(cfg.Server.Bind, r); err != nil {
		logrus.Fatal(err)
	}
}

type ptrResponse struct {
	Hash   string `json:"hash"`
	Number int64  `json:"number"`
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("write response")
	}
}

func writePtr(w http.ResponseWriter, ptr *core.BlockPtr, err error) {
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if ptr == nil {
		http.Error(w, "no head", http.StatusNotFound)
		return
	}
	writeJSON(w, ptrResponse{Hash: ptr.HashHex(), Number: ptr.Number})
}

func (s *server) handleHead(w http.ResponseWriter, r *http.Request) {
	ptr, err := s.store.ChainHeadPtr(r.Context())
	writePtr(w, ptr, err)
}

func (s *server) handleEarlyHead(w http.ResponseWriter, r *http.Request) {
	ptr, err := s.store.ChainEarlyHeadPtr(r.Context())
	writePtr(w, ptr, err)
}

func (s *server) handleHeads(w http.ResponseWriter, r *http.Request) {
	heads, err := s.store.ChainHeadPointers(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make(map[string]ptrResponse, len(heads))
	for chain, ptr := range heads {
		out[chain] = ptrResponse{Hash: ptr.HashHex(), Number: ptr.Number}
	}
	writeJSON(w, out)
}

func (s *server) handleBlocksAtNumber(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.ParseInt(chi.URLParam(r, "number"), 10, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hashes, err := s.store.BlockHashesByBlockNumber(r.Context(), number)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = hex.EncodeToString(h[:])
	}
	writeJSON(w, out)
}

func (s *server) handleReceipts(w http.ResponseWriter, r *http.Request) {
	hash, err := core.ParseHash(chi.URLParam(r, "hash"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	receipts, err := s.store.TransactionReceiptsInBlock(r.Context(), hash)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, receipts)
}
