// Package server exposes the thin read-only HTTP facade used by external
// tooling, plus a force-sync trigger. All entitlement mutations stay with
// the conversational layer; nothing here writes the ledger directly.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/subledger/internal/directory"
	"github.com/dukerupert/subledger/internal/entitlement"
	"github.com/dukerupert/subledger/internal/middleware"
	"github.com/dukerupert/subledger/internal/model"
	"github.com/dukerupert/subledger/internal/store"
)

type Config struct {
	// APIToken guards every /api route. An empty token disables the API
	// surface entirely; /health stays up.
	APIToken string
}

type Server struct {
	accounts    *store.AccountStore
	subs        *store.SubscriptionStore
	sync        *entitlement.ReconciliationSync
	cfg         Config
	logger      *slog.Logger
	rateLimiter *middleware.RateLimiter
}

func New(accounts *store.AccountStore, subs *store.SubscriptionStore, sync *entitlement.ReconciliationSync, cfg Config, logger *slog.Logger) *Server {
	return &Server{
		accounts:    accounts,
		subs:        subs,
		sync:        sync,
		cfg:         cfg,
		logger:      logger,
		rateLimiter: middleware.NewRateLimiter(),
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthCheck)

	if s.cfg.APIToken != "" {
		api := http.NewServeMux()
		api.HandleFunc("GET /api/accounts/{id}", s.getAccount)
		api.HandleFunc("GET /api/accounts/{id}/subscriptions", s.listSubscriptions)
		api.HandleFunc("GET /api/subscriptions/{id}", s.getSubscription)
		api.HandleFunc("POST /api/accounts/{id}/sync", s.forceSync)

		authMw := middleware.RequireToken(s.cfg.APIToken)
		rateMw := middleware.RateLimit(s.rateLimiter, middleware.RealIP, 60, time.Minute)
		mux.Handle("/api/", rateMw(authMw(api)))
	}

	return middleware.RequestLogger(s.logger)(mux)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type accountResponse struct {
	*model.Account
	Balance string `json:"balance"`
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.accounts.GetByID(r.PathValue("id"))
	if err != nil {
		s.internalError(w, "get account", err)
		return
	}
	if account == nil {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		Account: account,
		Balance: model.FormatCents(account.BalanceCents),
	})
}

func (s *Server) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.subs.ListByAccount(r.PathValue("id"))
	if err != nil {
		s.internalError(w, "list subscriptions", err)
		return
	}
	if subs == nil {
		subs = []*model.Subscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

func (s *Server) getSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subs.GetByID(r.PathValue("id"))
	if err != nil {
		s.internalError(w, "get subscription", err)
		return
	}
	if sub == nil {
		http.Error(w, "subscription not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) forceSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.sync.Sync(r.Context(), r.PathValue("id"), true)
	if err != nil {
		var de *directory.Error
		if errors.As(err, &de) {
			// Surface the remote failure class; transient ones will be
			// retried by the next scheduled pass anyway.
			http.Error(w, de.Error(), http.StatusBadGateway)
			return
		}
		s.internalError(w, "sync account", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
