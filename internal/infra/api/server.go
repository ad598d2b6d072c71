package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"shopee-video-bot/internal/domain"
	"shopee-video-bot/internal/infra/adapters/payment"
	"shopee-video-bot/internal/infra/logging"
	"shopee-video-bot/internal/infra/metrics"
	"shopee-video-bot/internal/usecase"
)

// Pinger is anything /healthz should check (db pool, redis).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes health, metrics, both webhooks and the admin API.
type Server struct {
	entitlements usecase.EntitlementUseCase
	payments     usecase.PaymentUseCase
	telegram     http.Handler
	auth         *AuthManager
	checks       map[string]Pinger
	log          *zerolog.Logger
}

type ServerOption func(*Server)

// WithTelegramWebhook mounts the bot's update endpoint.
func WithTelegramWebhook(h http.Handler) ServerOption {
	return func(s *Server) { s.telegram = h }
}

func WithHealthCheck(name string, p Pinger) ServerOption {
	return func(s *Server) { s.checks[name] = p }
}

func NewServer(entitlements usecase.EntitlementUseCase, payments usecase.PaymentUseCase, auth *AuthManager, logger *zerolog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		entitlements: entitlements,
		payments:     payments,
		auth:         auth,
		checks:       map[string]Pinger{},
		log:          logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), Recover(s.log), RequestLog(s.log))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	if s.telegram != nil {
		r.Post("/telegram/webhook", s.telegram.ServeHTTP)
	}
	r.With(Timeout(20*time.Second)).Post("/payment/webhook", s.handlePaymentWebhook)

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.auth.Require(), Timeout(10*time.Second))
		r.Get("/stats", s.handleStats)
		r.Get("/users/{id}", s.handleGetUser)
		r.Post("/users/{id}/premium", s.handleGrantPremium)
	})
	return r
}

// Run serves until ctx is cancelled, then drains for up to 10s.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Int("port", port).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info().Msg("http server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	status := map[string]string{}
	code := http.StatusOK
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			status[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	writeJSON(w, code, map[string]any{"status": http.StatusText(code), "checks": status})
}

func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	log := logging.With(r.Context(), s.log)
	n, err := payment.ParseNotification(r)
	if err != nil {
		http.Error(w, "bad notification", http.StatusBadRequest)
		return
	}
	if n.Status != "" && !payment.IsPaidStatus(n.Status) {
		w.WriteHeader(http.StatusOK)
		return
	}
	// the body is only a hint; Settle asks the gateway itself
	out, err := s.payments.Settle(r.Context(), n.ID)
	switch {
	case err == nil:
		log.Info().Str("payment_id", n.ID).Bool("paid", out.Paid).Msg("payment webhook handled")
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, domain.ErrAlreadySettled):
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "unknown payment", http.StatusNotFound)
	case errors.Is(err, domain.ErrPaymentGateway):
		log.Warn().Err(err).Str("payment_id", n.ID).Msg("payment webhook: gateway check failed")
		http.Error(w, "gateway unavailable", http.StatusBadGateway)
	default:
		log.Error().Err(err).Str("payment_id", n.ID).Msg("payment webhook failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

type allowanceDTO struct {
	Allowed       bool `json:"allowed"`
	DownloadsLeft int  `json:"downloads_left"`
	IsPremium     bool `json:"is_premium"`
	DailyLimit    int  `json:"daily_limit"`
}

type userDTO struct {
	UserID         int64        `json:"user_id"`
	DownloadsToday int          `json:"downloads_today"`
	LastResetDate  string       `json:"last_reset_date"`
	PremiumExpiry  *string      `json:"premium_expiry"`
	Allowance      allowanceDTO `json:"allowance"`
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		metrics.IncAdminRequest("get_user", "bad_request")
		return
	}
	e, a, err := s.entitlements.Lookup(r.Context(), id)
	if err != nil {
		metrics.IncAdminRequest("get_user", "error")
		s.writeError(w, r, err)
		return
	}
	dto := userDTO{
		UserID:         e.UserID,
		DownloadsToday: e.DownloadsToday,
		LastResetDate:  e.LastResetDate.Format(time.DateOnly),
		Allowance: allowanceDTO{
			Allowed:       a.Allowed,
			DownloadsLeft: a.DownloadsLeft,
			IsPremium:     a.IsPremium,
			DailyLimit:    a.DailyLimit,
		},
	}
	if e.PremiumExpiry != nil {
		exp := e.PremiumExpiry.Format(time.DateOnly)
		dto.PremiumExpiry = &exp
	}
	metrics.IncAdminRequest("get_user", "ok")
	writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleGrantPremium(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		metrics.IncAdminRequest("grant_premium", "bad_request")
		return
	}
	var body struct {
		Days int `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Days <= 0 {
		metrics.IncAdminRequest("grant_premium", "bad_request")
		http.Error(w, "days must be a positive integer", http.StatusBadRequest)
		return
	}
	exp, err := s.entitlements.GrantPremium(r.Context(), id, body.Days)
	if err != nil {
		metrics.IncAdminRequest("grant_premium", "error")
		s.writeError(w, r, err)
		return
	}
	metrics.IncAdminRequest("grant_premium", "ok")
	metrics.IncPremiumGrant("admin", body.Days)
	logging.With(r.Context(), s.log).Info().Int64("user_id", id).Int("days", body.Days).Msg("premium granted by admin")
	writeJSON(w, http.StatusOK, map[string]any{"user_id": id, "premium_expiry": exp.Format(time.DateOnly)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	total, premium, err := s.entitlements.Stats(r.Context())
	if err != nil {
		metrics.IncAdminRequest("stats", "error")
		s.writeError(w, r, err)
		return
	}
	metrics.IncAdminRequest("stats", "ok")
	writeJSON(w, http.StatusOK, map[string]int{"users": total, "premium": premium})
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		logging.With(r.Context(), s.log).Error().Err(err).Str("path", r.URL.Path).Msg("admin request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
