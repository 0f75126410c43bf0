package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wearlab/tryon-server/internal/config"
	"github.com/wearlab/tryon-server/internal/feature"
	"github.com/wearlab/tryon-server/internal/kling"
	"github.com/wearlab/tryon-server/internal/models"
	"github.com/wearlab/tryon-server/internal/service"
)

// Server is the public API consumed by the single-page app.
type Server struct {
	cfg       config.Config
	log       *slog.Logger
	tryon     *service.TryOnService
	users     *service.UserService
	promos    *service.PromoService
	referrals *service.ReferralService
	webhooks  *service.WebhookService
	flags     feature.FlagSet
	router    *chi.Mux
}

func NewServer(cfg config.Config, log *slog.Logger, tryon *service.TryOnService, users *service.UserService, promos *service.PromoService, referrals *service.ReferralService, webhooks *service.WebhookService) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:       cfg,
		log:       log,
		tryon:     tryon,
		users:     users,
		promos:    promos,
		referrals: referrals,
		webhooks:  webhooks,
		flags:     feature.Defaults(),
		router:    r,
	}

	r.Post("/lemon-webhook", s.handleLemonWebhook)
	r.Post("/share-click", s.handleShareClick)
	r.Group(func(authed chi.Router) {
		authed.Use(authMiddleware(cfg.JWTSecret))
		authed.Post("/api/tryon", s.handleTryOnPost)
		authed.Get("/api/tryon", s.handleTryOnResult)
		authed.Post("/api/share", s.handleCreateShare)
		authed.Post("/api/promo/claim", s.handlePromoClaim)
		authed.Get("/api/me", s.handleMe)
	})

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("api shutdown error", "err", err)
		}
	}()

	s.log.Info("api listening", "addr", s.cfg.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

func (s *Server) handleTryOnPost(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("action") {
	case "start":
		s.handleStart(w, r)
	case "continue-full":
		s.handleContinueFull(w, r)
	default:
		s.writeError(w, http.StatusBadRequest, "unknown action")
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ctx := r.Context()

	// First contact creates the ledger row with the signup bonus.
	if _, _, err := s.users.Ensure(ctx, uid, s.cfg.SignupBonusCredits); err != nil {
		s.internalError(w, err)
		return
	}

	// Three files tops, plus form fields.
	r.Body = http.MaxBytesReader(w, r.Body, 3*s.cfg.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	req := service.StartRequest{
		Mode:        models.TryOnMode(r.FormValue("mode")),
		FullVariant: models.FullVariant(r.FormValue("fullModeType")),
	}
	var err error
	if req.PersonImage, err = readUpload(r, "person_image"); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TopGarment, err = readUpload(r, "top_garment"); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BottomGarment, err = readUpload(r, "bottom_garment"); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	taskID, err := s.tryon.Start(ctx, uid, req)
	if err != nil {
		s.writeTryOnError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"taskId": taskID})
}

func (s *Server) handleTryOnResult(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("action") != "result" {
		s.writeError(w, http.StatusBadRequest, "unknown action")
		return
	}
	uid, ok := userID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	taskID := r.URL.Query().Get("taskId")
	if taskID == "" {
		s.writeError(w, http.StatusBadRequest, "taskId is required")
		return
	}

	result, err := s.tryon.Result(r.Context(), uid, taskID)
	if err != nil {
		s.writeTryOnError(w, err)
		return
	}

	resp := map[string]any{"status": wireStatus(result.Status)}
	if result.ImageURL != "" {
		resp["imageUrl"] = result.ImageURL
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleContinueFull(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req struct {
		Step1TaskID   string `json:"step1TaskId"`
		Step1ImageURL string `json:"step1ImageUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	taskID, err := s.tryon.ContinueFull(r.Context(), uid, req.Step1TaskID, req.Step1ImageURL)
	if err != nil {
		s.writeTryOnError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"taskId": taskID})
}

func (s *Server) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TaskID == "" {
		s.writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}

	link, err := s.referrals.EnsureLink(r.Context(), uid, req.TaskID)
	if err != nil {
		s.writeTryOnError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"share_code":   link.Code,
		"click_count":  link.Clicks,
		"reward_given": link.RewardGiven,
	})
}

func (s *Server) handleShareClick(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ShareCode          string `json:"share_code"`
		VisitorFingerprint string `json:"visitor_fingerprint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	result, err := s.referrals.RecordClick(r.Context(), req.ShareCode, req.VisitorFingerprint)
	switch {
	case errors.Is(err, service.ErrShareNotFound):
		s.writeError(w, http.StatusNotFound, "share link not found")
		return
	case errors.Is(err, service.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"click_count":  result.Clicks,
		"reward_given": result.RewardGiven,
	})
}

func (s *Server) handlePromoClaim(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		s.writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	if _, _, err := s.users.Ensure(r.Context(), uid, s.cfg.SignupBonusCredits); err != nil {
		s.internalError(w, err)
		return
	}

	outcome, err := s.promos.Claim(r.Context(), uid, req.Code)
	switch {
	case errors.Is(err, service.ErrPromoAlreadyClaimed):
		s.writeError(w, http.StatusConflict, "promo code already claimed")
		return
	case errors.Is(err, service.ErrPromoInvalid),
		errors.Is(err, service.ErrPromoExpired),
		errors.Is(err, service.ErrPromoExhausted):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"credits_added": outcome.CreditsGranted,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if _, _, err := s.users.Ensure(r.Context(), uid, s.cfg.SignupBonusCredits); err != nil {
		s.internalError(w, err)
		return
	}
	profile, err := s.users.Profile(r.Context(), uid)
	if err != nil {
		s.internalError(w, err)
		return
	}

	usage := make([]map[string]any, 0, len(profile.Usage))
	for _, rec := range profile.Usage {
		usage = append(usage, map[string]any{
			"task_id":    rec.TaskID,
			"mode":       rec.Mode,
			"credits":    rec.Credits,
			"created_at": rec.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  profile.User.ID,
		"credits":  profile.User.Credits,
		"usage":    usage,
		"features": feature.EnabledFor(s.flags, userRole(r.Context())),
	})
}

func (s *Server) handleLemonWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read body error")
		return
	}

	result, err := s.webhooks.HandleOrderWebhook(r.Context(), body, r.Header.Get("x-signature"))
	switch {
	case errors.Is(err, service.ErrBadSignature):
		s.writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	case errors.Is(err, service.ErrBadWebhook):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.log.Error("order webhook", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := map[string]any{"success": true}
	if result.Message != "" {
		resp["message"] = result.Message
	} else {
		resp["credits_added"] = result.CreditsAdded
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// writeTryOnError maps coordinator failures onto the status codes the SPA
// routes on: 402 → purchase flow, 403/404 terminal, 502/504 retryable.
func (s *Server) writeTryOnError(w http.ResponseWriter, err error) {
	var insufficient *service.InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient):
		s.writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":    "Insufficient credits",
			"required": insufficient.Required,
			"current":  insufficient.Current,
		})
	case errors.Is(err, service.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrTaskForbidden):
		s.writeError(w, http.StatusForbidden, "task belongs to another user")
	case errors.Is(err, service.ErrTaskNotFound):
		s.writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, kling.ErrTimeout):
		s.writeError(w, http.StatusGatewayTimeout, "upstream timeout")
	case errors.Is(err, kling.ErrUpstream):
		s.writeError(w, http.StatusBadGateway, "upstream error")
	default:
		s.internalError(w, err)
	}
}

// wireStatus renders the status enum in the integer convention the SPA
// already speaks: 1 pending, 2 success, 3 error.
func wireStatus(status models.TaskStatus) int {
	switch status {
	case models.StatusSucceeded:
		return 2
	case models.StatusFailed:
		return 3
	default:
		return 1
	}
}

func readUpload(r *http.Request, field string) (*service.Upload, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	return &service.Upload{
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
	}, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]any{"error": msg})
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("api handler error", "err", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}
