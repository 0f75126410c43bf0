package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wearlab/tryon-server/internal/models"
	"github.com/wearlab/tryon-server/internal/repository"
	"github.com/wearlab/tryon-server/internal/service"
)

// Server is the operator panel. It listens on its own address, away from the
// public API, and is guarded by basic auth only.
type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger
	users    *service.UserService
	packs    *service.PackService
	promos   *service.PromoService
	payments *repository.PaymentRepository
	router   *chi.Mux
}

func NewServer(addr, username, password string, log *slog.Logger, users *service.UserService, packs *service.PackService, promos *service.PromoService, payments *repository.PaymentRepository) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:     addr,
		username: username,
		password: password,
		log:      log,
		users:    users,
		packs:    packs,
		promos:   promos,
		payments: payments,
		router:   r,
	}
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Route("/packs", func(r chi.Router) {
			r.Get("/", s.handleListPacks)
			r.Post("/", s.handleCreatePack)
			r.Put("/{id}", s.handleUpdatePack)
			r.Delete("/{id}", s.handleDeletePack)
		})
		protected.Route("/promo-codes", func(r chi.Router) {
			r.Get("/", s.handleListPromos)
			r.Post("/", s.handleCreatePromo)
			r.Put("/{id}", s.handleUpdatePromo)
			r.Delete("/{id}", s.handleDeletePromo)
		})
		protected.Get("/users", s.handleListUsers)
		protected.Post("/users/{id}/credits", s.handleAdjustCredits)
		protected.Get("/payments", s.handleListPayments)
	})
	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("admin shutdown error", "err", err)
		}
	}()

	s.log.Info("admin panel listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

func (s *Server) handleListPacks(w http.ResponseWriter, r *http.Request) {
	packs, err := s.packs.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, packs)
}

func (s *Server) handleCreatePack(w http.ResponseWriter, r *http.Request) {
	var req packRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	input := service.CreatePackInput{
		VariantID:       req.VariantID,
		Title:           req.Title,
		Currency:        req.Currency,
		PriceMinorUnits: req.PriceMinorUnits,
		Credits:         req.Credits,
		IsActive:        req.IsActive,
	}
	pack, err := s.packs.Create(r.Context(), input)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, pack)
}

func (s *Server) handleUpdatePack(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req packUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	input := service.UpdatePackInput{
		VariantID:       req.VariantID,
		Title:           req.Title,
		Currency:        req.Currency,
		PriceMinorUnits: req.PriceMinorUnits,
		Credits:         req.Credits,
		IsActive:        req.IsActive,
	}
	pack, err := s.packs.Update(r.Context(), id, input)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pack)
}

func (s *Server) handleDeletePack(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := s.packs.Delete(r.Context(), id); err != nil {
		s.badRequest(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPromos(w http.ResponseWriter, r *http.Request) {
	promos, err := s.promos.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, promos)
}

func (s *Server) handleCreatePromo(w http.ResponseWriter, r *http.Request) {
	var req promoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	input := service.CreatePromoInput{
		Code:          req.Code,
		DiscountType:  models.DiscountType(req.DiscountType),
		DiscountValue: req.DiscountValue,
		MaxUses:       req.MaxUses,
		ValidFrom:     req.ValidFrom,
		ValidUntil:    req.ValidUntil,
	}
	promo, err := s.promos.Create(r.Context(), input)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, promo)
}

func (s *Server) handleUpdatePromo(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req promoUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	existing, err := s.promos.GetByID(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if existing == nil {
		http.Error(w, "promo not found", http.StatusNotFound)
		return
	}
	if req.Code != nil && *req.Code != "" {
		existing.Code = *req.Code
	}
	if req.DiscountType != nil && *req.DiscountType != "" {
		existing.DiscountType = models.DiscountType(*req.DiscountType)
	}
	if req.DiscountValue != nil && *req.DiscountValue > 0 {
		existing.DiscountValue = *req.DiscountValue
	}
	if req.MaxUses != nil && *req.MaxUses > 0 {
		existing.MaxUses = *req.MaxUses
	}
	if req.Uses != nil && *req.Uses >= 0 {
		existing.Uses = *req.Uses
	}
	if req.ValidFrom != nil {
		existing.ValidFrom = req.ValidFrom
	}
	if req.ValidUntil != nil {
		existing.ValidUntil = req.ValidUntil
	}
	promo, err := s.promos.Update(r.Context(), existing)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, promo)
}

func (s *Server) handleDeletePromo(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := s.promos.Delete(r.Context(), id); err != nil {
		s.badRequest(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	users, err := s.users.List(r.Context(), limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, users)
}

type adjustCreditsRequest struct {
	Delta int `json:"delta"`
}

func (s *Server) handleAdjustCredits(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "id"))
	if userID == "" {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	var req adjustCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Delta == 0 {
		http.Error(w, "delta required", http.StatusBadRequest)
		return
	}
	user, err := s.users.AdjustCredits(r.Context(), userID, req.Delta)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.log.Info("admin credit override", "user", userID, "delta", req.Delta, "credits", user.Credits)
	s.writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	payments, err := s.payments.List(r.Context(), limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, payments)
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="tryon-admin"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("admin handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}

type packRequest struct {
	VariantID       string `json:"variant_id"`
	Title           string `json:"title"`
	Currency        string `json:"currency"`
	PriceMinorUnits int    `json:"price_minor_units"`
	Credits         int    `json:"credits"`
	IsActive        *bool  `json:"is_active"`
}

type packUpdateRequest struct {
	VariantID       *string `json:"variant_id"`
	Title           *string `json:"title"`
	Currency        *string `json:"currency"`
	PriceMinorUnits *int    `json:"price_minor_units"`
	Credits         *int    `json:"credits"`
	IsActive        *bool   `json:"is_active"`
}

type promoRequest struct {
	Code          string     `json:"code"`
	DiscountType  string     `json:"discount_type"`
	DiscountValue int        `json:"discount_value"`
	MaxUses       int        `json:"max_uses"`
	ValidFrom     *time.Time `json:"valid_from"`
	ValidUntil    *time.Time `json:"valid_until"`
}

type promoUpdateRequest struct {
	Code          *string    `json:"code"`
	DiscountType  *string    `json:"discount_type"`
	DiscountValue *int       `json:"discount_value"`
	MaxUses       *int       `json:"max_uses"`
	Uses          *int       `json:"uses"`
	ValidFrom     *time.Time `json:"valid_from"`
	ValidUntil    *time.Time `json:"valid_until"`
}
