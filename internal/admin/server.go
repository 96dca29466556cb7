package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"ganesh-ai/internal/ledger"
	"ganesh-ai/internal/models"
	"ganesh-ai/internal/store"
	"ganesh-ai/internal/utils"
)

type StatsSource interface {
	Stats(ctx context.Context, now time.Time) (*store.Stats, error)
}

type Server struct {
	Ledger       *ledger.Service
	Stats        StatsSource
	User         string
	Password     string
	AllowedCIDRs []string
	TrustProxy   bool
}

func NewServer(svc *ledger.Service, stats StatsSource, user, password string, allowed []string) *Server {
	return &Server{
		Ledger:       svc,
		Stats:        stats,
		User:         user,
		Password:     password,
		AllowedCIDRs: allowed,
	}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.health)
	mux.HandleFunc("GET /admin/stats", s.requireAdmin(s.stats))
	mux.HandleFunc("GET /admin/users/{id}", s.requireAdmin(s.user))
	mux.HandleFunc("GET /admin/users/{id}/ledger", s.requireAdmin(s.ledger))
	mux.HandleFunc("GET /admin/users/{id}/chats", s.requireAdmin(s.chats))
	mux.HandleFunc("POST /admin/users/{id}/adjustments", s.requireAdmin(s.adjust))
	mux.HandleFunc("POST /admin/users/{id}/deactivate", s.requireAdmin(s.deactivate))
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := utils.ClientIP(r, s.TrustProxy)
		if !utils.IsAllowedIP(ip, s.AllowedCIDRs) {
			log.Printf("Admin request from disallowed IP %s", ip)
			utils.WriteError(w, http.StatusForbidden, "forbidden")
			return
		}
		user, pass, ok := r.BasicAuth()
		if s.Password == "" || !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.User)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.Password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
			utils.WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

type userView struct {
	ID             uint       `json:"id"`
	Username       string     `json:"username"`
	Status         string     `json:"status"`
	Balance        string     `json:"balance"`
	IsPremium      bool       `json:"is_premium"`
	PremiumExpires *time.Time `json:"premium_expires,omitempty"`
	ReferralCode   string     `json:"referral_code"`
	ReferrerID     *uint      `json:"referrer_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type entryView struct {
	ID            uint      `json:"id"`
	Kind          string    `json:"kind"`
	Amount        string    `json:"amount"`
	BalanceAfter  string    `json:"balance_after"`
	RelatedUserID *uint     `json:"related_user_id,omitempty"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type chatView struct {
	ID        uint      `json:"id"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Model     string    `json:"model,omitempty"`
	Platform  string    `json:"platform"`
	Tokens    int       `json:"tokens"`
	Earning   string    `json:"earning"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserView(u models.User) userView {
	return userView{
		ID:             u.ID,
		Username:       u.Username,
		Status:         u.Status,
		Balance:        u.Balance.StringFixed(2),
		IsPremium:      u.IsPremium,
		PremiumExpires: u.PremiumExpires,
		ReferralCode:   u.ReferralCode,
		ReferrerID:     u.ReferrerID,
		CreatedAt:      u.CreatedAt,
	}
}

func toEntryView(e models.LedgerEntry) entryView {
	return entryView{
		ID:            e.ID,
		Kind:          string(e.Kind),
		Amount:        e.Amount.StringFixed(2),
		BalanceAfter:  e.BalanceAfter.StringFixed(2),
		RelatedUserID: e.RelatedUserID,
		Note:          e.Note,
		CreatedAt:     e.CreatedAt,
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.Stats.Stats(r.Context(), time.Now().UTC())
	if err != nil {
		log.Printf("Failed to compute stats: %v", err)
		utils.WriteError(w, http.StatusServiceUnavailable, "stats unavailable")
		return
	}
	utils.WriteJSON(w, http.StatusOK, st)
}

func (s *Server) user(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	st, err := s.Ledger.Statement(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	referrals, err := s.Ledger.Store().ReferralCount(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"user":      toUserView(st.User),
		"entries":   len(st.Entries),
		"referrals": referrals,
	})
}

func (s *Server) ledger(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	st, err := s.Ledger.Statement(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	entries := make([]entryView, 0, len(st.Entries))
	for _, e := range st.Entries {
		entries = append(entries, toEntryView(e))
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"balance": st.Total.StringFixed(2),
		"entries": entries,
	})
}

const (
	defaultChatLimit = 20
	maxChatLimit     = 100
)

func (s *Server) chats(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	limit := defaultChatLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			utils.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxChatLimit)
	}

	ctx := r.Context()
	if _, err := s.Ledger.Store().User(ctx, id); err != nil {
		writeLedgerError(w, err)
		return
	}
	records, err := s.Ledger.Store().Chats(ctx, id, limit)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	chats := make([]chatView, 0, len(records))
	for _, c := range records {
		chats = append(chats, chatView{
			ID:        c.ID,
			Prompt:    c.Prompt,
			Response:  c.Response,
			Model:     c.Model,
			Platform:  c.Platform,
			Tokens:    c.Tokens,
			Earning:   c.Earning.StringFixed(2),
			CreatedAt: c.CreatedAt,
		})
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

type adjustmentRequest struct {
	Delta string `json:"delta"`
	Note  string `json:"note"`
}

func (s *Server) adjust(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var req adjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	delta, err := decimal.NewFromString(req.Delta)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "delta must be a decimal string")
		return
	}
	if req.Note == "" {
		utils.WriteError(w, http.StatusBadRequest, "note is required")
		return
	}

	res, err := s.Ledger.ApplyAdminAdjustment(r.Context(), id, delta, req.Note)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	log.Printf("Admin adjusted user %d by %s: %s", id, delta.StringFixed(2), req.Note)
	utils.WriteJSON(w, http.StatusCreated, map[string]any{
		"user":  toUserView(res.User),
		"entry": toEntryView(res.Entry),
	})
}

func (s *Server) deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	if err := s.Ledger.Deactivate(r.Context(), id); err != nil {
		writeLedgerError(w, err)
		return
	}
	log.Printf("Admin deactivated user %d", id)
	w.WriteHeader(http.StatusNoContent)
}

func userID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		utils.WriteError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return uint(id), true
}

func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrUserNotFound):
		utils.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInvalidInput),
		errors.Is(err, ledger.ErrUserInactive):
		utils.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrDuplicateReferral):
		utils.WriteError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("Ledger error: %v", err)
		utils.WriteError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	}
}
