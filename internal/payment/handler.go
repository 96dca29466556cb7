package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"ganesh-ai/internal/ledger"
	"ganesh-ai/internal/models"
	"ganesh-ai/internal/utils"
)

var (
	ErrNotConfigured    = errors.New("payment: gateway not configured")
	ErrInvalidSignature = errors.New("payment: invalid signature")
	ErrUnknownOrder     = errors.New("payment: unknown order")
)

type Gateway interface {
	Name() string
	PublicKey() string
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string, notes map[string]string) (*OrderResponse, error)
	VerifySignature(orderID, paymentID, signature string) bool
}

// Notifier tells a user about a finished purchase. It may be nil.
type Notifier interface {
	NotifyUser(ctx context.Context, user models.User, text string) error
}

type Handler struct {
	Gateway   Gateway
	DB        *gorm.DB
	Ledger    *ledger.Service
	Notifier  Notifier
	PublicURL string
}

func NewHandler(gateway Gateway, db *gorm.DB, svc *ledger.Service, notifier Notifier, publicURL string) *Handler {
	return &Handler{
		Gateway:   gateway,
		DB:        db,
		Ledger:    svc,
		Notifier:  notifier,
		PublicURL: publicURL,
	}
}

// StartPremium creates a gateway order for plan and records it as pending.
func (h *Handler) StartPremium(ctx context.Context, userID uint, planID string) (*Checkout, error) {
	plan, err := h.Ledger.Policy().Plan(planID)
	if err != nil {
		return nil, err
	}

	receipt := fmt.Sprintf("premium_%d_%s", userID, uuid.NewString()[:8])
	order, err := h.Gateway.CreateOrder(ctx, plan.Price, "INR", receipt, map[string]string{
		"user_id": strconv.FormatUint(uint64(userID), 10),
		"plan":    plan.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	payment := models.Payment{
		UserID:   userID,
		Plan:     plan.ID,
		Amount:   plan.Price,
		Currency: "INR",
		Gateway:  h.Gateway.Name(),
		OrderID:  order.ID,
		Status:   models.PaymentPending,
	}
	if err := h.DB.WithContext(ctx).Create(&payment).Error; err != nil {
		return nil, fmt.Errorf("save payment: %w", err)
	}

	return &Checkout{
		OrderID:  order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		KeyID:    h.Gateway.PublicKey(),
		Plan:     plan.ID,
		URL:      fmt.Sprintf("%s/premium/checkout?order_id=%s", h.PublicURL, order.ID),
	}, nil
}

// Confirm verifies a paid order and activates premium exactly once.
// Replays of an already completed order succeed without side effects.
func (h *Handler) Confirm(ctx context.Context, cb CallbackRequest) (*models.Payment, error) {
	if !h.Gateway.VerifySignature(cb.OrderID, cb.PaymentID, cb.Signature) {
		return nil, ErrInvalidSignature
	}

	db := h.DB.WithContext(ctx)
	var payment models.Payment
	if err := db.Where("order_id = ?", cb.OrderID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownOrder
		}
		return nil, err
	}
	if payment.Status == models.PaymentCompleted {
		return &payment, nil
	}

	now := time.Now().UTC()
	claim := db.Model(&models.Payment{}).
		Where("order_id = ? AND status = ?", cb.OrderID, models.PaymentPending).
		Updates(map[string]interface{}{"status": models.PaymentCompleted, "payment_id": cb.PaymentID, "completed_at": now})
	if claim.Error != nil {
		return nil, claim.Error
	}
	if claim.RowsAffected == 0 {
		// Another request completed it first.
		return &payment, nil
	}

	res, err := h.Ledger.RecordPremiumPurchase(ctx, payment.UserID, payment.Plan, ledger.Confirmation{
		Gateway:   h.Gateway.Name(),
		OrderID:   cb.OrderID,
		PaymentID: cb.PaymentID,
		Confirmed: true,
	})
	if err != nil {
		if rerr := db.Model(&models.Payment{}).Where("order_id = ?", cb.OrderID).
			Updates(map[string]interface{}{"status": models.PaymentPending, "completed_at": nil}).Error; rerr != nil {
			log.Printf("Failed to reopen payment %s after ledger error: %v", cb.OrderID, rerr)
		}
		return nil, fmt.Errorf("activate premium: %w", err)
	}

	payment.Status = models.PaymentCompleted
	payment.PaymentID = cb.PaymentID
	payment.CompletedAt = &now
	log.Printf("Premium %s activated for user %d (order %s)", payment.Plan, payment.UserID, cb.OrderID)

	if h.Notifier != nil && res.User.PremiumExpires != nil {
		text := fmt.Sprintf("⭐ Premium activated!\n\nPlan: %s\nValid until: %s\nYou now earn ₹%s per message.",
			payment.Plan, res.User.PremiumExpires.Format("02.01.2006"), h.Ledger.Policy().Rate(res.User, now).StringFixed(2))
		if err := h.Notifier.NotifyUser(ctx, res.User, text); err != nil {
			log.Printf("Failed to notify user %d about premium: %v", res.User.ID, err)
		}
	}
	return &payment, nil
}

func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cb CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		log.Printf("Failed to decode payment callback: %v", err)
		utils.WriteError(w, http.StatusBadRequest, "bad request")
		return
	}

	payment, err := h.Confirm(r.Context(), cb)
	switch {
	case err == nil:
		utils.WriteJSON(w, http.StatusOK, map[string]string{"status": payment.Status, "plan": payment.Plan})
	case errors.Is(err, ErrInvalidSignature):
		log.Printf("Rejected payment callback for order %s: bad signature", cb.OrderID)
		utils.WriteError(w, http.StatusBadRequest, "invalid signature")
	case errors.Is(err, ErrUnknownOrder):
		utils.WriteError(w, http.StatusNotFound, "unknown order")
	default:
		log.Printf("Failed to process payment callback for order %s: %v", cb.OrderID, err)
		utils.WriteError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	}
}
