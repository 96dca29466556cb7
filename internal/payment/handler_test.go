package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"ganesh-ai/internal/database"
	"ganesh-ai/internal/ledger"
	"ganesh-ai/internal/models"
	"ganesh-ai/internal/store"
)

type recordingNotifier struct {
	texts []string
}

func (n *recordingNotifier) NotifyUser(_ context.Context, _ models.User, text string) error {
	n.texts = append(n.texts, text)
	return nil
}

// flakyStore fails every ledger transaction while down is set.
type flakyStore struct {
	*store.Store
	down bool
}

func (f *flakyStore) Atomic(ctx context.Context, fn func(tx ledger.Tx) error) error {
	if f.down {
		return errors.New("connection reset")
	}
	return f.Store.Atomic(ctx, fn)
}

type HandlerTestSuite struct {
	suite.Suite
	gateway  *httptest.Server
	orders   []OrderRequest
	handler  *Handler
	notifier *recordingNotifier
	store    *flakyStore
	userID   uint
}

func (s *HandlerTestSuite) SetupTest() {
	s.orders = nil
	s.gateway = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		s.True(ok)
		s.Equal("rzp_test", user)
		s.Equal("secret", pass)

		var req OrderRequest
		s.NoError(json.NewDecoder(r.Body).Decode(&req))
		s.orders = append(s.orders, req)
		_ = json.NewEncoder(w).Encode(OrderResponse{
			ID: "order_123", Entity: "order", Amount: req.Amount, Currency: req.Currency,
			Receipt: req.Receipt, Status: "created",
		})
	}))

	db, err := database.ConnectSQLite(filepath.Join(s.T().TempDir(), "pay.db"))
	s.Require().NoError(err)

	s.store = &flakyStore{Store: store.New(db)}
	svc := ledger.NewService(s.store, ledger.DefaultPolicy())
	reg, err := svc.Register(context.Background(), ledger.Registration{Username: "kiran"})
	s.Require().NoError(err)
	s.userID = reg.User.ID

	client := NewClient("rzp_test", "secret")
	client.APIURL = s.gateway.URL
	s.notifier = &recordingNotifier{}
	s.handler = NewHandler(client, db, svc, s.notifier, "https://ganesh.example")
}

func (s *HandlerTestSuite) TearDownTest() {
	s.gateway.Close()
}

func (s *HandlerTestSuite) post(cb CallbackRequest) *httptest.ResponseRecorder {
	body, _ := json.Marshal(cb)
	req := httptest.NewRequest(http.MethodPost, "/payments/razorpay/callback", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handler.HandleCallback(rec, req)
	return rec
}

func (s *HandlerTestSuite) TestStartPremium() {
	checkout, err := s.handler.StartPremium(context.Background(), s.userID, "monthly")
	s.Require().NoError(err)

	s.Equal("order_123", checkout.OrderID)
	s.EqualValues(9900, checkout.Amount)
	s.Equal("rzp_test", checkout.KeyID)
	s.Contains(checkout.URL, "order_id=order_123")
	s.Require().Len(s.orders, 1)
	s.Equal("monthly", s.orders[0].Notes["plan"])

	var p models.Payment
	s.Require().NoError(s.handler.DB.Where("order_id = ?", "order_123").First(&p).Error)
	s.Equal(models.PaymentPending, p.Status)
	s.Equal(s.userID, p.UserID)
}

func (s *HandlerTestSuite) TestStartPremiumUnknownPlan() {
	_, err := s.handler.StartPremium(context.Background(), s.userID, "lifetime")
	s.ErrorIs(err, ledger.ErrInvalidInput)
	s.Empty(s.orders)
}

func (s *HandlerTestSuite) TestCallbackActivatesOnce() {
	_, err := s.handler.StartPremium(context.Background(), s.userID, "monthly")
	s.Require().NoError(err)

	cb := CallbackRequest{OrderID: "order_123", PaymentID: "pay_1", Signature: Sign("secret", "order_123", "pay_1")}
	rec := s.post(cb)
	s.Equal(http.StatusOK, rec.Code)

	rec = s.post(cb)
	s.Equal(http.StatusOK, rec.Code)

	ctx := context.Background()
	user, err := s.handler.Ledger.Store().User(ctx, s.userID)
	s.Require().NoError(err)
	s.True(user.IsPremium)

	entries, err := s.handler.Ledger.Store().Entries(ctx, s.userID)
	s.Require().NoError(err)
	purchases := 0
	for _, e := range entries {
		if e.Kind == models.KindPremiumPurchase {
			purchases++
		}
	}
	s.Equal(1, purchases)
	s.Len(s.notifier.texts, 1)

	var p models.Payment
	s.Require().NoError(s.handler.DB.Where("order_id = ?", "order_123").First(&p).Error)
	s.Equal(models.PaymentCompleted, p.Status)
	s.Equal("pay_1", p.PaymentID)
}

func (s *HandlerTestSuite) TestCallbackReopensPaymentWhenLedgerFails() {
	ctx := context.Background()
	_, err := s.handler.StartPremium(ctx, s.userID, "monthly")
	s.Require().NoError(err)

	cb := CallbackRequest{OrderID: "order_123", PaymentID: "pay_1", Signature: Sign("secret", "order_123", "pay_1")}
	s.store.down = true
	rec := s.post(cb)
	s.Equal(http.StatusServiceUnavailable, rec.Code)

	var p models.Payment
	s.Require().NoError(s.handler.DB.Where("order_id = ?", "order_123").First(&p).Error)
	s.Equal(models.PaymentPending, p.Status)
	s.Nil(p.CompletedAt)

	user, err := s.store.User(ctx, s.userID)
	s.Require().NoError(err)
	s.False(user.IsPremium)
	entries, err := s.store.Entries(ctx, s.userID)
	s.Require().NoError(err)
	for _, e := range entries {
		s.NotEqual(models.KindPremiumPurchase, e.Kind)
	}
	s.Empty(s.notifier.texts)

	s.store.down = false
	rec = s.post(cb)
	s.Equal(http.StatusOK, rec.Code)

	s.Require().NoError(s.handler.DB.Where("order_id = ?", "order_123").First(&p).Error)
	s.Equal(models.PaymentCompleted, p.Status)
	user, err = s.store.User(ctx, s.userID)
	s.Require().NoError(err)
	s.True(user.IsPremium)
	s.Len(s.notifier.texts, 1)
}

func (s *HandlerTestSuite) TestCallbackRejectsBadSignature() {
	_, err := s.handler.StartPremium(context.Background(), s.userID, "yearly")
	s.Require().NoError(err)

	rec := s.post(CallbackRequest{OrderID: "order_123", PaymentID: "pay_1", Signature: "deadbeef"})
	s.Equal(http.StatusBadRequest, rec.Code)

	user, err := s.handler.Ledger.Store().User(context.Background(), s.userID)
	s.Require().NoError(err)
	s.False(user.IsPremium)
}

func (s *HandlerTestSuite) TestCallbackUnknownOrder() {
	rec := s.post(CallbackRequest{OrderID: "order_zzz", PaymentID: "pay_1", Signature: Sign("secret", "order_zzz", "pay_1")})
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerTestSuite) TestCallbackMethodNotAllowed() {
	rec := httptest.NewRecorder()
	s.handler.HandleCallback(rec, httptest.NewRequest(http.MethodGet, "/payments/razorpay/callback", nil))
	s.Equal(http.StatusMethodNotAllowed, rec.Code)
}

func TestHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(HandlerTestSuite))
}

func TestVerifySignature(t *testing.T) {
	c := NewClient("rzp_test", "secret")
	good := Sign("secret", "order_1", "pay_1")

	assert.True(t, c.VerifySignature("order_1", "pay_1", good))
	assert.False(t, c.VerifySignature("order_1", "pay_2", good))
	assert.False(t, c.VerifySignature("order_1", "pay_1", ""))
	assert.False(t, NewClient("rzp_test", "").VerifySignature("order_1", "pay_1", good))
}

func TestCreateOrderNotConfigured(t *testing.T) {
	_, err := NewClient("", "").CreateOrder(context.Background(), ledger.DefaultPolicy().Plans["monthly"].Price, "INR", "r", nil)
	require.ErrorIs(t, err, ErrNotConfigured)
}
