package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

type Client struct {
	KeyID      string
	KeySecret  string
	APIURL     string
	HTTPClient *http.Client
}

func NewClient(keyID, keySecret string) *Client {
	return &Client{
		KeyID:     keyID,
		KeySecret: keySecret,
		APIURL:    "https://api.razorpay.com/v1",
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Name() string { return "razorpay" }

func (c *Client) PublicKey() string { return c.KeyID }

// CreateOrder registers an order of amount (in rupees) with the gateway.
func (c *Client) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string, notes map[string]string) (*OrderResponse, error) {
	if c.KeyID == "" || c.KeySecret == "" {
		return nil, ErrNotConfigured
	}

	reqBody := OrderRequest{
		Amount:   amount.Shift(2).Round(0).IntPart(),
		Currency: currency,
		Receipt:  receipt,
		Notes:    notes,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/orders", c.APIURL), bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.KeyID, c.KeySecret)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("api error: %s (status: %d)", string(respBody), resp.StatusCode)
	}

	var order OrderResponse
	if err := json.Unmarshal(respBody, &order); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &order, nil
}

// VerifySignature checks the checkout signature: hex(HMAC-SHA256(order_id|payment_id, key_secret)).
func (c *Client) VerifySignature(orderID, paymentID, signature string) bool {
	if c.KeySecret == "" || signature == "" {
		return false
	}
	expected := Sign(c.KeySecret, orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
