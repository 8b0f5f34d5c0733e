package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const defaultStripeCurrency = "usd"

// StripeClient talks to the Stripe REST API with form encoded requests.
type StripeClient struct {
	SecretKey  string
	APIBaseURL string
	Currency   string

	HTTPClient *http.Client
}

type stripeObject struct {
	ID    string `json:"id"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewStripeClient(secretKey, apiBaseURL string) *StripeClient {
	return &StripeClient{
		SecretKey:  strings.TrimSpace(secretKey),
		APIBaseURL: strings.TrimRight(strings.TrimSpace(apiBaseURL), "/"),
		Currency:   defaultStripeCurrency,
		HTTPClient: newHTTPClient(),
	}
}

func (c *StripeClient) CreateCustomer(ctx context.Context, email, cardToken string) (string, error) {
	if strings.TrimSpace(cardToken) == "" {
		return "", errors.New("card token is required")
	}
	form := url.Values{}
	form.Set("card", cardToken)
	form.Set("email", email)
	return c.post(ctx, "/customers", form)
}

func (c *StripeClient) Charge(ctx context.Context, customerID string, amountCents int64) (string, error) {
	if amountCents <= 0 {
		return "", fmt.Errorf("charge amount must be positive: %d", amountCents)
	}
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	form.Set("currency", c.Currency)
	return c.post(ctx, "/charges", form)
}

func (c *StripeClient) post(ctx context.Context, path string, form url.Values) (string, error) {
	if c.SecretKey == "" {
		return "", errors.New("STRIPE_SECRET_KEY is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.SecretKey, "")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var out stripeObject
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("stripe %s: status=%d invalid body: %w", path, resp.StatusCode, err)
	}
	if resp.StatusCode == http.StatusPaymentRequired || (out.Error != nil && out.Error.Type == "card_error") {
		msg := ""
		if out.Error != nil {
			msg = out.Error.Message
		}
		return "", fmt.Errorf("%w: %s", ErrPaymentDeclined, msg)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("stripe %s failed: status=%d body=%s", path, resp.StatusCode, string(body))
	}
	if out.ID == "" {
		return "", fmt.Errorf("stripe %s: response without id", path)
	}
	return out.ID, nil
}
