package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/mayday-pac/pledgeservice/internal/pkg/config"
)

// ErrPaymentDeclined is returned when the provider refused the card or charge
var ErrPaymentDeclined = errors.New("billing: payment declined")

// PaymentBackend creates customers from a card token and charges them.
type PaymentBackend interface {
	CreateCustomer(ctx context.Context, email, cardToken string) (customerID string, err error)
	Charge(ctx context.Context, customerID string, amountCents int64) (chargeID string, err error)
}

// MailingListSubscriber adds donors to the campaign mailing list.
type MailingListSubscriber interface {
	Subscribe(ctx context.Context, email string) error
}

// NewPaymentBackend selects the payment backend configured by PAYMENT_BACKEND
func NewPaymentBackend(cfg *config.Config) (PaymentBackend, error) {
	switch cfg.PaymentBackend {
	case config.PaymentBackendFake:
		log.Warn("[Billing] Using fake payment backend, no card is charged")
		return NewFakePaymentBackend(), nil
	case config.PaymentBackendStripe:
		return NewStripeClient(cfg.StripeSecretKey, cfg.StripeAPIBaseURL), nil
	}
	return nil, fmt.Errorf("unsupported payment backend %q", cfg.PaymentBackend)
}

// NewMailingListSubscriber selects the mailing list configured by MAILING_LIST_BACKEND
func NewMailingListSubscriber(cfg *config.Config) (MailingListSubscriber, error) {
	switch cfg.MailingListBackend {
	case config.MailingListFake:
		return NewFakeMailingList(), nil
	case config.MailingListMailchimp:
		return NewMailchimpClient(cfg.MailchimpAPIKey, cfg.MailchimpListID, cfg.MailchimpBaseURL)
	}
	return nil, fmt.Errorf("unsupported mailing list backend %q", cfg.MailingListBackend)
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 15 * time.Second,
	}
}
