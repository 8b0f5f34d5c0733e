package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// FakePaymentBackend accepts every token except DeclineToken and records the charges.
type FakePaymentBackend struct {
	mu      sync.Mutex
	charges map[string]int64
}

// DeclineToken makes the fake backend decline the card
const DeclineToken = "tok_chargeDeclined"

func NewFakePaymentBackend() *FakePaymentBackend {
	return &FakePaymentBackend{charges: map[string]int64{}}
}

func (f *FakePaymentBackend) CreateCustomer(ctx context.Context, email, cardToken string) (string, error) {
	if cardToken == "" {
		return "", errors.New("card token is required")
	}
	if cardToken == DeclineToken {
		return "", fmt.Errorf("%w: test card declined", ErrPaymentDeclined)
	}
	return "cus_fake_" + uuid.NewString()[:8], nil
}

func (f *FakePaymentBackend) Charge(ctx context.Context, customerID string, amountCents int64) (string, error) {
	if amountCents <= 0 {
		return "", fmt.Errorf("charge amount must be positive: %d", amountCents)
	}
	id := "ch_fake_" + uuid.NewString()[:8]
	f.mu.Lock()
	f.charges[id] = amountCents
	f.mu.Unlock()
	return id, nil
}

// Charged returns the total of all fake charges
func (f *FakePaymentBackend) Charged() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int64
	for _, c := range f.charges {
		sum += c
	}
	return sum
}

// FakeMailingList remembers subscribed addresses
type FakeMailingList struct {
	mu     sync.Mutex
	emails []string
	Err    error
}

func NewFakeMailingList() *FakeMailingList {
	return &FakeMailingList{}
}

func (f *FakeMailingList) Subscribe(ctx context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.emails = append(f.emails, email)
	return nil
}

// Subscribed returns the addresses seen so far
func (f *FakeMailingList) Subscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.emails...)
}
