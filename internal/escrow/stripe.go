package escrow

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// Stripe implements Service with manual-capture PaymentIntents: Hold creates
// the intent, Release captures it, Refund cancels it before capture.
type Stripe struct {
	currency string

	mu      sync.Mutex
	intents map[int64]string // record id -> PaymentIntent id
}

// NewStripe initializes the stripe client with the STRIPE_API_KEY env var.
func NewStripe(currency string) *Stripe {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	if currency == "" {
		currency = "usd"
	}
	return &Stripe{currency: currency, intents: make(map[int64]string)}
}

func (s *Stripe) Hold(ctx context.Context, recordID int64, amount float64) error {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minorUnits(amount)),
		Currency: stripe.String(s.currency),
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return fmt.Errorf("escrow hold for record %d: %w", recordID, err)
	}
	s.mu.Lock()
	s.intents[recordID] = pi.ID
	s.mu.Unlock()
	return nil
}

func (s *Stripe) Release(ctx context.Context, recordID int64) error {
	id, err := s.intentFor(recordID)
	if err != nil {
		return err
	}
	if _, err := paymentintent.Capture(id, nil); err != nil {
		return fmt.Errorf("escrow release for record %d: %w", recordID, err)
	}
	return nil
}

func (s *Stripe) Refund(ctx context.Context, recordID int64) error {
	id, err := s.intentFor(recordID)
	if err != nil {
		return err
	}
	if _, err := paymentintent.Cancel(id, nil); err != nil {
		return fmt.Errorf("escrow refund for record %d: %w", recordID, err)
	}
	return nil
}

func (s *Stripe) intentFor(recordID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.intents[recordID]
	if !ok {
		return "", fmt.Errorf("no payment intent for record %d", recordID)
	}
	return id, nil
}

// minorUnits converts the record amount to the smallest currency unit.
func minorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
