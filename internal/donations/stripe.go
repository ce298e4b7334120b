package donations

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

// Compile-time check that StripeProvider implements PaymentProvider.
var _ PaymentProvider = (*StripeProvider)(nil)

// StripeProvider processes card payments through Stripe payment intents.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
}

// NewStripeProvider creates a Stripe-backed payment provider.
func NewStripeProvider(apiKey, webhookSecret string) *StripeProvider {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeProvider{api: api, webhookSecret: webhookSecret}
}

// CreateIntent opens a payment intent and returns its ID and client secret.
func (s *StripeProvider) CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (string, string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return "", "", fmt.Errorf("stripe payment intent: %w", err)
	}
	return pi.ID, pi.ClientSecret, nil
}

// VerifyWebhook checks the Stripe signature and extracts the event type and
// payment intent ID. Returns an empty intent ID for event types the
// donations service does not act on.
func (s *StripeProvider) VerifyWebhook(payload []byte, signature string) (string, string, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return "", "", fmt.Errorf("verify webhook signature: %w", err)
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded, stripe.EventTypePaymentIntentPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return string(event.Type), "", fmt.Errorf("decode payment intent: %w", err)
		}
		return string(event.Type), pi.ID, nil
	default:
		return string(event.Type), "", nil
	}
}
