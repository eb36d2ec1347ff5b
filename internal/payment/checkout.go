package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"

	"github.com/modelarena/modelarena/internal/config"
	"github.com/modelarena/modelarena/internal/pricing"
	"github.com/modelarena/modelarena/internal/wallet"
)

const checkoutProductName = "ModelArena Diamonds"

// ErrInvalidAmount rejects purchase amounts below one diamond pack.
var ErrInvalidAmount = errors.New("payment: amount below minimum purchase")

// Service creates checkout sessions and applies payment events to wallets.
type Service struct {
	wallet *wallet.GormStore
	cfg    config.StripeConfig
}

// NewService constructs a payment Service and configures the Stripe client key.
func NewService(w *wallet.GormStore, cfg config.StripeConfig) *Service {
	stripe.Key = cfg.SecretKey
	return &Service{wallet: w, cfg: cfg}
}

// CheckoutSession describes a created Stripe checkout session.
type CheckoutSession struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	Diamonds  int64  `json:"diamonds"`
}

// CreateCheckoutSession starts a diamond purchase for the given account.
// The diamond quantity is derived from the yen amount at the fixed pack
// rate and carried in the session metadata for the webhook to apply.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID, email string, amountYen int64) (CheckoutSession, error) {
	if amountYen < pricing.PurchaseUnitYen {
		return CheckoutSession{}, ErrInvalidAmount
	}
	diamonds := pricing.DiamondsForYen(amountYen)
	if diamonds <= 0 {
		return CheckoutSession{}, ErrInvalidAmount
	}

	customerID, errCustomer := s.ensureCustomer(ctx, userID, email)
	if errCustomer != nil {
		return CheckoutSession{}, errCustomer
	}

	appURL := strings.TrimRight(s.cfg.AppURL, "/")
	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(customerID),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(string(stripe.CurrencyJPY)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(checkoutProductName),
						Description: stripe.String(fmt.Sprintf("%d diamonds", diamonds)),
					},
					UnitAmount: stripe.Int64(amountYen),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(fmt.Sprintf("%s/account?success=true&diamonds=%d", appURL, diamonds)),
		CancelURL:  stripe.String(appURL + "/pricing?canceled=true"),
	}
	params.AddMetadata("account_id", userID)
	params.AddMetadata("diamonds", strconv.FormatInt(diamonds, 10))

	sess, errCreate := session.New(params)
	if errCreate != nil {
		return CheckoutSession{}, fmt.Errorf("payment: create checkout session: %w", errCreate)
	}
	return CheckoutSession{SessionID: sess.ID, URL: sess.URL, Diamonds: diamonds}, nil
}

// ensureCustomer returns the account's Stripe customer ID, creating the
// customer on first purchase.
func (s *Service) ensureCustomer(ctx context.Context, userID, email string) (string, error) {
	acct, errGet := s.wallet.Get(ctx, userID)
	if errGet != nil {
		return "", errGet
	}
	if acct.StripeCustomerID != "" {
		return acct.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{}
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.AddMetadata("account_id", userID)
	cust, errCreate := customer.New(params)
	if errCreate != nil {
		return "", fmt.Errorf("payment: create customer: %w", errCreate)
	}
	if errSave := s.wallet.SetStripeCustomerID(ctx, userID, cust.ID); errSave != nil {
		return "", errSave
	}
	return cust.ID, nil
}
