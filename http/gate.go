// Package http puts x402 payment gating in front of HTTP handlers and provides
// a payment-aware client that answers 402 challenges on the caller's behalf.
package http

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/meterline/x402-gate"
	"github.com/meterline/x402-gate/config"
	"github.com/meterline/x402-gate/facilitator"
	"github.com/meterline/x402-gate/retry"
)

// Gate issues challenges for priced routes and verifies and settles the
// payments that answer them. It holds only immutable configuration and is safe
// for concurrent use.
type Gate struct {
	catalog     *x402.Catalog
	networks    []string
	facilitator facilitator.Interface
	logger      *slog.Logger
	testMode    bool
}

// Route prices one endpoint.
type Route struct {
	// Price is a USD amount such as "$0.01" or "0.0005".
	Price string

	// Description is shown to the payer by wallets.
	Description string

	// Networks restricts the route to these network ids. Empty means the
	// networks the gate was configured with.
	Networks []string

	// MimeType overrides the advertised content type.
	MimeType string
}

type gateOptions struct {
	facilitator facilitator.Interface
	logger      *slog.Logger
	discovery   retry.Policy
}

// GateOption configures NewGate.
type GateOption func(*gateOptions)

// WithFacilitator replaces the facilitator the configuration would select.
// Passing a *facilitator.Local enables test mode explicitly.
func WithFacilitator(f facilitator.Interface) GateOption {
	return func(o *gateOptions) {
		o.facilitator = f
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) GateOption {
	return func(o *gateOptions) {
		o.logger = logger
	}
}

// WithDiscoveryPolicy bounds the one-time fee payer discovery. Defaults to
// retry.DiscoveryPolicy.
func WithDiscoveryPolicy(policy retry.Policy) GateOption {
	return func(o *gateOptions) {
		o.discovery = policy
	}
}

// NewGate validates cfg and builds a gate.
//
// When Solana networks are listed without a configured fee payer, the gate asks
// the facilitator's /supported endpoint for one, retrying transport failures
// within the discovery policy. A failed discovery is logged and the Solana
// requirements are offered without extra.feePayer.
func NewGate(ctx context.Context, cfg config.Config, opts ...GateOption) (*Gate, error) {
	o := gateOptions{
		logger:    slog.Default(),
		discovery: retry.DiscoveryPolicy,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f := o.facilitator
	if f == nil {
		var err error
		if f, err = cfg.Facilitator(o.logger); err != nil {
			return nil, err
		}
	}

	_, local := f.(*facilitator.Local)
	testMode := cfg.TestMode || local
	if testMode && strings.EqualFold(cfg.AppEnv, config.ProductionEnv) {
		return nil, config.ErrTestModeInProduction
	}
	if testMode {
		o.logger.Warn("x402 gate running in test mode: payments are checked structurally and never settled on chain")
	}

	g := &Gate{
		catalog:     cfg.Catalog(),
		networks:    append([]string(nil), cfg.Networks...),
		facilitator: f,
		logger:      o.logger,
		testMode:    testMode,
	}

	if g.needsFeePayers() {
		feePayers, err := facilitator.DiscoverFeePayers(ctx, f, o.discovery)
		if err != nil {
			o.logger.Warn("fee payer discovery failed, offering solana without extra.feePayer", "error", err)
		} else {
			g.catalog.FeePayers = make(map[string]string)
			for _, network := range g.networks {
				if feePayer, ok := feePayers[network]; ok {
					g.catalog.FeePayers[network] = feePayer
				}
			}
			o.logger.Info("discovered solana fee payers", "count", len(g.catalog.FeePayers))
		}
	}

	return g, nil
}

func (g *Gate) needsFeePayers() bool {
	if g.catalog.SolanaPayTo == "" || len(g.catalog.FeePayers) > 0 {
		return false
	}
	for _, network := range g.networks {
		if x402.FamilyOf(network) == x402.NetworkFamilySVM {
			return true
		}
	}
	return false
}

// TestMode reports whether payments are checked by the local stand-in.
func (g *Gate) TestMode() bool {
	return g.testMode
}

// Requirements returns the payment options for resource under route. An empty
// result is a NO_PAYMENT_OPTIONS error.
func (g *Gate) Requirements(resource string, route Route) ([]x402.PaymentRequirement, error) {
	networks := route.Networks
	if len(networks) == 0 {
		networks = g.networks
	}

	requirements, err := g.catalog.BuildRequirements(resource, route.Description, route.Price, networks)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "failed to build payment requirements", err).
			WithDetails("price", route.Price)
	}
	if len(requirements) == 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeNoPaymentOptions,
			"no payment options configured for this route", x402.ErrNoPaymentOptions).
			WithDetails("networks", strings.Join(networks, ","))
	}

	if route.MimeType != "" {
		for i := range requirements {
			requirements[i].MimeType = route.MimeType
		}
	}
	return requirements, nil
}

// isTransport reports whether err means the facilitator could not be reached.
func isTransport(err error) bool {
	return errors.Is(err, x402.ErrFacilitatorUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
