package http

import (
	"context"
	"net/http"

	"github.com/meterline/x402-gate"
	"github.com/meterline/x402-gate/http/internal/helpers"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// settlementContextKey stores the settlement of the payment for a request.
const settlementContextKey = contextKey("x402_settlement")

// WithSettlement returns a copy of ctx carrying settlement.
func WithSettlement(ctx context.Context, settlement *x402.SettlementResponse) context.Context {
	return context.WithValue(ctx, settlementContextKey, settlement)
}

// SettlementFromContext returns the settlement of the payment that unlocked the
// current request.
func SettlementFromContext(ctx context.Context) (*x402.SettlementResponse, bool) {
	settlement, ok := ctx.Value(settlementContextKey).(*x402.SettlementResponse)
	return settlement, ok && settlement != nil
}

// Protect returns middleware that serves next only after a payment for route
// has been verified and settled. The settlement is attached to the response as
// X-PAYMENT-RESPONSE and to the request context. OPTIONS requests are answered
// as CORS preflight without calling next.
func (g *Gate) Protect(route Route) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				helpers.WritePreflight(w, r)
				return
			}

			header := r.Header.Get(x402.PaymentHeader)
			if header == "" {
				g.logger.Debug("no payment header provided", "path", r.URL.Path)
				g.Challenge(w, r, route, helpers.DefaultChallengeReason)
				return
			}

			result := g.Check(r.Context(), header, helpers.ResourceURL(r), route)
			if result.Err != nil {
				helpers.WriteNegotiationError(w, result.Err)
				return
			}
			if !result.Valid {
				g.Challenge(w, r, route, result.Error)
				return
			}

			if err := helpers.SetSettlementHeader(w.Header(), result.Settlement); err != nil {
				g.logger.Warn("failed to add payment response header", "error", err)
			}
			next.ServeHTTP(w, r.WithContext(WithSettlement(r.Context(), result.Settlement)))
		})
	}
}

// ProtectFunc is Protect for a handler function.
func (g *Gate) ProtectFunc(route Route, next http.HandlerFunc) http.Handler {
	return g.Protect(route)(next)
}
