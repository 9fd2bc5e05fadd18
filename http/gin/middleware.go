// Package gin provides Gin-compatible middleware for x402 payment gating.
// This package is a thin adapter that translates gin.Context to the gate's
// stdlib patterns and delegates verification and settlement to the http package.
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meterline/x402-gate"
	httpx402 "github.com/meterline/x402-gate/http"
	"github.com/meterline/x402-gate/http/internal/helpers"
)

// SettlementKey is the gin.Context key holding the *x402.SettlementResponse.
const SettlementKey = "x402_settlement"

// NewGinX402Middleware returns middleware that serves the handler chain only
// after a payment for route has been verified and settled.
//
// The middleware:
//   - Answers OPTIONS requests as CORS preflight (204) without running the handler
//   - Aborts with 402 and the accepted options when X-PAYMENT is missing or rejected
//   - Aborts with 500 when the route has no payment options
//   - Sets X-PAYMENT-RESPONSE and stores the settlement via c.Set(SettlementKey, ...)
//     and in the request context before calling c.Next()
//
// Example usage:
//
//	gate, _ := httpx402.NewGate(ctx, cfg)
//	r := gin.Default()
//	r.GET("/quote", NewGinX402Middleware(gate, httpx402.Route{Price: "$0.01"}), func(c *gin.Context) {
//	    settlement := c.MustGet(SettlementKey).(*x402.SettlementResponse)
//	    c.JSON(200, gin.H{"payer": settlement.Payer})
//	})
func NewGinX402Middleware(gate *httpx402.Gate, route httpx402.Route) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			helpers.SetPreflightHeaders(c.Writer.Header(), c.Request)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		resource := helpers.ResourceURL(c.Request)

		header := c.GetHeader(x402.PaymentHeader)
		if header == "" {
			abortWithChallenge(c, gate, resource, route, helpers.DefaultChallengeReason)
			return
		}

		result := gate.Check(c.Request.Context(), header, resource, route)
		if result.Err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, helpers.NegotiationError(result.Err))
			return
		}
		if !result.Valid {
			abortWithChallenge(c, gate, resource, route, result.Error)
			return
		}

		if err := helpers.SetSettlementHeader(c.Writer.Header(), result.Settlement); err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, helpers.ErrorBody{Error: "failed to encode settlement"})
			return
		}

		c.Set(SettlementKey, result.Settlement)
		c.Request = c.Request.WithContext(httpx402.WithSettlement(c.Request.Context(), result.Settlement))

		c.Next()
	}
}

// abortWithChallenge answers with 402 using Gin's JSON rendering.
func abortWithChallenge(c *gin.Context, gate *httpx402.Gate, resource string, route httpx402.Route, reason string) {
	requirements, err := gate.Requirements(resource, route)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, helpers.NegotiationError(err))
		return
	}
	helpers.SetChallengeHeaders(c.Writer.Header())
	c.AbortWithStatusJSON(http.StatusPaymentRequired, helpers.ChallengeBody(requirements, reason))
}
