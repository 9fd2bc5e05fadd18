// Package echo provides Echo-compatible middleware for x402 payment gating.
// It translates echo.Context to the gate's stdlib patterns and delegates
// verification and settlement to the http package.
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/meterline/x402-gate"
	httpx402 "github.com/meterline/x402-gate/http"
	"github.com/meterline/x402-gate/http/internal/helpers"
)

// SettlementKey is the echo.Context key holding the *x402.SettlementResponse.
const SettlementKey = "x402_settlement"

// NewEchoX402Middleware returns middleware that calls next only after a
// payment for route has been verified and settled. OPTIONS requests are
// answered as CORS preflight without calling next. The settlement is stored with c.Set(SettlementKey, ...) and in the
// request context.
//
//	e := echo.New()
//	e.GET("/quote", quoteHandler, NewEchoX402Middleware(gate, httpx402.Route{Price: "$0.01"}))
func NewEchoX402Middleware(gate *httpx402.Gate, route httpx402.Route) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method == http.MethodOptions {
				helpers.SetPreflightHeaders(c.Response().Header(), req)
				return c.NoContent(http.StatusNoContent)
			}

			resource := helpers.ResourceURL(req)

			header := req.Header.Get(x402.PaymentHeader)
			if header == "" {
				return challenge(c, gate, resource, route, helpers.DefaultChallengeReason)
			}

			result := gate.Check(req.Context(), header, resource, route)
			if result.Err != nil {
				return c.JSON(http.StatusInternalServerError, helpers.NegotiationError(result.Err))
			}
			if !result.Valid {
				return challenge(c, gate, resource, route, result.Error)
			}

			if err := helpers.SetSettlementHeader(c.Response().Header(), result.Settlement); err != nil {
				return c.JSON(http.StatusInternalServerError, helpers.ErrorBody{Error: "failed to encode settlement"})
			}

			c.Set(SettlementKey, result.Settlement)
			c.SetRequest(req.WithContext(httpx402.WithSettlement(req.Context(), result.Settlement)))
			return next(c)
		}
	}
}

func challenge(c echo.Context, gate *httpx402.Gate, resource string, route httpx402.Route, reason string) error {
	requirements, err := gate.Requirements(resource, route)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, helpers.NegotiationError(err))
	}
	helpers.SetChallengeHeaders(c.Response().Header())
	return c.JSON(http.StatusPaymentRequired, helpers.ChallengeBody(requirements, reason))
}
