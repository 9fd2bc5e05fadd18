// Package chi provides Chi-compatible middleware for x402 payment gating.
// Prices can be attached per route pattern so one middleware covers a whole
// router group.
package chi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	httpx402 "github.com/meterline/x402-gate/http"
)

// NewChiX402Middleware gates every request it wraps behind route.
//
// Example usage:
//
//	gate, _ := httpx402.NewGate(ctx, cfg)
//	r := chi.NewRouter()
//	r.With(NewChiX402Middleware(gate, httpx402.Route{Price: "$0.01"})).Get("/quote", quoteHandler)
func NewChiX402Middleware(gate *httpx402.Gate, route httpx402.Route) func(http.Handler) http.Handler {
	return gate.Protect(route)
}

// PricedRoutes gates requests by their matched chi route pattern. Patterns
// missing from routes are served without payment.
//
// The pattern is only known once chi has routed the request, so the
// middleware must be installed inside a Group or with With, not on the root
// router with Use.
//
//	r.Group(func(r chi.Router) {
//	    r.Use(PricedRoutes(gate, map[string]httpx402.Route{
//	        "/quote/{symbol}": {Price: "$0.001"},
//	    }))
//	    r.Get("/quote/{symbol}", quoteHandler)
//	    r.Get("/health", healthHandler)
//	})
func PricedRoutes(gate *httpx402.Gate, routes map[string]httpx402.Route) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		protected := make(map[string]http.Handler, len(routes))
		for pattern, route := range routes {
			protected[pattern] = gate.Protect(route)(next)
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if h, ok := protected[routePattern(r)]; ok {
				h.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}
