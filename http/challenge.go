package http

import (
	"net/http"

	"github.com/meterline/x402-gate/http/internal/helpers"
)

// Challenge answers r with 402 Payment Required. The accepted options are
// recomputed from the catalog on every call; reason becomes the body's error
// field. When the route has no payment options the response is a 500.
func (g *Gate) Challenge(w http.ResponseWriter, r *http.Request, route Route, reason string) {
	requirements, err := g.Requirements(helpers.ResourceURL(r), route)
	if err != nil {
		g.logger.Error("cannot offer payment options", "path", r.URL.Path, "error", err)
		helpers.WriteNegotiationError(w, err)
		return
	}
	if reason == "" {
		reason = helpers.DefaultChallengeReason
	}
	helpers.WriteChallenge(w, requirements, reason)
}
