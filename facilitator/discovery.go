package facilitator

import (
	"context"
	"fmt"

	"github.com/meterline/x402-gate/retry"
)

// DiscoverFeePayers asks the facilitator once which account pays Solana
// transaction fees on each network. Only transport failures are retried, and
// only within policy.
func DiscoverFeePayers(ctx context.Context, f Interface, policy retry.Policy) (map[string]string, error) {
	supported, err := retry.Do(ctx, policy, retry.Transient, f.Supported)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch supported payment kinds: %w", err)
	}
	return supported.FeePayers(), nil
}
