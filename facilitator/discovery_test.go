package facilitator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/meterline/x402-gate"
	"github.com/meterline/x402-gate/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakySupported fails Supported a fixed number of times before answering.
type flakySupported struct {
	Local
	failures int
	err      error
	calls    int
}

func (f *flakySupported) Supported(ctx context.Context) (*SupportedResponse, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return f.Local.Supported(ctx)
}

var fastDiscovery = retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

func TestDiscoverFeePayers(t *testing.T) {
	feePayer := "2wKupLR9q6wXYppw8Gr2NvWxKBUqm4PPJKkQfoxHDBg4"
	base := *NewLocal(WithLocalFeePayers(map[string]string{"solana-devnet": feePayer}))

	t.Run("retries transport failures", func(t *testing.T) {
		f := &flakySupported{Local: base, failures: 2, err: fmt.Errorf("%w: refused", x402.ErrFacilitatorUnavailable)}
		feePayers, err := DiscoverFeePayers(context.Background(), f, fastDiscovery)
		require.NoError(t, err)
		assert.Equal(t, feePayer, feePayers["solana-devnet"])
		assert.Equal(t, 3, f.calls)
	})

	t.Run("gives up within policy", func(t *testing.T) {
		f := &flakySupported{Local: base, failures: 10, err: fmt.Errorf("%w: refused", x402.ErrFacilitatorUnavailable)}
		_, err := DiscoverFeePayers(context.Background(), f, fastDiscovery)
		assert.ErrorIs(t, err, x402.ErrMaxRetriesExceeded)
		assert.Equal(t, 3, f.calls)
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		f := &flakySupported{Local: base, failures: 10, err: errors.New("supported endpoint failed: status 404")}
		_, err := DiscoverFeePayers(context.Background(), f, fastDiscovery)
		assert.Error(t, err)
		assert.Equal(t, 1, f.calls)
	})
}
