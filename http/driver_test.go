package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/meterline/x402-gate"
	"github.com/meterline/x402-gate/evm"
	"github.com/meterline/x402-gate/http/internal/helpers"
	"github.com/meterline/x402-gate/wallet"
)

const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func evmWallet(t *testing.T) wallet.Wallet {
	t.Helper()
	signer, err := evm.NewKeySigner(evm.WithPrivateKey(testKeyHex))
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	return wallet.EVM(evm.NewBuilder(signer, evm.WithLogger(quietLogger)))
}

// countingServer wraps h and records the X-PAYMENT header of every request.
type countingServer struct {
	mu       sync.Mutex
	payments []string
	bodies   []string
}

func (c *countingServer) wrap(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.payments = append(c.payments, r.Header.Get(x402.PaymentHeader))
		c.bodies = append(c.bodies, string(body))
		c.mu.Unlock()
		r.Body = io.NopCloser(bytes.NewReader(body))
		h.ServeHTTP(w, r)
	})
}

func (c *countingServer) requests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payments)
}

// gatedServer serves a test-mode gate on base-sepolia in front of an echo handler.
func gatedServer(t *testing.T, counter *countingServer) *httptest.Server {
	t.Helper()
	cfg := testConfig()
	cfg.TestMode = true
	cfg.Networks = []string{"base-sepolia"}
	g := newTestGate(t, cfg, nil)

	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(append([]byte("paid:"), body...))
	})
	server := httptest.NewServer(counter.wrap(g.Protect(testRoute)(echo)))
	t.Cleanup(server.Close)
	return server
}

// challengeServer always answers 402 offering requirements.
func challengeServer(t *testing.T, counter *countingServer, requirements []x402.PaymentRequirement, reason string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(counter.wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		helpers.WriteChallenge(w, requirements, reason)
	})))
	t.Cleanup(server.Close)
	return server
}

func baseSepoliaRequirement() x402.PaymentRequirement {
	return x402.PaymentRequirement{
		Scheme:            x402.SchemeExact,
		Network:           "base-sepolia",
		MaxAmountRequired: "500",
		PayTo:             testEVMPayTo,
		Asset:             x402.BaseSepolia.USDCAddress,
		MaxTimeoutSeconds: 60,
		Extra:             map[string]any{"name": "USDC", "version": "2"},
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []x402.PaymentEvent
}

func (l *eventLog) record(e x402.PaymentEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types() []x402.PaymentEventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []x402.PaymentEventType
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func TestTransportPaysAndRetries(t *testing.T) {
	counter := &countingServer{}
	server := gatedServer(t, counter)
	events := &eventLog{}

	transport := &X402Transport{
		Wallet:           evmWallet(t),
		Logger:           quietLogger,
		OnPaymentAttempt: events.record,
		OnPaymentSuccess: events.record,
		OnPaymentFailure: events.record,
	}

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/quote", strings.NewReader(`{"symbol":"ETH"}`))
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if string(body) != `paid:{"symbol":"ETH"}` {
		t.Errorf("body = %s, request body was not replayed", body)
	}

	if counter.requests() != 2 {
		t.Fatalf("server saw %d requests, want 2", counter.requests())
	}
	if counter.payments[0] != "" || counter.payments[1] == "" {
		t.Errorf("X-PAYMENT should be absent then present: %q", counter.payments)
	}
	if counter.bodies[0] != counter.bodies[1] {
		t.Errorf("bodies differ: %q", counter.bodies)
	}

	settlement := GetSettlement(resp)
	if settlement == nil || !strings.HasPrefix(settlement.Transaction, "test-") {
		t.Fatalf("settlement = %+v", settlement)
	}

	got := events.types()
	if len(got) != 2 || got[0] != x402.PaymentEventAttempt || got[1] != x402.PaymentEventSuccess {
		t.Fatalf("events = %v", got)
	}
	success := events.events[1]
	if success.Transaction != settlement.Transaction || success.Network != "base-sepolia" || success.Amount != "500" {
		t.Errorf("success event = %+v", success)
	}
}

func TestTransportPassesThroughNon402(t *testing.T) {
	counter := &countingServer{}
	server := httptest.NewServer(counter.wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))
	defer server.Close()

	transport := &X402Transport{Wallet: evmWallet(t)}
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusTeapot || counter.requests() != 1 {
		t.Errorf("status = %d, requests = %d", resp.StatusCode, counter.requests())
	}
}

func TestTransportSyntheticAfterRetries(t *testing.T) {
	tests := []struct {
		name         string
		maxRetries   int
		wantRequests int
	}{
		{"default budget", 0, 2},
		{"two retries", 2, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := &countingServer{}
			server := challengeServer(t, counter, []x402.PaymentRequirement{baseSepoliaRequirement()}, "insufficient_funds")
			events := &eventLog{}

			transport := &X402Transport{
				Wallet:           evmWallet(t),
				MaxRetries:       tt.maxRetries,
				Logger:           quietLogger,
				OnPaymentFailure: events.record,
			}

			req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
			resp, err := transport.RoundTrip(req)
			if err != nil {
				t.Fatalf("RoundTrip() error: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusPaymentRequired {
				t.Fatalf("status = %d, want 402", resp.StatusCode)
			}
			if resp.Header.Get(SyntheticHeader) != "true" {
				t.Error("missing X-Payment-Synthetic header")
			}
			var body map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body["error"] != "max retries exceeded" {
				t.Errorf("body = %v", body)
			}
			if counter.requests() != tt.wantRequests {
				t.Errorf("server saw %d requests, want %d", counter.requests(), tt.wantRequests)
			}

			if len(events.events) != 1 || !errors.Is(events.events[0].Error, x402.ErrMaxRetriesExceeded) {
				t.Fatalf("failure events = %+v", events.events)
			}
			if !strings.Contains(events.events[0].Error.Error(), "insufficient_funds") {
				t.Errorf("failure should carry the server reason: %v", events.events[0].Error)
			}
		})
	}
}

func TestTransportNoCompatibleOption(t *testing.T) {
	counter := &countingServer{}
	solanaOnly := x402.PaymentRequirement{
		Scheme:            x402.SchemeExact,
		Network:           "solana-devnet",
		MaxAmountRequired: "500",
		PayTo:             testSolanaPayTo,
		Asset:             x402.SolanaDevnet.USDCAddress,
		MaxTimeoutSeconds: 60,
	}
	server := challengeServer(t, counter, []x402.PaymentRequirement{solanaOnly}, "")
	events := &eventLog{}

	transport := &X402Transport{
		Wallet:           evmWallet(t),
		OnPaymentAttempt: events.record,
		OnPaymentFailure: events.record,
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := transport.RoundTrip(req)
	if resp != nil {
		resp.Body.Close()
		t.Error("expected no response")
	}

	var pe *x402.PaymentError
	if !errors.As(err, &pe) || pe.Code != x402.ErrCodeNoCompatibleOption {
		t.Fatalf("expected NO_COMPATIBLE_OPTION, got %v", err)
	}
	if !errors.Is(err, x402.ErrNoCompatibleOption) {
		t.Error("error should match ErrNoCompatibleOption")
	}
	if counter.requests() != 1 {
		t.Errorf("server saw %d requests, want 1", counter.requests())
	}
	if len(events.events) != 0 {
		t.Errorf("no payment should be attempted, got %v", events.types())
	}
}

func TestTransportInvalidChallenge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte("pay up"))
	}))
	defer server.Close()

	transport := &X402Transport{Wallet: evmWallet(t)}
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	_, err := transport.RoundTrip(req)

	var pe *x402.PaymentError
	if !errors.As(err, &pe) || pe.Code != x402.ErrCodeInvalidRequirements {
		t.Fatalf("expected INVALID_REQUIREMENTS, got %v", err)
	}
}

func TestTransportSigningFailure(t *testing.T) {
	counter := &countingServer{}
	req402 := baseSepoliaRequirement()
	req402.Extra = nil
	server := challengeServer(t, counter, []x402.PaymentRequirement{req402}, "")
	events := &eventLog{}

	transport := &X402Transport{Wallet: evmWallet(t), OnPaymentFailure: events.record}
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	_, err := transport.RoundTrip(req)

	if !errors.Is(err, x402.ErrInvalidRequirements) {
		t.Fatalf("expected ErrInvalidRequirements, got %v", err)
	}
	if counter.requests() != 1 {
		t.Errorf("server saw %d requests, want 1", counter.requests())
	}
	if got := events.types(); len(got) != 1 || got[0] != x402.PaymentEventFailure {
		t.Errorf("events = %v", got)
	}
}

func TestTransportRejectsInvalidOptionBeforeSigning(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*x402.PaymentRequirement)
		wantErr error
	}{
		{"zero amount", func(r *x402.PaymentRequirement) { r.MaxAmountRequired = "0" }, x402.ErrInvalidAmount},
		{"bad recipient", func(r *x402.PaymentRequirement) { r.PayTo = "0x1234" }, x402.ErrInvalidRequirements},
		{"no timeout", func(r *x402.PaymentRequirement) { r.MaxTimeoutSeconds = 0 }, x402.ErrInvalidRequirements},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := &countingServer{}
			offered := baseSepoliaRequirement()
			tt.mutate(&offered)
			server := challengeServer(t, counter, []x402.PaymentRequirement{offered}, "")
			events := &eventLog{}

			transport := &X402Transport{
				Wallet:           evmWallet(t),
				OnPaymentAttempt: events.record,
				OnPaymentFailure: events.record,
			}
			req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
			_, err := transport.RoundTrip(req)

			var pe *x402.PaymentError
			if !errors.As(err, &pe) || pe.Code != x402.ErrCodeInvalidRequirements {
				t.Fatalf("expected INVALID_REQUIREMENTS, got %v", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error %v does not match %v", err, tt.wantErr)
			}
			if counter.requests() != 1 {
				t.Errorf("server saw %d requests, want 1", counter.requests())
			}
			if got := events.types(); len(got) != 1 || got[0] != x402.PaymentEventFailure {
				t.Errorf("events = %v, want a single failure", got)
			}
		})
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func challengeResponse(t *testing.T, requirements ...x402.PaymentRequirement) *http.Response {
	t.Helper()
	body, err := json.Marshal(helpers.ChallengeBody(requirements, "X-PAYMENT header is required"))
	if err != nil {
		t.Fatalf("failed to marshal challenge: %v", err)
	}
	return &http.Response{
		StatusCode: http.StatusPaymentRequired,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
}

func TestDriverTransitions(t *testing.T) {
	var sent []string
	transport := &X402Transport{
		Wallet: evmWallet(t),
		Base: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			sent = append(sent, r.Header.Get(x402.PaymentHeader))
			return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: http.NoBody}, nil
		}),
	}

	req, _ := http.NewRequest(http.MethodGet, "http://api.example.com/quote", nil)
	d, err := newDriver(transport, req)
	if err != nil {
		t.Fatalf("newDriver() error: %v", err)
	}

	d.resp = challengeResponse(t, baseSepoliaRequirement())
	d.state = StateAwaitingResponse

	d.step()
	if d.state != StatePaymentRequired {
		t.Fatalf("after 402: state = %s, want payment_required", d.state)
	}
	d.step()
	if d.state != StateSigning || d.chosen == nil || d.chosen.Network != "base-sepolia" {
		t.Fatalf("after choosing: state = %s, chosen = %+v", d.state, d.chosen)
	}
	d.step()
	if d.state != StateRetrying || d.header == "" {
		t.Fatalf("after signing: state = %s", d.state)
	}
	d.step()
	if d.state != StateAwaitingResponse || d.attempts != 1 {
		t.Fatalf("after retry: state = %s, attempts = %d", d.state, d.attempts)
	}
	if len(sent) != 1 || sent[0] != d.header {
		t.Errorf("retry did not carry X-PAYMENT: %q", sent)
	}
	d.step()
	if d.state != StateDone || d.err != nil || d.resp.StatusCode != http.StatusOK {
		t.Fatalf("after 200: state = %s, err = %v", d.state, d.err)
	}
}

func TestDriverStateString(t *testing.T) {
	want := map[DriverState]string{
		StateAwaitingResponse: "awaiting_response",
		StatePaymentRequired:  "payment_required",
		StateSigning:          "signing",
		StateRetrying:         "retrying",
		StateDone:             "done",
		DriverState(99):       "unknown",
	}
	for state, name := range want {
		if state.String() != name {
			t.Errorf("%d.String() = %s, want %s", state, state.String(), name)
		}
	}
}
