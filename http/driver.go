package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/meterline/x402-gate"
	"github.com/meterline/x402-gate/encoding"
	"github.com/meterline/x402-gate/validation"
)

// SyntheticHeader marks a 402 produced by the client after its retry budget
// ran out, rather than one received from the server.
const SyntheticHeader = "X-Payment-Synthetic"

// exhaustedBody is the body of the synthetic 402.
const exhaustedBody = `{"error":"max retries exceeded"}`

// maxChallengeBytes bounds how much of a 402 body is read.
const maxChallengeBytes = 1 << 20

// DriverState is a step of the client payment flow.
type DriverState int

const (
	// StateAwaitingResponse inspects the response to the last request sent.
	StateAwaitingResponse DriverState = iota
	// StatePaymentRequired parses the challenge and chooses a requirement.
	StatePaymentRequired
	// StateSigning asks the wallet for a payment envelope.
	StateSigning
	// StateRetrying resends the request with X-PAYMENT.
	StateRetrying
	// StateDone holds the final response or error.
	StateDone
)

func (s DriverState) String() string {
	switch s {
	case StateAwaitingResponse:
		return "awaiting_response"
	case StatePaymentRequired:
		return "payment_required"
	case StateSigning:
		return "signing"
	case StateRetrying:
		return "retrying"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// driver carries one request through the payment flow. It is not shared
// between requests.
type driver struct {
	t    *X402Transport
	req  *http.Request
	body []byte

	state    DriverState
	resp     *http.Response
	err      error
	attempts int

	options []x402.PaymentRequirement
	chosen  *x402.PaymentRequirement
	header  string
	started time.Time
}

func newDriver(t *X402Transport, req *http.Request) (*driver, error) {
	d := &driver{t: t, req: req}
	if req.Body != nil && req.Body != http.NoBody {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to buffer request body: %w", err)
		}
		d.body = body
	}
	return d, nil
}

// run sends the first request and steps until StateDone.
func (d *driver) run() (*http.Response, error) {
	d.resp, d.err = d.send("")
	if d.err != nil {
		return nil, d.err
	}
	d.state = StateAwaitingResponse

	for d.state != StateDone {
		d.step()
	}
	return d.resp, d.err
}

func (d *driver) step() {
	switch d.state {
	case StateAwaitingResponse:
		d.awaitResponse()
	case StatePaymentRequired:
		d.paymentRequired()
	case StateSigning:
		d.sign()
	case StateRetrying:
		d.retry()
	}
}

// send issues a copy of the request, adding header as X-PAYMENT when set.
func (d *driver) send(header string) (*http.Response, error) {
	out := d.req.Clone(d.req.Context())
	if d.body != nil {
		out.Body = io.NopCloser(bytes.NewReader(d.body))
		out.ContentLength = int64(len(d.body))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(d.body)), nil
		}
	}
	if header != "" {
		out.Header.Set(x402.PaymentHeader, header)
	}
	return d.t.base().RoundTrip(out)
}

func (d *driver) finish(resp *http.Response, err error) {
	d.resp, d.err = resp, err
	d.state = StateDone
}

// awaitResponse passes anything but a 402 through. A 402 is answered with a
// payment while the retry budget lasts and replaced by a synthetic 402 after.
func (d *driver) awaitResponse() {
	if d.resp.StatusCode != http.StatusPaymentRequired {
		if d.attempts > 0 {
			d.paid()
		}
		d.finish(d.resp, nil)
		return
	}

	if d.started.IsZero() {
		d.started = time.Now()
	}

	if d.attempts >= d.t.maxRetries() {
		reason := challengeReason(d.resp)
		d.resp.Body.Close()

		err := x402.ErrMaxRetriesExceeded
		if reason != "" {
			err = fmt.Errorf("%w: %s", x402.ErrMaxRetriesExceeded, reason)
		}
		if d.attempts > 0 {
			d.t.emit(x402.PaymentEventFailure, d.event(err))
		}
		d.t.logger().Warn("payment retries exhausted", "url", d.req.URL.String(), "attempts", d.attempts, "reason", reason)
		d.finish(exhaustedResponse(d.req), nil)
		return
	}

	d.state = StatePaymentRequired
}

// paymentRequired parses the accepted options and chooses one the wallet can pay.
func (d *driver) paymentRequired() {
	challenge, err := readChallenge(d.resp)
	if err != nil {
		d.finish(nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "failed to parse payment requirements", err))
		return
	}
	d.options = challenge.Accepts

	compatible := x402.FilterByFamily(d.options, d.t.Wallet.Family())
	if len(compatible) == 0 {
		d.finish(nil, x402.NewPaymentError(x402.ErrCodeNoCompatibleOption, "no compatible payment options", x402.ErrNoCompatibleOption).
			WithDetails("family", d.t.Wallet.Family().String()).
			WithDetails("offered", len(d.options)))
		return
	}

	chosen, err := d.t.chooser().Choose(compatible)
	if err != nil {
		d.finish(nil, err)
		return
	}
	d.chosen = chosen
	d.state = StateSigning
}

// sign asks the wallet for exactly one envelope. A malformed option or a
// wallet error ends the flow.
func (d *driver) sign() {
	if err := validation.ValidatePaymentRequirement(*d.chosen); err != nil {
		err = x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "server offered an invalid payment option",
			fmt.Errorf("%w: %w", x402.ErrInvalidRequirements, err)).
			WithDetails("network", d.chosen.Network)
		d.t.emit(x402.PaymentEventFailure, d.event(err))
		d.finish(nil, err)
		return
	}

	payment, err := d.t.Wallet.Pay(d.req.Context(), d.chosen)
	if err != nil {
		d.t.emit(x402.PaymentEventFailure, d.event(err))
		d.finish(nil, err)
		return
	}

	header, err := encoding.EncodePayment(*payment)
	if err != nil {
		err = x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to encode payment header", err)
		d.t.emit(x402.PaymentEventFailure, d.event(err))
		d.finish(nil, err)
		return
	}

	d.header = header
	d.t.emit(x402.PaymentEventAttempt, d.event(nil))
	d.state = StateRetrying
}

// retry resends the original request carrying the payment.
func (d *driver) retry() {
	d.attempts++
	resp, err := d.send(d.header)
	if err != nil {
		d.t.emit(x402.PaymentEventFailure, d.event(err))
		d.finish(nil, err)
		return
	}
	d.resp = resp
	d.state = StateAwaitingResponse
}

// paid reports the outcome of a successful paid retry.
func (d *driver) paid() {
	event := d.event(nil)
	if settlement := GetSettlement(d.resp); settlement != nil {
		event.Transaction = settlement.Transaction
		event.Payer = settlement.Payer
	}
	d.t.emit(x402.PaymentEventSuccess, event)
}

func (d *driver) event(err error) x402.PaymentEvent {
	event := x402.PaymentEvent{
		Timestamp: time.Now(),
		URL:       d.req.URL.String(),
		Payer:     d.t.Wallet.Address(),
		Error:     err,
	}
	if !d.started.IsZero() {
		event.Duration = time.Since(d.started)
	}
	if d.chosen != nil {
		event.Network = d.chosen.Network
		event.Scheme = d.chosen.Scheme
		event.Amount = d.chosen.MaxAmountRequired
		event.Asset = d.chosen.Asset
		event.Recipient = d.chosen.PayTo
	}
	return event
}

// readChallenge reads and closes a 402 body.
func readChallenge(resp *http.Response) (*x402.PaymentRequirementsResponse, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxChallengeBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var challenge x402.PaymentRequirementsResponse
	if err := json.Unmarshal(body, &challenge); err != nil {
		return nil, fmt.Errorf("failed to parse payment requirements JSON: %w", err)
	}
	if len(challenge.Accepts) == 0 {
		return nil, errors.New("no payment requirements in response")
	}
	return &challenge, nil
}

// challengeReason reads the error field of a 402 body without closing it.
func challengeReason(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxChallengeBytes))
	if err != nil {
		return ""
	}
	var challenge struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &challenge) != nil {
		return ""
	}
	return challenge.Error
}

func exhaustedResponse(req *http.Request) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set(SyntheticHeader, "true")
	return &http.Response{
		Status:        "402 Payment Required",
		StatusCode:    http.StatusPaymentRequired,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(exhaustedBody)),
		ContentLength: int64(len(exhaustedBody)),
		Request:       req,
	}
}
