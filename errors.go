package x402

import "errors"

// Sentinel errors for x402 payment operations.
var (
	// ErrPaymentRequired indicates that payment is required to access the resource.
	ErrPaymentRequired = errors.New("x402: payment required")

	// ErrNoCompatibleOption indicates none of the offered requirements match the wallet.
	ErrNoCompatibleOption = errors.New("x402: no compatible payment options")

	// ErrNoPaymentOptions indicates the catalog produced no requirements for a route.
	ErrNoPaymentOptions = errors.New("x402: no payment options configured")

	// ErrInvalidRequirements indicates the payment requirements are invalid.
	ErrInvalidRequirements = errors.New("x402: invalid payment requirements")

	// ErrSigningFailed indicates the payment signing operation failed.
	ErrSigningFailed = errors.New("x402: payment signing failed")

	// ErrNetworkError indicates a chain read failed while building a payment.
	ErrNetworkError = errors.New("x402: network error during payment")

	// ErrInvalidAmount indicates an invalid amount or price string.
	ErrInvalidAmount = errors.New("x402: invalid amount")

	// ErrInvalidKey indicates an invalid private key.
	ErrInvalidKey = errors.New("x402: invalid private key")

	// ErrInvalidNetwork indicates an unsupported network.
	ErrInvalidNetwork = errors.New("x402: invalid or unsupported network")

	// ErrInvalidKeystore indicates an invalid or corrupted keystore file.
	ErrInvalidKeystore = errors.New("x402: invalid keystore file")

	// ErrInvalidMnemonic indicates an invalid BIP39 mnemonic phrase.
	ErrInvalidMnemonic = errors.New("x402: invalid mnemonic phrase")

	// ErrMissingFeePayer indicates a Solana requirement without extra.feePayer.
	ErrMissingFeePayer = errors.New("x402: missing fee payer")

	// ErrTokenAccountNotFound indicates the payer has no token account for the asset.
	ErrTokenAccountNotFound = errors.New("x402: token account not found")

	// ErrInsufficientFunds indicates the payer's token balance is below the amount.
	ErrInsufficientFunds = errors.New("x402: insufficient funds")

	// ErrInvalidAuthorization indicates invalid payment authorization data.
	ErrInvalidAuthorization = errors.New("x402: invalid authorization")

	// ErrFacilitatorUnavailable indicates the facilitator service is unavailable.
	ErrFacilitatorUnavailable = errors.New("x402: facilitator service unavailable")

	// ErrVerificationFailed indicates payment verification failed.
	ErrVerificationFailed = errors.New("x402: payment verification failed")

	// ErrSettlementFailed indicates payment settlement failed.
	ErrSettlementFailed = errors.New("x402: payment settlement failed")

	// ErrMalformedHeader indicates the X-PAYMENT header is malformed.
	ErrMalformedHeader = errors.New("x402: malformed payment header")

	// ErrUnsupportedVersion indicates an unsupported x402 protocol version.
	ErrUnsupportedVersion = errors.New("x402: unsupported protocol version")

	// ErrUnsupportedScheme indicates an unsupported payment scheme.
	ErrUnsupportedScheme = errors.New("x402: unsupported payment scheme")

	// ErrUnsupportedNetwork indicates a network missing from the chain registry.
	ErrUnsupportedNetwork = errors.New("x402: unsupported network")

	// ErrMaxRetriesExceeded indicates the driver gave up after its retry budget.
	ErrMaxRetriesExceeded = errors.New("x402: max retries exceeded")
)

// ErrorCode represents payment error codes for programmatic handling.
type ErrorCode string

const (
	ErrCodeNoCompatibleOption     ErrorCode = "NO_COMPATIBLE_OPTION"
	ErrCodeNoPaymentOptions       ErrorCode = "NO_PAYMENT_OPTIONS"
	ErrCodeInvalidRequirements    ErrorCode = "INVALID_REQUIREMENTS"
	ErrCodeSigningFailed          ErrorCode = "SIGNING_FAILED"
	ErrCodeMissingFeePayer        ErrorCode = "MISSING_FEE_PAYER"
	ErrCodeAccountNotFound        ErrorCode = "ACCOUNT_NOT_FOUND"
	ErrCodeInsufficientBalance    ErrorCode = "INSUFFICIENT_BALANCE"
	ErrCodeNetworkError           ErrorCode = "NETWORK_ERROR"
	ErrCodeMalformedEnvelope      ErrorCode = "MALFORMED_ENVELOPE"
	ErrCodeUnsupportedScheme      ErrorCode = "UNSUPPORTED_SCHEME"
	ErrCodeUnsupportedVersion     ErrorCode = "UNSUPPORTED_VERSION"
	ErrCodeFacilitatorUnavailable ErrorCode = "FACILITATOR_UNAVAILABLE"
	ErrCodeMaxRetriesExceeded     ErrorCode = "MAX_RETRIES_EXCEEDED"
)

// PaymentError provides structured error information.
type PaymentError struct {
	// Code is the error code for programmatic handling.
	Code ErrorCode

	// Message is the human-readable error message.
	Message string

	// Details contains additional error context such as "remediation".
	Details map[string]any

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewPaymentError creates a new PaymentError with the given code and message.
func NewPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]any),
	}
}

// WithDetails adds additional context to the error.
func (e *PaymentError) WithDetails(key string, value any) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Remediation returns the operator-facing fix attached to the error, if any.
func (e *PaymentError) Remediation() string {
	s, _ := e.Details["remediation"].(string)
	return s
}
