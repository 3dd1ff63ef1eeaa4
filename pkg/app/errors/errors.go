// Package errors contains helper functions and types to work with errors
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a swap-engine error
type Kind int

const (
	// KindNone means no error occurred.
	KindNone Kind = iota
	// KindConfiguration covers missing or malformed process configuration
	// (master seed, server secret, endpoints). Fatal, raised at startup.
	KindConfiguration
	// KindDerivation covers failures while deriving a wallet from the master seed
	KindDerivation
	// KindInsufficientBalance means the wallet cannot cover the requested sell amount
	KindInsufficientBalance
	// KindInsufficientAllowance means an approval transaction was required and failed.
	// Allowance shortfalls that are auto-recovered never surface with this kind.
	KindInsufficientAllowance
	// KindInsufficientLiquidity means a single venue has no pool or liquidity for the pair
	KindInsufficientLiquidity
	// KindNoLiquidity means every registered venue failed to quote
	KindNoLiquidity
	// KindQuoteExpired means a venue quote was past its validity when used
	KindQuoteExpired
	// KindVenueQuote covers a venue rejecting or failing a quote request
	KindVenueQuote
	// KindVenueExecution covers a revert or settlement failure at a venue
	KindVenueExecution
	// KindVenueUnavailable covers venue transport errors and timeouts
	KindVenueUnavailable
	// KindCrossChainTimeout means a swap leg hit its timelock; drives the refund
	// path and is not by itself a user-facing failure
	KindCrossChainTimeout
	// KindUnsupportedChainPair means the requested chain or asset pair is not supported
	KindUnsupportedChainPair
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "Configuration"
	case KindDerivation:
		return "Derivation"
	case KindInsufficientBalance:
		return "InsufficientBalance"
	case KindInsufficientAllowance:
		return "InsufficientAllowance"
	case KindInsufficientLiquidity:
		return "InsufficientLiquidity"
	case KindNoLiquidity:
		return "NoLiquidity"
	case KindQuoteExpired:
		return "QuoteExpired"
	case KindVenueQuote:
		return "VenueQuote"
	case KindVenueExecution:
		return "VenueExecution"
	case KindVenueUnavailable:
		return "VenueUnavailable"
	case KindCrossChainTimeout:
		return "CrossChainTimeout"
	case KindUnsupportedChainPair:
		return "UnsupportedChainPair"
	default:
		return "General"
	}
}

// SwapError is the structured error type used across the engine. Callers always
// receive a Kind plus a human-readable message; the raw transport or library
// error stays wrapped underneath and is never exposed verbatim past an adapter.
type SwapError struct {
	Kind    Kind
	Message string
	// VenueID identifies the trading venue for venue-level errors, empty otherwise
	VenueID string
	Err     error
}

// Error method to comply with error interface
func (err *SwapError) Error() string {
	if err.VenueID != "" {
		return fmt.Sprintf("%s: %s: %s", err.Kind, err.VenueID, err.Message)
	}
	return fmt.Sprintf("%s: %s", err.Kind, err.Message)
}

// Unwrap returns the underlying error
func (err *SwapError) Unwrap() error {
	return err.Err
}

// Is checks that provided error is a SwapError with the desired Kind
func Is(err error, kind Kind) bool {
	var swapErr *SwapError
	if errors.As(err, &swapErr) && swapErr.Kind == kind {
		return true
	}
	return false
}

// Configuration returns a fatal startup configuration error
func Configuration(err error, message string) error {
	return &SwapError{Kind: KindConfiguration, Message: message, Err: err}
}

// Derivation returns a wallet derivation error
func Derivation(err error, message string) error {
	return &SwapError{Kind: KindDerivation, Message: message, Err: err}
}

// InsufficientBalance returns a pre-flight balance error
func InsufficientBalance(message string) error {
	return &SwapError{Kind: KindInsufficientBalance, Message: message}
}

// ApprovalFailed returns an error for an approval transaction that did not confirm
func ApprovalFailed(err error, message string) error {
	return &SwapError{Kind: KindInsufficientAllowance, Message: message, Err: err}
}

// InsufficientLiquidity returns a venue-level liquidity error
func InsufficientLiquidity(venueID, message string) error {
	return &SwapError{Kind: KindInsufficientLiquidity, VenueID: venueID, Message: message}
}

// QuoteExpired returns an error for a quote used past its validity
func QuoteExpired(venueID, message string) error {
	return &SwapError{Kind: KindQuoteExpired, VenueID: venueID, Message: message}
}

// VenueQuote wraps a venue quote failure, keeping the raw venue message for diagnostics
func VenueQuote(err error, venueID, message string) error {
	return &SwapError{Kind: KindVenueQuote, VenueID: venueID, Message: message, Err: err}
}

// VenueExecution wraps a venue execution failure (revert or settlement error)
func VenueExecution(err error, venueID, message string) error {
	return &SwapError{Kind: KindVenueExecution, VenueID: venueID, Message: message, Err: err}
}

// VenueUnavailable wraps a venue transport error or timeout
func VenueUnavailable(err error, venueID, message string) error {
	return &SwapError{Kind: KindVenueUnavailable, VenueID: venueID, Message: message, Err: err}
}

// CrossChainTimeout returns an error marking an elapsed swap timelock
func CrossChainTimeout(message string) error {
	return &SwapError{Kind: KindCrossChainTimeout, Message: message}
}

// UnsupportedChainPair returns an error for an unsupported chain or asset pair
func UnsupportedChainPair(message string) error {
	return &SwapError{Kind: KindUnsupportedChainPair, Message: message}
}

// NoLiquidityError aggregates the individual failure of every venue when the
// full quote fan-out came back empty.
type NoLiquidityError struct {
	// Failures maps venue id to the error that venue returned
	Failures map[string]error
}

// NoLiquidity builds a NoLiquidityError from per-venue failures
func NoLiquidity(failures map[string]error) error {
	return &NoLiquidityError{Failures: failures}
}

func (err *NoLiquidityError) Error() string {
	venues := make([]string, 0, len(err.Failures))
	for v := range err.Failures {
		venues = append(venues, v)
	}
	sort.Strings(venues)

	var b strings.Builder
	b.WriteString("no venue returned a usable quote")
	for _, v := range venues {
		fmt.Fprintf(&b, "; %s: %v", v, err.Failures[v])
	}
	return b.String()
}

// IsNoLiquidity checks that provided error is the aggregated no-liquidity error
func IsNoLiquidity(err error) bool {
	var agg *NoLiquidityError
	return errors.As(err, &agg)
}
