package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	err := InsufficientBalance("wallet holds 10, needs 100")
	wrapped := fmt.Errorf("routing failed: %w", err)

	assert.True(t, Is(wrapped, KindInsufficientBalance))
	assert.False(t, Is(wrapped, KindQuoteExpired))
	assert.False(t, Is(stderrors.New("plain"), KindInsufficientBalance))
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := VenueUnavailable(cause, "batch-auction", "quoting service unreachable")

	assert.True(t, stderrors.Is(err, cause))
	assert.Contains(t, err.Error(), "batch-auction")
	assert.Contains(t, err.Error(), "quoting service unreachable")
}

func TestNoLiquidityAggregatesDeterministically(t *testing.T) {
	err := NoLiquidity(map[string]error{
		"venue-b": stderrors.New("api unavailable"),
		"venue-a": stderrors.New("no pool"),
	})

	require.True(t, IsNoLiquidity(err))

	// venues appear sorted so the message is stable across runs
	msg := err.Error()
	assert.Contains(t, msg, "venue-a: no pool")
	assert.Contains(t, msg, "venue-b: api unavailable")
	assert.Less(t, strings.Index(msg, "venue-a"), strings.Index(msg, "venue-b"))
}
