package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/chainswap/swap-engine/pkg/coordinator"
)

func TestChanSinkNeverBlocks(t *testing.T) {
	sink := NewChanSink(1)

	ev := coordinator.Event{SwapID: "swap-1", From: coordinator.StateCreated, To: coordinator.StateSourceInitiated, At: time.Now()}
	sink.Notify("swap-1", ev)

	// buffer full: this must drop, not block
	done := make(chan struct{})
	go func() {
		sink.Notify("swap-1", ev)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full buffer")
	}

	got := <-sink.Events()
	assert.Equal(t, "swap-1", got.SwapID)
	assert.Equal(t, coordinator.StateSourceInitiated, got.To)
}
