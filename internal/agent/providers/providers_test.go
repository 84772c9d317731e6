package providers

import (
	"testing"
	"time"

	"github.com/wovenbot/loom/pkg/models"
)

// collect drains a delta channel with a deadline so a stuck adapter fails the
// test instead of hanging it.
func collect(t *testing.T, ch <-chan models.StreamDelta) []models.StreamDelta {
	t.Helper()
	var out []models.StreamDelta
	timeout := time.After(5 * time.Second)
	for {
		select {
		case d, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, d)
		case <-timeout:
			t.Fatalf("stream did not finish; got %d deltas so far", len(out))
		}
	}
}

func assertDeltaTypes(t *testing.T, deltas []models.StreamDelta, want []models.DeltaType) {
	t.Helper()
	if len(deltas) != len(want) {
		t.Fatalf("deltas = %d, want %d: %+v", len(deltas), len(want), deltas)
	}
	for i, typ := range want {
		if deltas[i].Type != typ {
			t.Errorf("delta[%d].Type = %s, want %s", i, deltas[i].Type, typ)
		}
	}
}
