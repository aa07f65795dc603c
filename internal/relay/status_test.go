package relay

import "testing"

func TestTerminal(t *testing.T) {
	terminal := map[Status]bool{
		Queued:             false,
		InProgress:         false,
		Deferred:           false,
		PartiallyDelivered: false,
		Delivered:          true,
		Failed:             true,
		Expired:            true,
		Cancelled:          true,
	}
	for s, want := range terminal {
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}
