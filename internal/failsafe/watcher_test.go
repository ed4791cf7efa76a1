package failsafe

import (
	"log/slog"
	"testing"
	"time"

	"github.com/voxkey-labs/voxkey-core/internal/config"
)

func TestDoubleTapWindow(t *testing.T) {
	base := time.Now()
	window := 500 * time.Millisecond

	if doubleTap(time.Time{}, base, window) {
		t.Fatal("first tap must not trigger")
	}
	if !doubleTap(base, base.Add(300*time.Millisecond), window) {
		t.Fatal("second tap inside the window must trigger")
	}
	if doubleTap(base, base.Add(700*time.Millisecond), window) {
		t.Fatal("second tap outside the window must not trigger")
	}
}

func TestInCorner(t *testing.T) {
	cfg := config.FailsafeConfig{
		CornerMargin: 5,
		ScreenWidth:  1920,
		ScreenHeight: 1080,
	}

	corners := [][2]int{{0, 0}, {1919, 0}, {0, 1079}, {1919, 1079}, {3, 4}, {1915, 1076}}
	for _, c := range corners {
		if !inCorner(c[0], c[1], cfg) {
			t.Fatalf("(%d,%d) should be in a corner", c[0], c[1])
		}
	}

	middles := [][2]int{{960, 540}, {0, 540}, {960, 0}, {10, 10}, {1900, 540}}
	for _, m := range middles {
		if inCorner(m[0], m[1], cfg) {
			t.Fatalf("(%d,%d) should not be in a corner", m[0], m[1])
		}
	}
}

func TestEscTapTriggersAbortOnce(t *testing.T) {
	var reasons []string
	w := NewWatcher(config.FailsafeConfig{Enabled: true, DoubleTapMS: 500},
		func(reason string) { reasons = append(reasons, reason) },
		slog.Default())

	now := time.Now()
	w.clock = func() time.Time { return now }

	w.escTap()
	if len(reasons) != 0 {
		t.Fatal("single tap aborted")
	}

	now = now.Add(200 * time.Millisecond)
	w.escTap()
	if len(reasons) != 1 || reasons[0] != "double-esc" {
		t.Fatalf("expected one double-esc abort, got %v", reasons)
	}
}

func TestPointerCornerDebounces(t *testing.T) {
	var aborts int
	w := NewWatcher(config.FailsafeConfig{
		Enabled:      true,
		CornerMargin: 5,
		ScreenWidth:  1920,
		ScreenHeight: 1080,
	}, func(string) { aborts++ }, slog.Default())

	now := time.Now()
	w.clock = func() time.Time { return now }

	w.pointerMove(2, 2)
	w.pointerMove(1, 1)
	w.pointerMove(0, 0)
	if aborts != 1 {
		t.Fatalf("expected one debounced abort, got %d", aborts)
	}

	now = now.Add(2 * time.Second)
	w.pointerMove(1919, 1079)
	if aborts != 2 {
		t.Fatalf("expected a second abort after the debounce window, got %d", aborts)
	}
}
