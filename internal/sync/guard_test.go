package sync

import (
	"testing"
	"time"

	"github.com/varbridge/varbridge/internal/store"
)

func TestGuardArmClear(t *testing.T) {
	g := NewEchoGuard(0)
	h := store.Handle(7)

	if g.Armed(h) {
		t.Fatal("fresh guard should be idle")
	}
	token := g.Arm(h, "variableUpdate")
	if token == "" {
		t.Fatal("expected a diagnostic token")
	}
	if !g.Armed(h) {
		t.Fatal("guard should be armed")
	}
	got, ok := g.Clear(h)
	if !ok || got != token {
		t.Fatalf("clear returned %q %v, want %q true", got, ok, token)
	}
	if _, ok := g.Clear(h); ok {
		t.Fatal("second clear must be a no-op")
	}
}

func TestGuardIsPerHandle(t *testing.T) {
	g := NewEchoGuard(0)
	g.Arm(1, "variableUpdate")
	if g.Armed(2) {
		t.Fatal("guard leaked across handles")
	}
}

func TestGuardReset(t *testing.T) {
	g := NewEchoGuard(0)
	g.Arm(1, "variableUpdate")
	g.Arm(2, "variableUpdate")
	g.Reset()
	if g.Armed(1) || g.Armed(2) {
		t.Fatal("reset should drop all entries")
	}
}

func TestGuardAutoRelease(t *testing.T) {
	g := NewEchoGuard(10 * time.Millisecond)
	g.Arm(1, "variableUpdate")
	time.Sleep(20 * time.Millisecond)
	if g.Armed(1) {
		t.Fatal("expired guard must auto-release")
	}
	if _, ok := g.Clear(1); ok {
		t.Fatal("expired guard must not report a live clear")
	}
}

func TestGuardWithoutAutoReleaseStaysArmed(t *testing.T) {
	g := NewEchoGuard(0)
	g.Arm(1, "variableUpdate")
	time.Sleep(15 * time.Millisecond)
	if !g.Armed(1) {
		t.Fatal("guard without autoRelease must stay armed until cleared")
	}
}
