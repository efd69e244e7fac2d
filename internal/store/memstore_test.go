package store

import (
	"errors"
	"testing"

	"github.com/varbridge/varbridge/internal/model"
)

func buildTree(t *testing.T) (*MemStore, Handle) {
	t.Helper()
	s := NewMemStore()
	dev, err := s.CreateCategory(s.Root(), "DeviceA", "devA")
	if err != nil {
		t.Fatal(err)
	}
	v, err := s.CreateVariable(dev, "Sensor1", model.KindFloat, "sens1")
	if err != nil {
		t.Fatal(err)
	}
	return s, v
}

func TestSetValueNotifiesListeners(t *testing.T) {
	s, v := buildTree(t)
	var got []ChangeEvent
	s.Subscribe(func(ev ChangeEvent) { got = append(got, ev) })

	if err := s.SetValue(v, model.FloatValue(21.5)); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Handle != v || !got[0].Value.Equal(model.FloatValue(21.5)) {
		t.Fatalf("unexpected notifications: %+v", got)
	}
}

func TestSetValueRejectsKindMismatch(t *testing.T) {
	s, v := buildTree(t)
	if err := s.SetValue(v, model.StringValue("21.5")); err == nil {
		t.Fatal("expected kind mismatch error")
	}
}

func TestChildByIdent(t *testing.T) {
	s, _ := buildTree(t)
	dev, ok := s.ChildByIdent(s.Root(), "devA")
	if !ok {
		t.Fatal("devA not found")
	}
	if _, ok := s.ChildByIdent(dev, "nope"); ok {
		t.Fatal("found a child that does not exist")
	}
	if _, err := s.CreateCategory(s.Root(), "Other", "devA"); err == nil {
		t.Fatal("duplicate ident under same parent should fail")
	}
}

func TestRequestActionPaths(t *testing.T) {
	s, v := buildTree(t)

	// not writable, no handler
	if err := s.RequestAction(v, model.FloatValue(1)); err == nil {
		t.Fatal("non-actionable variable should reject actions")
	}

	// writable fallback applies value
	if err := s.SetWritable(v, true); err != nil {
		t.Fatal(err)
	}
	if err := s.RequestAction(v, model.FloatValue(2)); err != nil {
		t.Fatal(err)
	}
	rec, _ := s.Variable(v)
	if !rec.Value.Equal(model.FloatValue(2)) {
		t.Fatalf("value not applied: %v", rec.Value)
	}

	// a handler owns the write: the store itself applies nothing
	var handled []model.Value
	if err := s.OnAction(v, func(val model.Value) error { handled = append(handled, val); return nil }); err != nil {
		t.Fatal(err)
	}
	if err := s.RequestAction(v, model.FloatValue(3)); err != nil {
		t.Fatal(err)
	}
	if len(handled) != 1 || !handled[0].Equal(model.FloatValue(3)) {
		t.Fatalf("handler not invoked: %+v", handled)
	}
	rec, _ = s.Variable(v)
	if !rec.Value.Equal(model.FloatValue(2)) {
		t.Fatalf("handler-owned action must not write through the store, got %v", rec.Value)
	}

	// failing handler surfaces its error
	boom := errors.New("valve stuck")
	if err := s.OnAction(v, func(model.Value) error { return boom }); err != nil {
		t.Fatal(err)
	}
	if err := s.RequestAction(v, model.FloatValue(4)); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
}

func TestProfiles(t *testing.T) {
	s := NewMemStore()
	p := model.Profile{Name: "Percent", Type: model.KindInt, MaxValue: 100, StepSize: 1}
	if err := s.CreateProfile(p); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateProfile(p); err == nil {
		t.Fatal("duplicate profile should fail")
	}
	if !s.ProfileExists("Percent") {
		t.Fatal("profile missing")
	}
	if err := s.CreateProfile(model.Profile{Name: "", Type: model.KindInt}); err == nil {
		t.Fatal("invalid profile should fail")
	}
}

func TestLinksAreDistinguishable(t *testing.T) {
	s, v := buildTree(t)
	l, err := s.CreateLink(s.Root(), "Shortcut", v)
	if err != nil {
		t.Fatal(err)
	}
	n, ok := s.Node(l)
	if !ok || n.Kind != NodeLink {
		t.Fatalf("expected link node, got %+v", n)
	}
}
