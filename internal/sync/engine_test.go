package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/varbridge/varbridge/internal/model"
	"github.com/varbridge/varbridge/internal/model/messages"
	"github.com/varbridge/varbridge/internal/repo"
	"github.com/varbridge/varbridge/internal/store"
)

const rxTopic = "bridge/peer/rx"

type capturePub struct {
	msgs [][]byte
}

func (p *capturePub) Publish(b []byte) error {
	p.msgs = append(p.msgs, b)
	return nil
}

func (p *capturePub) ofType(t *testing.T, msgType string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, b := range p.msgs {
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("published non-JSON payload: %v", err)
		}
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

type harness struct {
	eng    *Engine
	store  *store.MemStore
	repo   *repo.Repo
	pub    *capturePub
	mirror store.Handle
	ctx    context.Context
}

// newHarness builds an engine over a fresh store and repo, with the store's
// change feed wired straight into OnLocalChange the way the bridge loop does.
func newHarness(t *testing.T, targets ...store.Handle) *harness {
	t.Helper()
	st := store.NewMemStore()
	mirror, err := st.CreateCategory(st.Root(), "Remote", "mirror_root")
	if err != nil {
		t.Fatal(err)
	}
	r, err := repo.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })

	pub := &capturePub{}
	eng := NewEngine(Config{
		ReceiveTopic: rxTopic,
		MirrorRoot:   mirror,
		Targets:      targets,
	}, st, r, pub, NewEchoGuard(0), NewMetrics(prometheus.NewRegistry()), nil)

	ctx := context.Background()
	st.Subscribe(func(ev store.ChangeEvent) { eng.OnLocalChange(ctx, ev) })

	return &harness{eng: eng, store: st, repo: r, pub: pub, mirror: mirror, ctx: ctx}
}

func (h *harness) inbound(t *testing.T, msg any) {
	t.Helper()
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.eng.HandleMessage(h.ctx, rxTopic, b); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
}

func sensorUpdate(value float64, initial bool) messages.VariableUpdate {
	return messages.VariableUpdate{
		Type:       messages.TypeVariableUpdate,
		Identifier: "Root/DeviceA/Sensor1",
		Path: []messages.PathSegment{
			{ID: 10, Name: "Root", Identifier: "Root"},
			{ID: 11, Name: "DeviceA", Identifier: "Root/DeviceA"},
			{ID: 12, Name: "Sensor1", Identifier: "Root/DeviceA/Sensor1"},
		},
		Definition: messages.Definition{Name: "Temperature", Type: model.KindFloat, Action: true, Ident: "t1"},
		Value:      json.RawMessage(fmt.Sprintf("%g", value)),
		ValueType:  string(model.KindFloat),
		Initial:    initial,
		Timestamp:  1,
	}
}

// countSubtree returns how many categories and variables exist under h,
// excluding h itself.
func countSubtree(s *store.MemStore, h store.Handle) (cats, vars int) {
	for _, c := range s.Children(h) {
		switch c.Kind {
		case store.NodeCategory:
			cats++
			cc, cv := countSubtree(s, c.Handle)
			cats += cc
			vars += cv
		case store.NodeVariable:
			vars++
		}
	}
	return
}

func TestIdempotentMirroring(t *testing.T) {
	h := newHarness(t)

	h.inbound(t, sensorUpdate(20.5, true))
	h.inbound(t, sensorUpdate(23.0, false))

	cats, vars := countSubtree(h.store, h.mirror)
	if cats != 3 || vars != 1 {
		t.Fatalf("want 3 levels and 1 mirror, got %d/%d", cats, vars)
	}

	hi, err := h.repo.HandleByIdentifier(h.ctx, "Root/DeviceA/Sensor1")
	if err != nil {
		t.Fatal(err)
	}
	rec, ok := h.store.Variable(store.Handle(hi))
	if !ok {
		t.Fatal("mirror variable missing")
	}
	if !rec.Value.Equal(model.FloatValue(23.0)) {
		t.Fatalf("value should equal the last message's, got %v", rec.Value)
	}
	if rec.Name != "Temperature" || rec.ValueKind != model.KindFloat || !rec.Writable {
		t.Fatalf("mirror definition wrong: %+v", rec)
	}
}

func TestStructuralReconstructionRepeatAddsNothing(t *testing.T) {
	h := newHarness(t)

	h.inbound(t, sensorUpdate(1, true))
	cats1, _ := countSubtree(h.store, h.mirror)
	h.inbound(t, sensorUpdate(2, true))
	cats2, _ := countSubtree(h.store, h.mirror)

	if cats1 != 3 {
		t.Fatalf("three path segments must produce three levels, got %d", cats1)
	}
	if cats2 != cats1 {
		t.Fatalf("repeat receipt must add zero levels, got %d -> %d", cats1, cats2)
	}
}

func TestLoopTermination(t *testing.T) {
	h := newHarness(t)

	h.inbound(t, sensorUpdate(20.5, false))
	if n := len(h.pub.ofType(t, messages.TypeVariableUpdate)); n != 0 {
		t.Fatalf("applying an inbound update must not publish, got %d updates", n)
	}

	hi, err := h.repo.HandleByIdentifier(h.ctx, "Root/DeviceA/Sensor1")
	if err != nil {
		t.Fatal(err)
	}
	mh := store.Handle(hi)

	// The echo already arrived through the synchronous change feed, so the
	// guard must be idle again.
	if h.eng.guard.Armed(mh) {
		t.Fatal("guard must clear on the very next local notification")
	}

	// A genuine local edit of the mirror does go out, under the remote's
	// identifier.
	if err := h.store.SetValue(mh, model.FloatValue(25)); err != nil {
		t.Fatal(err)
	}
	ups := h.pub.ofType(t, messages.TypeVariableUpdate)
	if len(ups) != 1 {
		t.Fatalf("genuine change should publish exactly once, got %d", len(ups))
	}
	if ups[0]["identifier"] != "Root/DeviceA/Sensor1" {
		t.Fatalf("mirror republished under wrong identifier: %v", ups[0]["identifier"])
	}
}

func TestGuardedInboundUpdateIsDropped(t *testing.T) {
	h := newHarness(t)
	h.inbound(t, sensorUpdate(1, true))

	hi, _ := h.repo.HandleByIdentifier(h.ctx, "Root/DeviceA/Sensor1")
	mh := store.Handle(hi)

	// Simulate an in-flight inbound write whose echo has not fired yet.
	h.eng.guard.Arm(mh, "test")
	h.inbound(t, sensorUpdate(99, false))

	rec, _ := h.store.Variable(mh)
	if rec.Value.Equal(model.FloatValue(99)) {
		t.Fatal("guarded update must be dropped, not applied")
	}
}

func TestProfileRoundTripFidelity(t *testing.T) {
	h := newHarness(t)

	p := model.Profile{
		Name: "Level", Type: model.KindInt,
		MinValue: 0, MaxValue: 100, StepSize: 1, Digits: 0,
		Suffix: " %",
		Associations: []model.ProfileAssociation{
			{Value: 0, Name: "Empty", Icon: "battery-low", Color: 0xFF0000},
			{Value: 100, Name: "Full", Icon: "battery", Color: 0x00FF00},
		},
	}
	h.inbound(t, messages.NewProfileMessage(p, 1))

	got, ok := h.store.Profile("Remote.Level")
	if !ok {
		t.Fatal("prefixed profile not created")
	}
	if got.MinValue != 0 || got.MaxValue != 100 || got.StepSize != 1 || got.Digits != 0 {
		t.Fatalf("numeric bounds mangled: %+v", got)
	}
	if len(got.Associations) != 2 ||
		got.Associations[0].Name != "Empty" || got.Associations[0].Icon != "battery-low" ||
		got.Associations[1].Color != 0x00FF00 {
		t.Fatalf("associations mangled: %+v", got.Associations)
	}

	// Re-received definition with the same name is a no-op, and an already
	// prefixed name is not double-prefixed.
	h.inbound(t, messages.NewProfileMessage(p, 2))
	pre := p
	pre.Name = "Remote.Level"
	h.inbound(t, messages.NewProfileMessage(pre, 3))
	if h.store.ProfileExists("Remote.Remote.Level") {
		t.Fatal("prefix applied twice")
	}
}

func TestMirrorGetsCachedProfile(t *testing.T) {
	h := newHarness(t)

	h.inbound(t, messages.NewProfileMessage(model.Profile{
		Name: "Temp", Type: model.KindFloat, MinValue: -20, MaxValue: 50, Digits: 1,
	}, 1))

	up := sensorUpdate(21.5, true)
	up.Definition.Profile = "Temp"
	h.inbound(t, up)

	hi, _ := h.repo.HandleByIdentifier(h.ctx, "Root/DeviceA/Sensor1")
	rec, _ := h.store.Variable(store.Handle(hi))
	if rec.Profile != "Remote.Temp" {
		t.Fatalf("mirror should carry the prefixed profile, got %q", rec.Profile)
	}
}

func TestProfileTypeMismatchLeavesProfileUnset(t *testing.T) {
	h := newHarness(t)

	h.inbound(t, messages.NewProfileMessage(model.Profile{Name: "Switch", Type: model.KindBool}, 1))

	up := sensorUpdate(1, true) // float variable referencing a bool profile
	up.Definition.Profile = "Switch"
	h.inbound(t, up)

	hi, _ := h.repo.HandleByIdentifier(h.ctx, "Root/DeviceA/Sensor1")
	rec, _ := h.store.Variable(store.Handle(hi))
	if rec.Profile != "" {
		t.Fatalf("incompatible profile must not be applied, got %q", rec.Profile)
	}
}

func TestPendingAckCorrelation(t *testing.T) {
	h := newHarness(t)

	// Two mirrors, two outbound actions.
	h.inbound(t, sensorUpdate(1, true))
	other := sensorUpdate(1, true)
	other.Identifier = "Root/DeviceB/Sensor2"
	other.Path = []messages.PathSegment{{ID: 20, Name: "Root", Identifier: "Root"}, {ID: 21, Name: "DeviceB", Identifier: "Root/DeviceB"}}
	other.Definition.Name = "Humidity"
	h.inbound(t, other)

	h1, _ := h.repo.HandleByIdentifier(h.ctx, "Root/DeviceA/Sensor1")
	h2, _ := h.repo.HandleByIdentifier(h.ctx, "Root/DeviceB/Sensor2")

	if err := h.eng.RequestRemoteAction(h.ctx, store.Handle(h1), model.FloatValue(5)); err != nil {
		t.Fatal(err)
	}
	if err := h.eng.RequestRemoteAction(h.ctx, store.Handle(h2), model.FloatValue(6)); err != nil {
		t.Fatal(err)
	}
	if n := len(h.pub.ofType(t, messages.TypeSetValue)); n != 2 {
		t.Fatalf("expected 2 setValue publications, got %d", n)
	}

	h.inbound(t, messages.ActionResult{
		Type: messages.TypeActionResult, Identifier: "Root/DeviceA/Sensor1", Success: true, Timestamp: 2,
	})

	left, err := h.repo.ListPending(h.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 || left[0].Identifier != "Root/DeviceB/Sensor2" {
		t.Fatalf("ack must remove only its own entry, left: %+v", left)
	}

	// Duplicate ack is a no-op.
	h.inbound(t, messages.ActionResult{
		Type: messages.TypeActionResult, Identifier: "Root/DeviceA/Sensor1", Success: true, Timestamp: 3,
	})
}

func TestUnmappedSetValueIsSafelyRejected(t *testing.T) {
	h := newHarness(t)

	h.inbound(t, messages.SetValue{
		Type: messages.TypeSetValue, Identifier: "no/such/var",
		Value: json.RawMessage(`1`), ValueType: "int", Timestamp: 1,
	})

	results := h.pub.ofType(t, messages.TypeActionResult)
	if len(results) != 1 {
		t.Fatalf("expected exactly one actionResult, got %d", len(results))
	}
	if results[0]["success"] != false {
		t.Fatalf("unmapped setValue must fail: %v", results[0])
	}
	if cats, vars := countSubtree(h.store, h.store.Root()); cats != 1 || vars != 0 {
		t.Fatalf("setValue for unmapped identifier must not mutate the store: %d/%d", cats, vars)
	}
}

func TestRemoteSetValueAppliesAndConfirms(t *testing.T) {
	st := store.NewMemStore()
	devices, _ := st.CreateCategory(st.Root(), "Devices", "devices")
	lamp, _ := st.CreateVariable(devices, "Lamp", model.KindBool, "lamp")
	_ = st.SetWritable(lamp, true)

	r, err := repo.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	mirror, _ := st.CreateCategory(st.Root(), "Remote", "mirror_root")
	pub := &capturePub{}
	eng := NewEngine(Config{ReceiveTopic: rxTopic, MirrorRoot: mirror, Targets: []store.Handle{devices}},
		st, r, pub, NewEchoGuard(0), NewMetrics(prometheus.NewRegistry()), nil)
	ctx := context.Background()
	st.Subscribe(func(ev store.ChangeEvent) { eng.OnLocalChange(ctx, ev) })

	// Publish once so the identifier map knows the lamp.
	if err := eng.FullSync(ctx); err != nil {
		t.Fatal(err)
	}

	b, _ := json.Marshal(messages.SetValue{
		Type: messages.TypeSetValue, Identifier: "Devices/Lamp",
		Value: json.RawMessage(`true`), ValueType: "bool", Timestamp: 1,
	})
	if err := eng.HandleMessage(ctx, rxTopic, b); err != nil {
		t.Fatal(err)
	}

	rec, _ := st.Variable(lamp)
	if !rec.Value.Equal(model.BoolValue(true)) {
		t.Fatalf("setValue not applied: %v", rec.Value)
	}
	results := pub.ofType(t, messages.TypeActionResult)
	if len(results) != 1 || results[0]["success"] != true {
		t.Fatalf("expected a success actionResult, got %+v", results)
	}
	// The applied write is a genuine change and goes back out as confirmation.
	ups := pub.ofType(t, messages.TypeVariableUpdate)
	var live int
	for _, u := range ups {
		if u["initial"] == false {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("expected one live confirmation update, got %d", live)
	}
}

func TestFullSyncWalksTargetsAndSkipsLinks(t *testing.T) {
	st := store.NewMemStore()
	home, _ := st.CreateCategory(st.Root(), "Home", "home")
	floor, _ := st.CreateCategory(home, "Floor1", "floor1")
	temp, _ := st.CreateVariable(floor, "Temp", model.KindFloat, "temp")
	_, _ = st.CreateVariable(home, "Mode", model.KindString, "mode")
	if _, err := st.CreateLink(home, "Alias", temp); err != nil {
		t.Fatal(err)
	}

	p := model.Profile{Name: "Temperature", Type: model.KindFloat, MinValue: -20, MaxValue: 50, Digits: 1}
	if err := st.CreateProfile(p); err != nil {
		t.Fatal(err)
	}
	if err := st.SetProfile(temp, "Temperature"); err != nil {
		t.Fatal(err)
	}

	r, err := repo.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	mirror, _ := st.CreateCategory(st.Root(), "Remote", "mirror_root")
	pub := &capturePub{}
	eng := NewEngine(Config{ReceiveTopic: rxTopic, MirrorRoot: mirror, Targets: []store.Handle{home}},
		st, r, pub, NewEchoGuard(0), NewMetrics(prometheus.NewRegistry()), nil)

	if err := eng.FullSync(context.Background()); err != nil {
		t.Fatal(err)
	}

	ups := pub.ofType(t, messages.TypeVariableUpdate)
	if len(ups) != 2 {
		t.Fatalf("expected 2 variable updates (link skipped), got %d", len(ups))
	}
	for _, u := range ups {
		if u["initial"] != true {
			t.Fatalf("full sync updates must be initial: %v", u)
		}
	}

	profs := pub.ofType(t, messages.TypeProfile)
	if len(profs) != 1 {
		t.Fatalf("profile should be published exactly once, got %d", len(profs))
	}

	// Second full sync: profile already in the published set.
	if err := eng.FullSync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(pub.ofType(t, messages.TypeProfile)); n != 1 {
		t.Fatalf("profile must not be retransmitted, got %d", n)
	}
}

func TestInboundRejectsForeignTopicAndGarbage(t *testing.T) {
	h := newHarness(t)

	b, _ := json.Marshal(sensorUpdate(1, true))
	if err := h.eng.HandleMessage(h.ctx, "some/other/topic", b); err != nil {
		t.Fatal(err)
	}
	if cats, _ := countSubtree(h.store, h.mirror); cats != 0 {
		t.Fatal("message on foreign topic must be ignored")
	}

	for _, payload := range []string{"not json", `{"type":"teleport"}`, `{"type":"variableUpdate"}`} {
		if err := h.eng.HandleMessage(h.ctx, rxTopic, []byte(payload)); err != nil {
			t.Fatalf("malformed input must be dropped silently, got %v", err)
		}
	}
	if cats, vars := countSubtree(h.store, h.mirror); cats != 0 || vars != 0 {
		t.Fatal("malformed input must not mutate the store")
	}
}

func TestSyncVariableStaleHandleIsSilent(t *testing.T) {
	h := newHarness(t)
	if err := h.eng.SyncVariable(h.ctx, store.Handle(4242), false); err != nil {
		t.Fatalf("stale handle must fail silently, got %v", err)
	}
	if len(h.pub.msgs) != 0 {
		t.Fatal("stale handle must not publish")
	}
}

func TestRequestRemoteActionUnmappedHandle(t *testing.T) {
	h := newHarness(t)
	v, _ := h.store.CreateVariable(h.store.Root(), "Loose", model.KindInt, "loose")
	if err := h.eng.RequestRemoteAction(h.ctx, v, model.IntValue(1)); err == nil {
		t.Fatal("unmapped handle must be rejected")
	}
	if n := len(h.pub.ofType(t, messages.TypeSetValue)); n != 0 {
		t.Fatalf("no setValue may go out for unmapped handles, got %d", n)
	}
}
