package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/varbridge/varbridge/internal/audit"
	"github.com/varbridge/varbridge/internal/model"
	"github.com/varbridge/varbridge/internal/model/messages"
	"github.com/varbridge/varbridge/internal/repo"
	"github.com/varbridge/varbridge/internal/store"
)

// HandleMessage is the single inbound entry point: it verifies the topic,
// decodes the envelope, and dispatches by message type. Malformed input is
// dropped with a diagnostic, never retried, never surfaced to the peer.
func (e *Engine) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	if topic != e.cfg.ReceiveTopic {
		e.drop("wrong_topic", topic)
		return nil
	}
	env, err := messages.PeekType(payload)
	if err != nil {
		e.drop("malformed", err.Error())
		return nil
	}
	e.met.Received.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case messages.TypeProfile:
		var m messages.ProfileMessage
		if err := json.Unmarshal(payload, &m); err != nil {
			e.drop("malformed", err.Error())
			return nil
		}
		return e.ensureProfileExists(ctx, m.Profile)
	case messages.TypeVariableUpdate:
		var m messages.VariableUpdate
		if err := json.Unmarshal(payload, &m); err != nil {
			e.drop("malformed", err.Error())
			return nil
		}
		return e.handleVariableUpdate(ctx, m)
	case messages.TypeSetValue:
		var m messages.SetValue
		if err := json.Unmarshal(payload, &m); err != nil {
			e.drop("malformed", err.Error())
			return nil
		}
		return e.handleRemoteSetValue(ctx, m)
	case messages.TypeActionResult:
		var m messages.ActionResult
		if err := json.Unmarshal(payload, &m); err != nil {
			e.drop("malformed", err.Error())
			return nil
		}
		return e.handleActionResult(ctx, m)
	default:
		e.drop("unknown_type", env.Type)
		return nil
	}
}

// ensureProfileExists creates a prefixed local copy of a received profile
// definition, once. The full definition is cached under its original name
// either way, for mirrors created later.
func (e *Engine) ensureProfileExists(ctx context.Context, p model.Profile) error {
	if !p.Valid() {
		e.drop("invalid_profile", p.Name)
		return nil
	}
	if err := e.repo.SaveDefinition(ctx, p); err != nil {
		return err
	}
	local := e.prefixed(p.Name)
	if e.store.ProfileExists(local) {
		return nil
	}
	cp := p
	cp.Name = local
	if err := e.store.CreateProfile(cp); err != nil {
		return fmt.Errorf("create profile %q: %w", local, err)
	}
	log.Printf("sync: created profile %q (%s)", local, p.Type)
	return nil
}

// handleVariableUpdate applies a peer's value to the local mirror, creating
// the mirror (and its ancestry) on first sight. The guard check is the
// inbound half of loop prevention; arming before the write is the outbound
// half.
func (e *Engine) handleVariableUpdate(ctx context.Context, m messages.VariableUpdate) error {
	if m.Identifier == "" || m.Definition.Name == "" {
		e.drop("missing_fields", "variableUpdate without identifier or definition")
		return nil
	}
	kind, err := model.ParseKind(m.ValueType)
	if err != nil {
		e.drop("bad_value_type", m.ValueType)
		return nil
	}

	h, ok := e.resolveMirror(ctx, m.Identifier)
	if !ok {
		h, err = e.createMirror(ctx, m)
		if err != nil {
			log.Printf("sync: create mirror for %q: %v", m.Identifier, err)
			return nil // this one item stays unsynchronized until the next exchange
		}
	}

	if e.guard.Armed(h) {
		e.drop("guarded", m.Identifier)
		return nil
	}

	v, err := model.DecodeValue(m.Value, kind)
	if err != nil {
		e.drop("bad_value", fmt.Sprintf("%s: %v", m.Identifier, err))
		return nil
	}

	e.guard.Arm(h, "variableUpdate "+m.Identifier)
	if err := e.store.SetValue(h, v); err != nil {
		// No write happened, so no echo will come: release immediately.
		e.guard.Clear(h)
		log.Printf("sync: apply %q to handle %d: %v", m.Identifier, h, err)
	}
	return nil
}

// resolveMirror maps an identifier to a live local handle, lazily detecting
// stale map entries (the mapped variable is gone).
func (e *Engine) resolveMirror(ctx context.Context, id string) (store.Handle, bool) {
	hi, err := e.repo.HandleByIdentifier(ctx, id)
	if err != nil {
		if !repo.IsNotFound(err) {
			log.Printf("sync: identifier lookup %q: %v", id, err)
		}
		return store.None, false
	}
	h := store.Handle(hi)
	if _, ok := e.store.Variable(h); !ok {
		log.Printf("sync: mapping for %q points at dead handle %d, recreating", id, h)
		return store.None, false
	}
	return h, true
}

// handleRemoteSetValue executes a peer's write request through the local
// action framework and always answers with an actionResult.
func (e *Engine) handleRemoteSetValue(ctx context.Context, m messages.SetValue) error {
	if m.Identifier == "" {
		e.drop("missing_fields", "setValue without identifier")
		return nil
	}
	result := messages.ActionResult{
		Type:       messages.TypeActionResult,
		Identifier: m.Identifier,
		Timestamp:  e.now().UnixMilli(),
	}

	err := e.applySetValue(ctx, m)
	if err != nil {
		result.Success = false
		result.Message = err.Error()
		log.Printf("sync: remote setValue %q failed: %v", m.Identifier, err)
	} else {
		result.Success = true
		result.Message = "ok"
	}
	e.sink.Record(audit.Event{Kind: "set_value", Identifier: m.Identifier, Success: result.Success, Message: result.Message})

	return e.publish(messages.TypeActionResult, result)
}

func (e *Engine) applySetValue(ctx context.Context, m messages.SetValue) error {
	hi, err := e.repo.HandleByIdentifier(ctx, m.Identifier)
	if err != nil {
		if repo.IsNotFound(err) {
			return fmt.Errorf("identifier %q is not mapped here", m.Identifier)
		}
		return err
	}
	h := store.Handle(hi)
	if _, ok := e.store.Variable(h); !ok {
		return fmt.Errorf("identifier %q maps to a dead handle", m.Identifier)
	}
	kind, err := model.ParseKind(m.ValueType)
	if err != nil {
		return fmt.Errorf("bad value type %q", m.ValueType)
	}
	v, err := model.DecodeValue(m.Value, kind)
	if err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	return e.store.RequestAction(h, v)
}

// handleActionResult closes the loop on an earlier outbound setValue.
// Late and duplicate acknowledgements are no-ops.
func (e *Engine) handleActionResult(ctx context.Context, m messages.ActionResult) error {
	if m.Identifier == "" {
		e.drop("missing_fields", "actionResult without identifier")
		return nil
	}
	removed, err := e.repo.RemovePending(ctx, m.Identifier)
	if err != nil {
		return err
	}
	if !removed {
		log.Printf("sync: actionResult for %q with no pending entry (late or duplicate)", m.Identifier)
	}
	log.Printf("sync: remote action %q: success=%v %s", m.Identifier, m.Success, m.Message)
	e.sink.Record(audit.Event{Kind: "action_result", Identifier: m.Identifier, Success: m.Success, Message: m.Message})
	return nil
}
