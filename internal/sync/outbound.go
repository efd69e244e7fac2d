package sync

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/varbridge/varbridge/internal/audit"
	"github.com/varbridge/varbridge/internal/identifier"
	"github.com/varbridge/varbridge/internal/model"
	"github.com/varbridge/varbridge/internal/model/messages"
	"github.com/varbridge/varbridge/internal/repo"
	"github.com/varbridge/varbridge/internal/store"
)

// SyncVariable publishes the current state of one variable. initial marks
// bulk resync messages so the receiver can tell them from live updates.
// A handle that no longer resolves is logged and skipped, never fatal.
func (e *Engine) SyncVariable(ctx context.Context, h store.Handle, initial bool) error {
	rec, ok := e.store.Variable(h)
	if !ok {
		log.Printf("sync: handle %d no longer resolves, skipping", h)
		return nil
	}

	chain, mirror, ok := e.locate(h)
	if !ok {
		log.Printf("sync: handle %d is outside every configured subtree, skipping", h)
		return nil
	}

	var (
		id          string
		path        []messages.PathSegment
		profileName string
	)
	if mirror {
		// A locally edited mirror republishes under the identifier of its
		// remote original; the peer already owns the structure, so no path.
		var err error
		id, err = e.repo.IdentifierByHandle(ctx, int(h))
		if err != nil {
			log.Printf("sync: mirror handle %d has no identifier mapping, skipping: %v", h, err)
			return nil
		}
		profileName = strings.TrimPrefix(rec.Profile, e.cfg.ProfilePrefix)
	} else {
		ids, leafID := chainIdentifiers(chain, rec.Name)
		id = leafID
		path = make([]messages.PathSegment, len(chain))
		for i, n := range chain {
			path[i] = messages.PathSegment{ID: int(n.Handle), Name: n.Name, Identifier: ids[i]}
		}
		profileName = rec.Profile

		if err := e.repo.SaveMapping(ctx, id, int(h)); err != nil {
			return err
		}
		if err := e.maybePublishProfile(ctx, rec.Profile); err != nil {
			return err
		}
	}

	raw, err := rec.Value.JSON()
	if err != nil {
		return fmt.Errorf("sync variable %d: %w", h, err)
	}
	vu := messages.VariableUpdate{
		Type:       messages.TypeVariableUpdate,
		Identifier: id,
		Path:       path,
		Definition: messages.Definition{
			Name:    rec.Name,
			Type:    rec.ValueKind,
			Profile: profileName,
			Action:  rec.Writable,
			Ident:   identifier.ShortForm(id),
		},
		Value:     raw,
		ValueType: string(rec.ValueKind),
		Initial:   initial,
		Timestamp: e.now().UnixMilli(),
	}
	return e.publish(messages.TypeVariableUpdate, vu)
}

// maybePublishProfile emits the profile definition ahead of the first
// variable referencing it; later syncs find it in the published set.
func (e *Engine) maybePublishProfile(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	published, err := e.repo.IsPublished(ctx, name)
	if err != nil || published {
		return err
	}
	prof, ok := e.store.Profile(name)
	if !ok {
		log.Printf("sync: profile %q referenced but not found, value goes out without it", name)
		return nil
	}
	if err := e.publish(messages.TypeProfile, messages.NewProfileMessage(prof, e.now().UnixMilli())); err != nil {
		return err
	}
	return e.repo.MarkPublished(ctx, name)
}

// FullSync walks every configured target subtree depth-first with an
// explicit work stack and publishes each variable found. Link nodes are
// skipped at push time, which also breaks alias cycles.
func (e *Engine) FullSync(ctx context.Context) error {
	var synced, failed int
	for _, root := range e.cfg.Targets {
		stack := []store.Handle{root}
		for len(stack) > 0 {
			h := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			n, ok := e.store.Node(h)
			if !ok {
				log.Printf("sync: full sync: node %d vanished mid-walk", h)
				continue
			}
			switch n.Kind {
			case store.NodeVariable:
				if err := e.SyncVariable(ctx, h, true); err != nil {
					failed++
					log.Printf("sync: full sync: variable %d: %v", h, err)
					continue
				}
				synced++
			case store.NodeCategory:
				children := e.store.Children(h)
				// push in reverse so the walk visits children in tree order
				for i := len(children) - 1; i >= 0; i-- {
					if children[i].Kind == store.NodeLink {
						continue
					}
					stack = append(stack, children[i].Handle)
				}
			case store.NodeLink:
				// only reachable when a target root itself is a link
			}
		}
	}
	log.Printf("sync: full sync done, %d variables published, %d failed", synced, failed)
	e.sink.Record(audit.Event{
		Kind:    "full_sync",
		Success: failed == 0,
		Message: fmt.Sprintf("published=%d failed=%d", synced, failed),
	})
	return nil
}

// OnLocalChange reacts to one object-store change notification. A guarded
// handle means this notification is the echo of an inbound write we just
// applied: clear the guard and swallow it. Anything else on a tracked handle
// is a genuine change and goes out.
func (e *Engine) OnLocalChange(ctx context.Context, ev store.ChangeEvent) {
	if token, armed := e.guard.Clear(ev.Handle); armed {
		e.met.GuardSuppressions.Inc()
		log.Printf("sync: suppressed echo for handle %d (token %s)", ev.Handle, token)
		return
	}
	if _, _, ok := e.locate(ev.Handle); !ok {
		return
	}
	if err := e.SyncVariable(ctx, ev.Handle, false); err != nil {
		log.Printf("sync: publish change for handle %d: %v", ev.Handle, err)
	}
}

// RequestRemoteAction forwards a local action on a mirror to the peer that
// owns the original. Success means "handed to the transport"; the actual
// outcome arrives later as an actionResult.
func (e *Engine) RequestRemoteAction(ctx context.Context, h store.Handle, v model.Value) error {
	id, err := e.repo.IdentifierByHandle(ctx, int(h))
	if err != nil {
		if repo.IsNotFound(err) {
			return fmt.Errorf("handle %d is not a synchronized variable", h)
		}
		return err
	}
	if err := e.repo.AddPending(ctx, id, e.now()); err != nil {
		return err
	}
	raw, err := v.JSON()
	if err != nil {
		return fmt.Errorf("remote action %q: %w", id, err)
	}
	msg := messages.SetValue{
		Type:       messages.TypeSetValue,
		Identifier: id,
		Value:      raw,
		ValueType:  string(v.Kind),
		Timestamp:  e.now().UnixMilli(),
	}
	if err := e.publish(messages.TypeSetValue, msg); err != nil {
		return err
	}
	e.sink.Record(audit.Event{Kind: "remote_action", Identifier: id, Success: true, Message: "sent " + v.String()})
	return nil
}
