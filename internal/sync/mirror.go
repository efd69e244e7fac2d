package sync

import (
	"context"
	"fmt"
	"log"

	"github.com/varbridge/varbridge/internal/identifier"
	"github.com/varbridge/varbridge/internal/model"
	"github.com/varbridge/varbridge/internal/model/messages"
	"github.com/varbridge/varbridge/internal/repo"
	"github.com/varbridge/varbridge/internal/store"
)

// ensureMirrorStructure replays the structural path top-down under the
// mirror root, creating pass-through categories as needed, and returns the
// parent for the leaf variable. Child idents are derived from the segment
// identifiers, so a repeated receipt finds the existing levels instead of
// duplicating them.
func (e *Engine) ensureMirrorStructure(path []messages.PathSegment) (store.Handle, error) {
	parent := e.cfg.MirrorRoot
	if _, ok := e.store.Node(parent); !ok {
		return store.None, fmt.Errorf("mirror root %d missing", parent)
	}
	for _, seg := range path {
		ident := identifier.ShortForm(seg.Identifier)
		child, ok := e.store.ChildByIdent(parent, ident)
		if !ok {
			var err error
			child, err = e.store.CreateCategory(parent, seg.Name, ident)
			if err != nil {
				return store.None, fmt.Errorf("create level %q: %w", seg.Name, err)
			}
		}
		parent = child
	}
	return parent, nil
}

// createMirror builds the local shadow of a remotely authoritative variable:
// structure, typed variable, profile (when the cache can supply a matching
// one), identifier mapping, and the action binding that forwards local
// writes back to the owner.
func (e *Engine) createMirror(ctx context.Context, m messages.VariableUpdate) (store.Handle, error) {
	kind, err := model.ParseKind(string(m.Definition.Type))
	if err != nil {
		return store.None, fmt.Errorf("definition type: %w", err)
	}

	parent, err := e.ensureMirrorStructure(m.Path)
	if err != nil {
		return store.None, err
	}

	ident := identifier.ShortForm(m.Identifier)
	if existing, ok := e.store.ChildByIdent(parent, ident); ok {
		// The variable survived but its mapping didn't; adopt it.
		if err := e.repo.SaveMapping(ctx, m.Identifier, int(existing)); err != nil {
			return store.None, err
		}
		return existing, nil
	}

	h, err := e.store.CreateVariable(parent, m.Definition.Name, kind, ident)
	if err != nil {
		return store.None, fmt.Errorf("create variable %q: %w", m.Definition.Name, err)
	}
	if err := e.store.SetWritable(h, true); err != nil {
		return store.None, err
	}
	e.attachMirrorProfile(ctx, h, m.Definition.Profile, kind)

	if err := e.repo.SaveMapping(ctx, m.Identifier, int(h)); err != nil {
		return store.None, err
	}

	// Local actions on the mirror go out as setValue instead of writing
	// through; the value lands when the owner echoes the update back.
	if binder, ok := e.store.(ActionBinder); ok {
		handle := h
		if err := binder.OnAction(handle, func(v model.Value) error {
			return e.RequestRemoteAction(context.Background(), handle, v)
		}); err != nil {
			log.Printf("sync: bind action for mirror %d: %v", h, err)
		}
	}

	e.met.MirrorsCreated.Inc()
	log.Printf("sync: created mirror %q for %q", m.Definition.Name, m.Identifier)
	return h, nil
}

// attachMirrorProfile resolves the referenced profile through the mirror
// cache. A type mismatch refuses reuse and leaves the profile unset rather
// than applying an incompatible one.
func (e *Engine) attachMirrorProfile(ctx context.Context, h store.Handle, name string, kind model.Kind) {
	if name == "" {
		return
	}
	def, err := e.repo.Definition(ctx, name)
	if err != nil {
		if !repo.IsNotFound(err) {
			log.Printf("sync: profile cache lookup %q: %v", name, err)
		}
		return
	}
	if def.Type != kind {
		log.Printf("sync: profile %q is %s but variable is %s, leaving unset", name, def.Type, kind)
		return
	}
	local := e.prefixed(name)
	if !e.store.ProfileExists(local) {
		cp := def
		cp.Name = local
		if err := e.store.CreateProfile(cp); err != nil {
			log.Printf("sync: create profile %q: %v", local, err)
			return
		}
	}
	if err := e.store.SetProfile(h, local); err != nil {
		log.Printf("sync: attach profile %q to %d: %v", local, h, err)
	}
}
