// Package store defines the hierarchical object store the bridge mirrors
// into and out of. The bridge only depends on this boundary; MemStore is the
// in-process implementation used by the daemon's seed mode and the tests.
package store

import "github.com/varbridge/varbridge/internal/model"

// Handle identifies one node inside a store. Handles are local, dense ints;
// the stable cross-installation key is the identifier, never the handle.
type Handle int

// None is the zero Handle, never assigned to a node.
const None Handle = 0

type NodeKind int

const (
	NodeCategory NodeKind = iota
	NodeVariable
	NodeLink
)

// Node is the tree-structural view of any item.
type Node struct {
	Handle Handle
	Parent Handle
	Name   string
	Ident  string
	Kind   NodeKind
}

// VariableRecord is the full view of a variable node.
type VariableRecord struct {
	Node
	ValueKind model.Kind
	Value     model.Value
	Profile   string
	Writable  bool
}

// ChangeEvent is delivered for every committed variable write.
type ChangeEvent struct {
	Handle Handle
	Value  model.Value
}

// ActionFunc handles an action request for one variable. Returning an error
// marks the action failed; the value is not applied by the store in that case.
type ActionFunc func(v model.Value) error

// Store is the object-store capability set the sync engine requires.
type Store interface {
	Root() Handle
	Node(h Handle) (Node, bool)
	Children(h Handle) []Node
	ChildByIdent(parent Handle, ident string) (Handle, bool)

	CreateCategory(parent Handle, name, ident string) (Handle, error)
	CreateVariable(parent Handle, name string, kind model.Kind, ident string) (Handle, error)
	Variable(h Handle) (VariableRecord, bool)
	SetValue(h Handle, v model.Value) error
	SetProfile(h Handle, profile string) error
	SetWritable(h Handle, on bool) error

	CreateProfile(p model.Profile) error
	Profile(name string) (model.Profile, bool)
	ProfileExists(name string) bool

	// RequestAction routes a write through the variable's action capability
	// and reports its outcome synchronously.
	RequestAction(h Handle, v model.Value) error

	// Subscribe registers a change listener. Listeners run synchronously on
	// the writing goroutine and must not block.
	Subscribe(fn func(ChangeEvent))
}
