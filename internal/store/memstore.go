package store

import (
	"fmt"
	"sync"

	"github.com/varbridge/varbridge/internal/model"
)

type memNode struct {
	Node
	valueKind model.Kind
	value     model.Value
	profile   string
	writable  bool
	action    ActionFunc
	children  []Handle
}

// MemStore is a mutex-protected in-memory object store.
type MemStore struct {
	mu        sync.RWMutex
	nodes     map[Handle]*memNode
	profiles  map[string]model.Profile
	next      Handle
	root      Handle
	listeners []func(ChangeEvent)
}

func NewMemStore() *MemStore {
	s := &MemStore{
		nodes:    make(map[Handle]*memNode),
		profiles: make(map[string]model.Profile),
		next:     1,
	}
	s.root = s.mustAdd(None, "Root", "", NodeCategory)
	return s
}

func (s *MemStore) mustAdd(parent Handle, name, ident string, kind NodeKind) Handle {
	h := s.next
	s.next++
	s.nodes[h] = &memNode{Node: Node{Handle: h, Parent: parent, Name: name, Ident: ident, Kind: kind}}
	if parent != None {
		s.nodes[parent].children = append(s.nodes[parent].children, h)
	}
	return h
}

func (s *MemStore) Root() Handle { return s.root }

func (s *MemStore) Node(h Handle) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[h]
	if !ok {
		return Node{}, false
	}
	return n.Node, true
}

func (s *MemStore) Children(h Handle) []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[h]
	if !ok {
		return nil
	}
	out := make([]Node, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, s.nodes[c].Node)
	}
	return out
}

func (s *MemStore) ChildByIdent(parent Handle, ident string) (Handle, bool) {
	if ident == "" {
		return None, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.nodes[parent]
	if !ok {
		return None, false
	}
	for _, c := range p.children {
		if s.nodes[c].Ident == ident {
			return c, true
		}
	}
	return None, false
}

func (s *MemStore) CreateCategory(parent Handle, name, ident string) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkParent(parent, ident); err != nil {
		return None, err
	}
	return s.mustAdd(parent, name, ident, NodeCategory), nil
}

// CreateLink adds an alias node pointing elsewhere in the tree. Links are
// skipped by subtree walks to avoid cycles.
func (s *MemStore) CreateLink(parent Handle, name string, target Handle) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkParent(parent, ""); err != nil {
		return None, err
	}
	if _, ok := s.nodes[target]; !ok {
		return None, fmt.Errorf("link target %d does not exist", target)
	}
	return s.mustAdd(parent, name, "", NodeLink), nil
}

func (s *MemStore) CreateVariable(parent Handle, name string, kind model.Kind, ident string) (Handle, error) {
	if _, err := model.ParseKind(string(kind)); err != nil {
		return None, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkParent(parent, ident); err != nil {
		return None, err
	}
	h := s.mustAdd(parent, name, ident, NodeVariable)
	s.nodes[h].valueKind = kind
	s.nodes[h].value = zeroValue(kind)
	return h, nil
}

func (s *MemStore) checkParent(parent Handle, ident string) error {
	p, ok := s.nodes[parent]
	if !ok {
		return fmt.Errorf("parent %d does not exist", parent)
	}
	if p.Kind != NodeCategory {
		return fmt.Errorf("parent %d is not a category", parent)
	}
	if ident != "" {
		for _, c := range p.children {
			if s.nodes[c].Ident == ident {
				return fmt.Errorf("ident %q already used under %d", ident, parent)
			}
		}
	}
	return nil
}

func (s *MemStore) Variable(h Handle) (VariableRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[h]
	if !ok || n.Kind != NodeVariable {
		return VariableRecord{}, false
	}
	return VariableRecord{
		Node:      n.Node,
		ValueKind: n.valueKind,
		Value:     n.value,
		Profile:   n.profile,
		Writable:  n.writable,
	}, true
}

// SetValue commits a write and notifies listeners, value changed or not: the
// notification feed mirrors the store's write stream, not a diff stream.
func (s *MemStore) SetValue(h Handle, v model.Value) error {
	s.mu.Lock()
	n, ok := s.nodes[h]
	if !ok || n.Kind != NodeVariable {
		s.mu.Unlock()
		return fmt.Errorf("variable %d does not exist", h)
	}
	if v.Kind != n.valueKind {
		s.mu.Unlock()
		return fmt.Errorf("variable %d holds %s, got %s", h, n.valueKind, v.Kind)
	}
	n.value = v
	listeners := s.listeners
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(ChangeEvent{Handle: h, Value: v})
	}
	return nil
}

func (s *MemStore) SetProfile(h Handle, profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[h]
	if !ok || n.Kind != NodeVariable {
		return fmt.Errorf("variable %d does not exist", h)
	}
	n.profile = profile
	return nil
}

func (s *MemStore) SetWritable(h Handle, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[h]
	if !ok || n.Kind != NodeVariable {
		return fmt.Errorf("variable %d does not exist", h)
	}
	n.writable = on
	return nil
}

// OnAction installs a custom action handler for a variable.
func (s *MemStore) OnAction(h Handle, fn ActionFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[h]
	if !ok || n.Kind != NodeVariable {
		return fmt.Errorf("variable %d does not exist", h)
	}
	n.action = fn
	return nil
}

// RequestAction routes a write through the variable's action handler. The
// handler owns the write entirely: it decides whether and when the value is
// applied (a bridge handler forwards it to the peer instead of applying it).
// Writable variables without a handler fall back to a plain write.
func (s *MemStore) RequestAction(h Handle, v model.Value) error {
	s.mu.RLock()
	n, ok := s.nodes[h]
	if !ok || n.Kind != NodeVariable {
		s.mu.RUnlock()
		return fmt.Errorf("variable %d does not exist", h)
	}
	action := n.action
	writable := n.writable
	s.mu.RUnlock()

	if action != nil {
		return action(v)
	}
	if !writable {
		return fmt.Errorf("variable %d does not accept actions", h)
	}
	return s.SetValue(h, v)
}

func (s *MemStore) CreateProfile(p model.Profile) error {
	if !p.Valid() {
		return fmt.Errorf("invalid profile %q", p.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.Name]; ok {
		return fmt.Errorf("profile %q already exists", p.Name)
	}
	s.profiles[p.Name] = p
	return nil
}

func (s *MemStore) Profile(name string) (model.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[name]
	return p, ok
}

func (s *MemStore) ProfileExists(name string) bool {
	_, ok := s.Profile(name)
	return ok
}

func (s *MemStore) Subscribe(fn func(ChangeEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func zeroValue(kind model.Kind) model.Value {
	switch kind {
	case model.KindBool:
		return model.BoolValue(false)
	case model.KindInt:
		return model.IntValue(0)
	case model.KindFloat:
		return model.FloatValue(0)
	default:
		return model.StringValue("")
	}
}
