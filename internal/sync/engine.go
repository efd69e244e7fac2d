// Package sync holds the replication engine: it walks the configured
// subtrees outward, interprets the four inbound wire message types, creates
// mirror variables, and drives the guard, identifier map, profile cache and
// pending ledger. All engine methods are invoked from a single event loop;
// nothing here runs concurrently with itself.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/varbridge/varbridge/internal/audit"
	"github.com/varbridge/varbridge/internal/identifier"
	"github.com/varbridge/varbridge/internal/repo"
	"github.com/varbridge/varbridge/internal/store"
)

const defaultProfilePrefix = "Remote."

// Config is the engine's installation-specific wiring.
type Config struct {
	ReceiveTopic  string
	ProfilePrefix string         // prepended to mirrored profile names, idempotently
	MirrorRoot    store.Handle   // category receiving mirror subtrees
	Targets       []store.Handle // local subtrees published to the peer
	PendingTTL    time.Duration  // 0 = pending actions never expire
}

// Engine is the orchestrator between the object store, the transport, and
// the persisted correlation state.
type Engine struct {
	cfg     Config
	store   store.Store
	repo    *repo.Repo
	pub     Publisher
	guard   *EchoGuard
	met     *Metrics
	sink    audit.Sink
	targets map[store.Handle]bool
	now     func() time.Time
}

// ActionBinder is implemented by stores that let the engine attach an action
// handler to a variable, so local actions on mirrors are forwarded outward.
type ActionBinder interface {
	OnAction(h store.Handle, fn store.ActionFunc) error
}

func NewEngine(cfg Config, st store.Store, r *repo.Repo, pub Publisher, guard *EchoGuard, met *Metrics, sink audit.Sink) *Engine {
	if cfg.ProfilePrefix == "" {
		cfg.ProfilePrefix = defaultProfilePrefix
	}
	if guard == nil {
		guard = NewEchoGuard(0)
	}
	if met == nil {
		met = NewMetrics(nil)
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	targets := make(map[store.Handle]bool, len(cfg.Targets))
	for _, t := range cfg.Targets {
		targets[t] = true
	}
	return &Engine{
		cfg:     cfg,
		store:   st,
		repo:    r,
		pub:     pub,
		guard:   guard,
		met:     met,
		sink:    sink,
		targets: targets,
		now:     time.Now,
	}
}

// ResetGuards drops all transient echo-suppression state. Called whenever
// the configuration changes and tracking is rebuilt from scratch.
func (e *Engine) ResetGuards() { e.guard.Reset() }

// ExpirePending applies the configured pending-action TTL, if any.
func (e *Engine) ExpirePending(ctx context.Context) (int64, error) {
	if e.cfg.PendingTTL <= 0 {
		return 0, nil
	}
	return e.repo.ExpirePending(ctx, e.now().Add(-e.cfg.PendingTTL))
}

// prefixed applies the mirror profile prefix exactly once.
func (e *Engine) prefixed(name string) string {
	if strings.HasPrefix(name, e.cfg.ProfilePrefix) {
		return name
	}
	return e.cfg.ProfilePrefix + name
}

// locate climbs the ancestry of h until it hits a configured target root or
// the mirror root. The returned chain is anchor-first and ends at h's
// parent; mirror reports which side of the bridge owns the variable.
func (e *Engine) locate(h store.Handle) (chain []store.Node, mirror, ok bool) {
	n, found := e.store.Node(h)
	if !found {
		return nil, false, false
	}
	if e.targets[h] {
		return nil, false, true // a target that is itself a variable has an empty path
	}
	var up []store.Node
	for p := n.Parent; p != store.None; {
		pn, found := e.store.Node(p)
		if !found {
			return nil, false, false
		}
		if pn.Handle == e.cfg.MirrorRoot {
			return reverseNodes(up), true, true
		}
		up = append(up, pn)
		if e.targets[pn.Handle] {
			return reverseNodes(up), false, true
		}
		p = pn.Parent
	}
	return nil, false, false
}

func reverseNodes(in []store.Node) []store.Node {
	out := make([]store.Node, len(in))
	for i, n := range in {
		out[len(in)-1-i] = n
	}
	return out
}

// publish marshals msg and hands it to the transport, counting by type.
func (e *Engine) publish(msgType string, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}
	if err := e.pub.Publish(b); err != nil {
		return fmt.Errorf("publish %s: %w", msgType, err)
	}
	e.met.Published.WithLabelValues(msgType).Inc()
	return nil
}

func (e *Engine) drop(reason, detail string) {
	e.met.Dropped.WithLabelValues(reason).Inc()
	log.Printf("sync: dropped message (%s): %s", reason, detail)
}

// chainIdentifiers derives the path-based identifier of every node in the
// chain, anchor-first, plus the identifier of the leaf itself.
func chainIdentifiers(chain []store.Node, leafName string) (ids []string, leaf string) {
	ids = make([]string, len(chain))
	cur := ""
	for i, n := range chain {
		cur = identifier.Append(cur, n.Name)
		ids[i] = cur
	}
	return ids, identifier.Append(cur, leafName)
}
