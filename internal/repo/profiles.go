package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/varbridge/varbridge/internal/model"
)

// MarkPublished records that a local profile has been sent to the peer, so
// later variable syncs can skip retransmitting it.
func (r *Repo) MarkPublished(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("repo: mark published: name required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO published_profiles (name, published_at) VALUES (?, ?)
		ON CONFLICT(name) DO NOTHING`, name, nowMillis())
	if err != nil {
		return fmt.Errorf("repo: mark published %q: %w", name, err)
	}
	return nil
}

// IsPublished reports whether a profile has already gone out.
func (r *Repo) IsPublished(ctx context.Context, name string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM published_profiles WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repo: published lookup %q: %w", name, err)
	}
	return true, nil
}

// SaveDefinition caches a received profile definition under its original
// (unprefixed) name for reuse when mirrors referencing it are created later.
// Re-received definitions replace the cached copy; the locally created
// profile itself stays immutable.
func (r *Repo) SaveDefinition(ctx context.Context, p model.Profile) error {
	if p.Name == "" {
		return fmt.Errorf("repo: save definition: name required")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("repo: marshal definition %q: %w", p.Name, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO profile_definitions (name, definition, received_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET definition = excluded.definition, received_at = excluded.received_at`,
		p.Name, string(raw), nowMillis())
	if err != nil {
		return fmt.Errorf("repo: save definition %q: %w", p.Name, err)
	}
	return nil
}

// Definition loads a cached received profile definition by original name.
func (r *Repo) Definition(ctx context.Context, name string) (model.Profile, error) {
	var raw string
	err := r.db.QueryRowContext(ctx,
		`SELECT definition FROM profile_definitions WHERE name = ?`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Profile{}, NotFoundError{Entity: "profile definition", Key: name}
	}
	if err != nil {
		return model.Profile{}, fmt.Errorf("repo: load definition %q: %w", name, err)
	}
	var p model.Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return model.Profile{}, fmt.Errorf("repo: decode definition %q: %w", name, err)
	}
	return p, nil
}
