package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SaveMapping upserts identifier→handle. At most one live handle per
// identifier: a stale handle is simply overwritten on the next save, never
// eagerly pruned.
func (r *Repo) SaveMapping(ctx context.Context, identifier string, handle int) error {
	if identifier == "" {
		return fmt.Errorf("repo: save mapping: identifier required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO identifier_map (identifier, handle, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET handle = excluded.handle, updated_at = excluded.updated_at`,
		identifier, handle, nowMillis())
	if err != nil {
		return fmt.Errorf("repo: save mapping %q: %w", identifier, err)
	}
	return nil
}

// HandleByIdentifier resolves the local handle for an identifier.
func (r *Repo) HandleByIdentifier(ctx context.Context, identifier string) (int, error) {
	var handle int
	err := r.db.QueryRowContext(ctx,
		`SELECT handle FROM identifier_map WHERE identifier = ?`, identifier).Scan(&handle)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, NotFoundError{Entity: "mapping", Key: identifier}
	}
	if err != nil {
		return 0, fmt.Errorf("repo: lookup mapping %q: %w", identifier, err)
	}
	return handle, nil
}

// IdentifierByHandle is the reverse lookup, used when a local action on a
// mirror must be forwarded under the identifier of its remote original.
func (r *Repo) IdentifierByHandle(ctx context.Context, handle int) (string, error) {
	var identifier string
	err := r.db.QueryRowContext(ctx,
		`SELECT identifier FROM identifier_map WHERE handle = ? ORDER BY updated_at DESC LIMIT 1`,
		handle).Scan(&identifier)
	if errors.Is(err, sql.ErrNoRows) {
		return "", NotFoundError{Entity: "mapping for handle", Key: fmt.Sprint(handle)}
	}
	if err != nil {
		return "", fmt.Errorf("repo: reverse lookup handle %d: %w", handle, err)
	}
	return identifier, nil
}
