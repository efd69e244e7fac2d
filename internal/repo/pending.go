package repo

import (
	"context"
	"fmt"
	"time"
)

// PendingAction is one outstanding remote write awaiting acknowledgement.
type PendingAction struct {
	Identifier string    `json:"identifier"`
	SentAt     time.Time `json:"sent_at"`
}

// AddPending records an outbound setValue. A repeated request for the same
// identifier refreshes the timestamp.
func (r *Repo) AddPending(ctx context.Context, identifier string, sentAt time.Time) error {
	if identifier == "" {
		return fmt.Errorf("repo: add pending: identifier required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_actions (identifier, sent_at) VALUES (?, ?)
		ON CONFLICT(identifier) DO UPDATE SET sent_at = excluded.sent_at`,
		identifier, sentAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("repo: add pending %q: %w", identifier, err)
	}
	return nil
}

// RemovePending deletes the entry for identifier and reports whether one
// existed. Late or duplicate acknowledgements land here as a no-op.
func (r *Repo) RemovePending(ctx context.Context, identifier string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM pending_actions WHERE identifier = ?`, identifier)
	if err != nil {
		return false, fmt.Errorf("repo: remove pending %q: %w", identifier, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("repo: remove pending %q: %w", identifier, err)
	}
	return n > 0, nil
}

// ListPending returns all outstanding entries, oldest first.
func (r *Repo) ListPending(ctx context.Context) ([]PendingAction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT identifier, sent_at FROM pending_actions ORDER BY sent_at`)
	if err != nil {
		return nil, fmt.Errorf("repo: list pending: %w", err)
	}
	defer rows.Close()

	var out []PendingAction
	for rows.Next() {
		var p PendingAction
		var ms int64
		if err := rows.Scan(&p.Identifier, &ms); err != nil {
			return nil, fmt.Errorf("repo: scan pending: %w", err)
		}
		p.SentAt = time.UnixMilli(ms)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ExpirePending drops entries sent before cutoff and returns how many were
// dropped. Only called when a TTL is configured; the default is to keep lost
// acknowledgements visible forever.
func (r *Repo) ExpirePending(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM pending_actions WHERE sent_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("repo: expire pending: %w", err)
	}
	return res.RowsAffected()
}
