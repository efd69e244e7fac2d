// Package identifier derives the stable, location-based identifiers that
// correlate the same logical item across both installations, and the
// collision-safe short forms used as local handle idents.
package identifier

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const sep = "/"

// escape protects the separator inside a single segment name so that
// "A/B" as a name and "A"→"B" as nesting produce different identifiers.
func escape(name string) string {
	name = strings.ReplaceAll(name, `\`, `\\`)
	return strings.ReplaceAll(name, sep, `\/`)
}

// FromSegments builds the identifier for the item whose ancestry (root first,
// item last) is the given name sequence.
func FromSegments(names []string) string {
	esc := make([]string, len(names))
	for i, n := range names {
		esc[i] = escape(n)
	}
	return strings.Join(esc, sep)
}

// Append extends a parent identifier with one more segment.
func Append(parent, name string) string {
	if parent == "" {
		return escape(name)
	}
	return parent + sep + escape(name)
}

// Leaf returns the unescaped last segment of an identifier, for display.
func Leaf(identifier string) string {
	idx := -1
	for i := 0; i < len(identifier); i++ {
		if identifier[i] == '\\' {
			i++ // skip escaped char
			continue
		}
		if identifier[i] == '/' {
			idx = i
		}
	}
	leaf := identifier[idx+1:]
	leaf = strings.ReplaceAll(leaf, `\/`, sep)
	return strings.ReplaceAll(leaf, `\\`, `\`)
}

// ShortForm derives a handle-safe ident from an identifier: the sanitized
// leaf for readability plus a hash suffix for collision safety. Stable across
// restarts by construction.
func ShortForm(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	suffix := hex.EncodeToString(sum[:4])

	leaf := sanitize(Leaf(identifier))
	if leaf == "" {
		return "n_" + suffix
	}
	const maxLeaf = 24
	if len(leaf) > maxLeaf {
		leaf = leaf[:maxLeaf]
	}
	return leaf + "_" + suffix
}

// sanitize keeps [A-Za-z0-9_] and forces a letter up front, the lowest common
// denominator for ident rules across object stores.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "n" + out
	}
	return out
}
