package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/varbridge/varbridge/internal/model"
	"github.com/varbridge/varbridge/internal/store"
	"github.com/varbridge/varbridge/pkg/mqtt"
)

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envMillis(key string, def time.Duration) time.Duration {
	return time.Duration(envInt(key, int(def.Milliseconds()))) * time.Millisecond
}

type config struct {
	Broker mqtt.BrokerConfig

	SendTopic    string
	ReceiveTopic string

	StateDB    string
	SeedPath   string
	Targets    []string // slash-separated paths under the seed tree
	MirrorName string

	ProfilePrefix    string
	Debounce         time.Duration
	PendingTTL       time.Duration // 0 = never expire
	GuardAutoRelease time.Duration // 0 = off
	DedupWindow      time.Duration

	BreakerFails   int
	BreakerOpenFor time.Duration

	HTTPPort int

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
}

func loadConfig() config {
	return config{
		Broker: mqtt.BrokerConfig{
			Host:     envStr("MQTT_HOST", "localhost"),
			Port:     envInt("MQTT_PORT", 1883),
			User:     envStr("MQTT_USER", ""),
			Password: envStr("MQTT_PASSWORD", ""),
			ClientID: envStr("HOSTNAME", "varbridge"),
		},

		// Distinct directions so an installation never consumes its own
		// publications; the peer runs with the two topics swapped.
		SendTopic:    envStr("SEND_TOPIC", "varbridge/a-to-b"),
		ReceiveTopic: envStr("RECEIVE_TOPIC", "varbridge/b-to-a"),

		StateDB:    envStr("STATE_DB", "varbridge.db"),
		SeedPath:   envStr("SEED_PATH", "seed.json"),
		Targets:    splitList(envStr("TARGET_PATHS", "")),
		MirrorName: envStr("MIRROR_NAME", "Remote"),

		ProfilePrefix:    envStr("PROFILE_PREFIX", "Remote."),
		Debounce:         envMillis("SYNC_DEBOUNCE_MS", 2000*time.Millisecond),
		PendingTTL:       envMillis("PENDING_ACTION_TTL_MS", 0),
		GuardAutoRelease: envMillis("GUARD_AUTORELEASE_MS", 0),
		DedupWindow:      envMillis("DEDUP_WINDOW_MS", 10*time.Minute),

		BreakerFails:   envInt("BREAKER_FAILS", 5),
		BreakerOpenFor: envMillis("BREAKER_OPEN_MS", 10000*time.Millisecond),

		HTTPPort: envInt("HTTP_PORT", 8080),

		InfluxURL:    envStr("INFLUX_URL", ""),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    envStr("INFLUX_ORG", "varbridge"),
		InfluxBucket: envStr("INFLUX_BUCKET", "audit"),
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ===================== Seed tree =====================

type seedNode struct {
	Name     string     `json:"name"`
	Type     string     `json:"type,omitempty"` // bool|int|float|string; empty = category
	Value    any        `json:"value,omitempty"`
	Profile  string     `json:"profile,omitempty"`
	Writable bool       `json:"writable,omitempty"`
	Children []seedNode `json:"children,omitempty"`
}

type seedFile struct {
	Profiles []model.Profile `json:"profiles,omitempty"`
	Tree     []seedNode      `json:"tree"`
}

// loadSeed populates the in-memory store with the local tree to publish.
func loadSeed(path string, st *store.MemStore) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	var sf seedFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return fmt.Errorf("parse seed: %w", err)
	}
	for _, p := range sf.Profiles {
		if err := st.CreateProfile(p); err != nil {
			return fmt.Errorf("seed profile %q: %w", p.Name, err)
		}
	}
	for _, n := range sf.Tree {
		if err := seedInto(st, st.Root(), n); err != nil {
			return err
		}
	}
	return nil
}

func seedInto(st *store.MemStore, parent store.Handle, n seedNode) error {
	if n.Type == "" {
		h, err := st.CreateCategory(parent, n.Name, "")
		if err != nil {
			return fmt.Errorf("seed category %q: %w", n.Name, err)
		}
		for _, c := range n.Children {
			if err := seedInto(st, h, c); err != nil {
				return err
			}
		}
		return nil
	}

	kind, err := model.ParseKind(n.Type)
	if err != nil {
		return fmt.Errorf("seed variable %q: %w", n.Name, err)
	}
	h, err := st.CreateVariable(parent, n.Name, kind, "")
	if err != nil {
		return fmt.Errorf("seed variable %q: %w", n.Name, err)
	}
	if n.Value != nil {
		v, err := seedValue(kind, n.Value)
		if err != nil {
			return fmt.Errorf("seed variable %q: %w", n.Name, err)
		}
		if err := st.SetValue(h, v); err != nil {
			return err
		}
	}
	if n.Profile != "" {
		if err := st.SetProfile(h, n.Profile); err != nil {
			return err
		}
	}
	if n.Writable {
		if err := st.SetWritable(h, true); err != nil {
			return err
		}
	}
	return nil
}

func seedValue(kind model.Kind, raw any) (model.Value, error) {
	switch kind {
	case model.KindBool:
		if b, ok := raw.(bool); ok {
			return model.BoolValue(b), nil
		}
	case model.KindInt:
		if f, ok := raw.(float64); ok && f == float64(int64(f)) {
			return model.IntValue(int64(f)), nil
		}
	case model.KindFloat:
		if f, ok := raw.(float64); ok {
			return model.FloatValue(f), nil
		}
	case model.KindString:
		if s, ok := raw.(string); ok {
			return model.StringValue(s), nil
		}
	}
	return model.Value{}, fmt.Errorf("value %v is not a %s", raw, kind)
}

// resolvePath walks the tree by display names ("Home/Floor1").
func resolvePath(st *store.MemStore, path string) (store.Handle, error) {
	cur := st.Root()
	for _, name := range strings.Split(path, "/") {
		found := store.None
		for _, c := range st.Children(cur) {
			if c.Name == name {
				found = c.Handle
				break
			}
		}
		if found == store.None {
			return store.None, fmt.Errorf("path %q: segment %q not found", path, name)
		}
		cur = found
	}
	return cur, nil
}
