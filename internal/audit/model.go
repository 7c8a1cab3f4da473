// Package audit keeps a tamper-evident trail of simulation lifecycle events.
// Every entry carries the SHA-256 hash of its content and of the entry
// before it, so editing or dropping an entry breaks the chain.
package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/cbgabler/ehr-module-simulator/internal/shared/types"
)

// canonicalJSON produces JSON with sorted map keys so hashes do not depend
// on map iteration order.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	return canonicalMarshal(parsed)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, _ := json.Marshal(k)
			buf.Write(keyBytes)
			buf.WriteByte(':')
			valBytes, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(valBytes)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil

	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			itemBytes, err := canonicalMarshal(item)
			if err != nil {
				return nil, err
			}
			buf.Write(itemBytes)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil

	default:
		return json.Marshal(val)
	}
}

// ActorType identifies who caused an audited action
type ActorType string

const (
	ActorTypeTrainee ActorType = "trainee"
	ActorTypeSystem  ActorType = "system"
)

// Entry is one immutable record in the trail
type Entry struct {
	ID        types.ID  `json:"id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prevHash,omitempty"`

	ActorType ActorType `json:"actorType"`
	ActorID   types.ID  `json:"actorId,omitempty"`

	Action    string         `json:"action"`
	SessionID types.ID       `json:"sessionId,omitempty"`
	EventID   string         `json:"eventId,omitempty"`
	Changes   map[string]any `json:"changes,omitempty"`
}

// calculateHash hashes the entry content, including the previous hash.
// Timestamps are hashed in UTC.
func (e *Entry) calculateHash() string {
	data := map[string]any{
		"id":         e.ID,
		"sequence":   e.Sequence,
		"timestamp":  e.Timestamp.UTC().Format(time.RFC3339Nano),
		"prev_hash":  e.PrevHash,
		"actor_type": e.ActorType,
		"actor_id":   e.ActorID,
		"action":     e.Action,
		"session_id": e.SessionID,
		"event_id":   e.EventID,
	}
	if len(e.Changes) > 0 {
		data["changes"] = e.Changes
	}

	jsonData, _ := canonicalJSON(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// VerifyHash reports whether the stored hash matches the content
func (e *Entry) VerifyHash() bool {
	return e.Hash == e.calculateHash()
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	SessionID types.ID
	ActorID   types.ID
	Action    string
	Limit     int
}

func (f Filter) matches(e *Entry) bool {
	if !f.SessionID.IsZero() && e.SessionID != f.SessionID {
		return false
	}
	if !f.ActorID.IsZero() && e.ActorID != f.ActorID {
		return false
	}
	return f.Action == "" || e.Action == f.Action
}

// VerifyResult summarizes a chain verification
type VerifyResult struct {
	Valid          bool     `json:"valid"`
	Checked        int      `json:"checked"`
	ContentInvalid int      `json:"contentInvalid"`
	LinkageInvalid int      `json:"linkageInvalid"`
	Violations     []string `json:"violations,omitempty"`
}
