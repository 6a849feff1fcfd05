package session

import (
	"encoding/json"
	"fmt"
)

// SchemaVersion tags the snapshot envelope so a future field change can be
// migrated instead of silently misread.  Version bumps require a decode
// branch here; there is exactly one version so far.
const SchemaVersion = 1

type snapshotEnvelope struct {
	SchemaVersion int        `json:"schemaVersion"`
	Sessions      []*Session `json:"sessions"`
}

// EncodeList serializes the session list into the versioned snapshot form
// written to the cache after every mutation.
func EncodeList(sessions []*Session) ([]byte, error) {
	return json.Marshal(snapshotEnvelope{SchemaVersion: SchemaVersion, Sessions: sessions})
}

// DecodeList parses a snapshot blob back into session entities.  It
// validates the schema version and the variant tags, and rebuilds derived
// fields (the participator id set) in case the blob predates them.
func DecodeList(blob []byte) ([]*Session, error) {
	var env snapshotEnvelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if env.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("decode snapshot: unsupported schema version %d", env.SchemaVersion)
	}
	for i, s := range env.Sessions {
		if s == nil {
			return nil, fmt.Errorf("decode snapshot: null session at index %d", i)
		}
		switch s.Kind {
		case KindRealtime, KindReserved:
		default:
			return nil, fmt.Errorf("decode snapshot: unknown session kind %q", s.Kind)
		}
		switch s.Status {
		case StatusBefore, StatusOnAir, StatusAfter, StatusDiscarded:
		default:
			return nil, fmt.Errorf("decode snapshot: unknown session status %q", s.Status)
		}
		if s.Kind == KindReserved && len(s.ParticipatorIDs) == 0 && len(s.Participators) > 0 {
			for _, p := range s.Participators {
				s.ParticipatorIDs = append(s.ParticipatorIDs, p.MemberID)
			}
		}
	}
	return env.Sessions, nil
}

// MarshalList serializes sessions into the plain array form broadcast to
// clients on every state change.
func MarshalList(sessions []*Session) ([]byte, error) {
	if sessions == nil {
		sessions = []*Session{}
	}
	return json.Marshal(sessions)
}
