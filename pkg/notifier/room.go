// Copyright 2024-2026 Aiku AI

package notifier

import (
	"context"
	"strings"
	"sync"

	"maunium.net/go/mautrix/id"
)

// RoomCache resolves the configured room reference to a room ID and
// remembers the last alias resolution.
type RoomCache struct {
	mu     sync.Mutex
	alias  string
	roomID id.RoomID
}

// Resolve returns the room ID for reference. Room IDs are returned as is;
// aliases are resolved once per distinct alias value.
func (rc *RoomCache) Resolve(ctx context.Context, transport Transport, reference string) (id.RoomID, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	switch {
	case strings.HasPrefix(reference, "!"):
		rc.alias = ""
		rc.roomID = id.RoomID(reference)
		return rc.roomID, nil

	case strings.HasPrefix(reference, "#"):
		if reference == rc.alias && rc.roomID != "" {
			return rc.roomID, nil
		}
		roomID, err := transport.ResolveAlias(ctx, id.RoomAlias(reference))
		if err != nil {
			return "", err
		}
		rc.alias = reference
		rc.roomID = roomID
		return roomID, nil

	default:
		return "", &ConfigError{Field: "room", Message: "the room configuration option must start with ! or #"}
	}
}

// Cached returns the cached alias and room ID.
func (rc *RoomCache) Cached() (alias string, roomID id.RoomID) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.alias, rc.roomID
}
