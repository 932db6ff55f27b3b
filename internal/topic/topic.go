package topic

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidID is returned for user ids that cannot be embedded in a topic.
var ErrInvalidID = errors.New("invalid user id")

// Scheme holds every name derived from a (self, peer) pair.
type Scheme struct {
	SelfID string
	PeerID string

	// Publish is where self sends chat and typing payloads.
	Publish string
	// Subscribe is where the peer sends to self. It is the peer's Publish.
	Subscribe string
	// PeerStatus carries the peer's retained presence.
	PeerStatus string
	// SelfStatus carries our own retained presence and last will.
	SelfStatus string
	// CacheKey names the local store record of the conversation.
	CacheKey string
}

// For derives the scheme for selfID talking to peerID.
// For(a, b).Publish == For(b, a).Subscribe for any a, b.
func For(selfID, peerID string) Scheme {
	return Scheme{
		SelfID:     selfID,
		PeerID:     peerID,
		Publish:    "chat/" + selfID + "/" + peerID,
		Subscribe:  "chat/" + peerID + "/" + selfID,
		PeerStatus: StatusTopic(peerID),
		SelfStatus: StatusTopic(selfID),
		CacheKey:   CacheKey(selfID, peerID),
	}
}

// StatusTopic returns the presence topic of a user.
func StatusTopic(userID string) string {
	return "status/" + userID
}

// CacheKey returns the local store key of the (self, peer) conversation. It
// is unambiguous only for ids accepted by ValidateID.
func CacheKey(selfID, peerID string) string {
	return "chat_" + selfID + "_" + peerID
}

// ValidateID rejects ids that would change the topic structure (topic level
// separators, MQTT wildcards and NUL) and ids containing '_', the CacheKey
// separator, so that distinct pairs never share a cache key.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if strings.ContainsAny(id, "/+#\x00") {
		return fmt.Errorf("%w: %q contains a reserved topic character", ErrInvalidID, id)
	}
	if strings.Contains(id, "_") {
		return fmt.Errorf("%w: %q contains '_'", ErrInvalidID, id)
	}
	return nil
}

// ValidatePair validates both ids and rejects a conversation with oneself,
// whose publish and subscribe topics would coincide.
func ValidatePair(selfID, peerID string) error {
	if err := ValidateID(selfID); err != nil {
		return fmt.Errorf("self: %w", err)
	}
	if err := ValidateID(peerID); err != nil {
		return fmt.Errorf("peer: %w", err)
	}
	if selfID == peerID {
		return fmt.Errorf("%w: self and peer are both %q", ErrInvalidID, selfID)
	}
	return nil
}
