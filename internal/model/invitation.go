package model

import "time"

type (
	// Invitation is a single-use, time-limited credential for joining a chat.
	Invitation struct {
		ID          string        `json:"id" cbor:"id"`
		ChatID      string        `json:"chat_id" cbor:"chat_id"`
		CreatedBy   string        `json:"created_by" cbor:"created_by"`
		JoinKey     []byte        `json:"-" cbor:"join_key"`
		KeyMaterial []byte        `json:"key_material,omitempty" cbor:"key_material,omitempty"`
		CreatedAt   time.Time     `json:"created_at" cbor:"created_at"`
		TTL         time.Duration `json:"ttl" cbor:"ttl"`
	}
)

// Expired reports whether now is past createdAt+ttl. An invitation is still
// valid at exactly createdAt+ttl.
func (i *Invitation) Expired(now time.Time) bool {
	return now.Sub(i.CreatedAt) > i.TTL
}
