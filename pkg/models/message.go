package models

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Message struct {
	ID      string `json:"id"`
	Session string `json:"session"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// TS is the creation timestamp (ns)
	TS int64 `json:"ts"`
	// Order is the per-session index assigned by the store; strictly
	// increasing, never supplied by clients
	Order int64 `json:"order"`
	// NSFW records the effective content state of the turn that produced
	// this message
	NSFW bool `json:"nsfw,omitempty"`
	// Meta holds free-form provenance (e.g. mirror source ids)
	Meta map[string]string `json:"meta,omitempty"`
}
