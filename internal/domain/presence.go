package domain

import "time"

// AgentPresence is the agent's online/offline flag. A single value exists
// per agent client instance; it gates whether new inbound conversations
// are treated as answerable.
type AgentPresence struct {
	Online    bool      `json:"online"`
	UpdatedAt time.Time `json:"updated_at"`
}
