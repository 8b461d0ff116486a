package model

import "time"

// Tier is the payment status of a conversation. It selects the prompt variant.
type Tier string

const (
	TierUnpaid Tier = "unpaid"
	TierPaid   Tier = "paid"
)

// Conversation is a thread between one end user and the agent.
type Conversation struct {
	ID          string
	Channel     string
	UserNumber  string
	HasPaid     bool
	UserContext *string // summary written by context extraction, opaque here
	UpdatedAt   time.Time
}

func (c *Conversation) Tier() Tier {
	if c.HasPaid {
		return TierPaid
	}
	return TierUnpaid
}
