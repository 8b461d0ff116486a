package model

import "time"

const (
	OutboundStatusQueued  = "queued"
	OutboundStatusSending = "sending"
	OutboundStatusSent    = "sent"
	OutboundStatusFailed  = "failed"
)

// InboundMessage is created by ingestion and is read-only here.
type InboundMessage struct {
	ID                 string
	ConversationID     string
	Provider           string
	ProviderMessageSID string
	FromAddress        string
	ToAddress          string
	Body               string
	ReceivedAt         time.Time
}

// OutboundMessage is one reply segment waiting for the downstream sender.
type OutboundMessage struct {
	ID                 string
	ConversationID     string
	InboundMessageID   string
	Provider           string
	FromAddress        string
	ToAddress          string
	Body               string
	SequenceNumber     int
	PromptVersion      string
	Model              string
	ProviderInboundSID string
	Status             string
	CreatedAt          time.Time
}

// NewReplySegment builds the outbound row for segment seq of a reply to in.
// Addresses are mirrored: the reply goes back to whoever sent the inbound.
func NewReplySegment(in *InboundMessage, seq int, body, promptVersion, modelName string) *OutboundMessage {
	return &OutboundMessage{
		ConversationID:     in.ConversationID,
		InboundMessageID:   in.ID,
		Provider:           in.Provider,
		FromAddress:        in.ToAddress,
		ToAddress:          in.FromAddress,
		Body:               body,
		SequenceNumber:     seq,
		PromptVersion:      promptVersion,
		Model:              modelName,
		ProviderInboundSID: in.ProviderMessageSID,
		Status:             OutboundStatusQueued,
	}
}
