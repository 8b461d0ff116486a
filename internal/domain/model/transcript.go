package model

import (
	"sort"
	"strings"
	"time"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

const (
	UserLabel  = "USER"
	AgentLabel = "SLASH"
)

// Turn is one line of a conversation, either from the user or from the agent.
type Turn struct {
	Direction Direction
	Body      string
	At        time.Time
}

// Transcript is an ordered list of turns. It is derived, never persisted.
type Transcript []Turn

// MergeTimeline merges inbound and outbound turns by timestamp.
// Ties keep inbound first so a reply never renders before its question.
func MergeTimeline(inbound, outbound []Turn) Transcript {
	out := make(Transcript, 0, len(inbound)+len(outbound))
	out = append(out, inbound...)
	out = append(out, outbound...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].At.Before(out[j].At)
	})
	return out
}

// Render produces the "USER: ..." / "SLASH: ..." text the prompts consume.
func (t Transcript) Render() string {
	var b strings.Builder
	for i, turn := range t {
		if i > 0 {
			b.WriteByte('\n')
		}
		if turn.Direction == DirectionInbound {
			b.WriteString(UserLabel)
		} else {
			b.WriteString(AgentLabel)
		}
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(turn.Body))
	}
	return b.String()
}
