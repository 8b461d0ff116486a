package prompts

import (
	"regexp"
	"strings"
)

type speaker int

const (
	speakerOther speaker = iota
	speakerUser
	speakerAgent
)

type turn struct {
	who  speaker
	text string
}

type turns []turn

var (
	userPrefix  = regexp.MustCompile(`(?i)^user\s*:`)
	agentPrefix = regexp.MustCompile(`(?i)^(slash|assistant|jay)\s*:`)
	bodyWeight  = regexp.MustCompile(`\b\d+\s*(lb|lbs|kg)\b`)
)

// parseTurns reads a rendered transcript back into speaker turns.
// jay/assistant are accepted as agent aliases for older transcripts.
func parseTurns(transcript string) turns {
	var out turns
	for _, raw := range strings.Split(transcript, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		switch {
		case userPrefix.MatchString(line):
			out = append(out, turn{who: speakerUser, text: strings.TrimSpace(userPrefix.ReplaceAllString(line, ""))})
		case agentPrefix.MatchString(line):
			out = append(out, turn{who: speakerAgent, text: strings.TrimSpace(agentPrefix.ReplaceAllString(line, ""))})
		default:
			out = append(out, turn{who: speakerOther, text: line})
		}
	}
	return out
}

func (t turns) count(who speaker) int {
	n := 0
	for _, x := range t {
		if x.who == who {
			n++
		}
	}
	return n
}

func (t turns) isFirstMessage() bool {
	return t.count(speakerUser) == 1 && t.count(speakerAgent) == 0
}

// lastJoined lowercases and joins the text of the last n turns.
func (t turns) lastJoined(n int) string {
	if len(t) > n {
		t = t[len(t)-n:]
	}
	parts := make([]string, 0, len(t))
	for _, x := range t {
		parts = append(parts, x.text)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func (t turns) agentText() string {
	var parts []string
	for _, x := range t {
		if x.who == speakerAgent {
			parts = append(parts, x.text)
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

var sourceWords = []string{
	"number", "got this", "got your number", "found", "referral",
	"instagram", "social", "heard about", "from a friend",
}

func (t turns) hasGivenIntroduction() bool {
	return containsAny(t.agentText(),
		"i've trained", "i have trained", "my experience", "my background", "credentials")
}

func (t turns) assessmentComplete() bool {
	recent := t.lastJoined(10)
	hasName := containsAny(recent, "my name is", "call me", "i'm", "im ")
	hasSource := containsAny(recent, sourceWords...)
	hasBody := containsAny(recent, "height", "weight") || bodyWeight.MatchString(recent)
	hasGoal := containsAny(recent, "goal", "want", "trying")
	hasTraining := containsAny(recent, "workout", "exercise", "gym", "train")
	return hasName && hasSource && hasBody && hasGoal && hasTraining
}

// shouldNudgeIntro is true once name and source came up and no introduction
// was given yet.
func (t turns) shouldNudgeIntro() bool {
	if t.assessmentComplete() || t.hasGivenIntroduction() {
		return false
	}
	recent := t.lastJoined(10)
	hasName := containsAny(recent, "name", "call me", "i'm", "im ")
	return hasName && containsAny(recent, sourceWords...)
}
