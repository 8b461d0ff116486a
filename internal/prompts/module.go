package prompts

import (
	"strings"
)

// NoReplySentinel is the literal the model emits, alone, to suppress a reply.
const NoReplySentinel = "[NO_REPLY]"

// PromptInput is what a prompt strategy needs for one call.
type PromptInput struct {
	Transcript  string
	UserContext *string
}

// Prompt is the instructions/input pair sent to the model.
type Prompt struct {
	Instructions string
	Input        string
}

// Module is a resolved prompt strategy. Build is pure; a Module is safe for
// concurrent use.
type Module struct {
	Variant         Variant
	NoReplySentinel string

	build  func(system string, in PromptInput) Prompt
	system string
}

// Build renders the prompt for the given transcript.
func (m *Module) Build(in PromptInput) Prompt {
	return m.build(m.system, in)
}

// VersionTag is persisted on outbound rows.
func (m *Module) VersionTag() string { return string(m.Variant) }

// IsNoReply reports whether reply is exactly the sentinel after trimming.
func (m *Module) IsNoReply(reply string) bool {
	return strings.TrimSpace(reply) == m.NoReplySentinel
}

func replyInput(transcript, persona string) string {
	return strings.Join([]string{
		strings.TrimSpace(transcript),
		"",
		"Reply as " + persona + " to the most recent USER message above. Output only your response text.",
	}, "\n")
}

func withDirectorNote(system, note string) string {
	if note == "" {
		return system
	}
	return system + "\n\nDIRECTOR NOTE:\n" + note
}

func buildV1(system string, in PromptInput) Prompt {
	turns := parseTurns(in.Transcript)
	note := ""
	switch {
	case turns.isFirstMessage():
		note = `This is the user's first message. Reply like a normal text: "Hey this is Jay, who am I speaking with?" Keep it short.`
	case turns.shouldNudgeIntro():
		note = "You now have their name and where they got your number. Briefly introduce yourself and your experience training athletes and regular people, then ask about their goals."
	}
	return Prompt{
		Instructions: withDirectorNote(system, note),
		Input:        replyInput(in.Transcript, "Jay"),
	}
}

func buildV2Unpaid(system string, in PromptInput) Prompt {
	note := ""
	if parseTurns(in.Transcript).isFirstMessage() {
		note = `First message. Reply like a normal text: "hey who is this?" Keep it short.`
	}
	return Prompt{
		Instructions: withDirectorNote(system, note),
		Input:        replyInput(in.Transcript, "Slash"),
	}
}

func buildV2Paid(system string, in PromptInput) Prompt {
	instructions := system
	if in.UserContext != nil && strings.TrimSpace(*in.UserContext) != "" {
		instructions += "\n\n=== WHAT YOU KNOW ABOUT THIS USER ===\n" + strings.TrimSpace(*in.UserContext)
	}
	return Prompt{
		Instructions: instructions,
		Input:        replyInput(in.Transcript, "Slash"),
	}
}
