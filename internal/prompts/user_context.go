package prompts

import (
	"strings"
	"sync"
)

// NoContextMarker is what the extraction model returns when the
// conversation holds nothing worth remembering.
const NoContextMarker = "NO_CONTEXT"

var userContextSystem = sync.OnceValues(func() (string, error) {
	b, err := texts.ReadFile("text/user_context.txt")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
})

// UserContextPrompt builds the extraction prompt for a rendered transcript.
func UserContextPrompt(transcript string) (Prompt, error) {
	system, err := userContextSystem()
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{
		Instructions: system,
		Input: strings.Join([]string{
			"=== CONVERSATION ===",
			transcript,
			"",
			"Extract all relevant user information from the conversation above.",
		}, "\n"),
	}, nil
}

// ParseUserContext returns the trimmed summary, or nil when the output is
// empty or the no-context marker.
func ParseUserContext(output string) *string {
	s := strings.TrimSpace(output)
	if s == "" || s == NoContextMarker {
		return nil
	}
	return &s
}
