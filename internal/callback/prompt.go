package callback

import (
	"fmt"
	"sort"
	"strings"

	"github.com/user/buffalo/internal/db"
)

// PromptInput is what the request tool receives in its query string plus the
// stored session it names.
type PromptInput struct {
	TestSessionID string
	WebsiteURL    string
	Email         string
	Modes         []db.TestMode
	Credentials   map[string]string
}

func InputFromSession(s *db.TestSession, websiteURL, email string) PromptInput {
	return PromptInput{
		TestSessionID: s.ID,
		WebsiteURL:    websiteURL,
		Email:         email,
		Modes:         s.Modes,
		Credentials:   s.Credentials,
	}
}

// Prompt builds the instruction the interface agent relays to the other
// agents. The credentials block appears only when credentials exist.
func Prompt(in PromptInput) string {
	modes := joinModes(in.Modes)
	lines := []string{
		fmt.Sprintf("Please help me test the user's website at %s.", in.WebsiteURL),
		fmt.Sprintf("The user has asked you to test the website with the following modes: %s.", modes),
		fmt.Sprintf("Send the user an email of the test report when done at %s.", in.Email),
		fmt.Sprintf("Here is the test session id which you will need to give to the Buffalo agent to save test results: %s", in.TestSessionID),
		fmt.Sprintf("Please also let the buffalo agent know the modes of the test session: %s.", modes),
	}
	prompt := strings.Join(lines, "\n")

	if len(in.Credentials) == 0 {
		return prompt
	}
	keys := make([]string, 0, len(in.Credentials))
	for k := range in.Credentials {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nLogin credentials for authenticated areas (use only if needed):")
	for _, k := range keys {
		b.WriteString("\n- ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(in.Credentials[k])
	}
	return b.String()
}

func joinModes(modes []db.TestMode) string {
	parts := make([]string, len(modes))
	for i, m := range modes {
		parts[i] = string(m)
	}
	return strings.Join(parts, ", ")
}
