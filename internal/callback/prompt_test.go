package callback

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/user/buffalo/internal/db"
)

func TestPromptWithoutCredentials(t *testing.T) {
	got := Prompt(PromptInput{
		TestSessionID: "sess-1",
		WebsiteURL:    "https://example.com",
		Email:         "qa@example.com",
		Modes:         []db.TestMode{db.ModeExploratory},
	})

	want := strings.Join([]string{
		"Please help me test the user's website at https://example.com.",
		"The user has asked you to test the website with the following modes: exploratory.",
		"Send the user an email of the test report when done at qa@example.com.",
		"Here is the test session id which you will need to give to the Buffalo agent to save test results: sess-1",
		"Please also let the buffalo agent know the modes of the test session: exploratory.",
	}, "\n")
	assert.Equal(t, want, got)
	assert.NotContains(t, got, "Login credentials")
}

func TestPromptListsCredentialsSorted(t *testing.T) {
	got := Prompt(PromptInput{
		TestSessionID: "sess-2",
		WebsiteURL:    "https://shop.example.com",
		Email:         "qa@example.com",
		Modes:         []db.TestMode{db.ModeUserDefined, db.ModeBuffaloDefined},
		Credentials:   map[string]string{"USERNAME": "demo", "PASSWORD": "hunter2"},
	})

	assert.Contains(t, got, "following modes: user-defined, buffalo-defined.")
	assert.True(t, strings.HasSuffix(got, "\n\nLogin credentials for authenticated areas (use only if needed):\n- PASSWORD=hunter2\n- USERNAME=demo"), got)
}

func TestInputFromSession(t *testing.T) {
	s := &db.TestSession{ID: "sess-3", Modes: []db.TestMode{db.ModeExploratory}, Credentials: map[string]string{"USERNAME": "demo"}}

	in := InputFromSession(s, "https://example.com/login", "qa@example.com")

	assert.Equal(t, "sess-3", in.TestSessionID)
	assert.Equal(t, "https://example.com/login", in.WebsiteURL)
	assert.Contains(t, Prompt(in), "- USERNAME=demo")
}
