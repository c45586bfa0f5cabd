package graph

import (
	"net/url"
	"sort"
	"strings"

	"github.com/user/buffalo/internal/config"
)

const (
	AgentInterface = "interface"
	AgentGitHub    = "github"
	AgentFirecrawl = "firecrawl"
	AgentBuffalo   = "buffalo"

	agentVersion = "0.0.1"

	ToolRespond = "user-input-respond"
	ToolRequest = "user-input-request"

	RespondPath = "/tool/" + ToolRespond
	RequestPath = "/tool/" + ToolRequest
)

// Credentials are bound into agent options. Every field is required.
type Credentials struct {
	PrivacyKey         string
	ApplicationID      string
	ModelAPIKey        string
	BrowserModelName   string
	BrowserModelAPIKey string
	GitHubToken        string
	FirecrawlAPIKey    string
}

func CredentialsFromConfig(cfg *config.Config) Credentials {
	return Credentials{
		PrivacyKey:         cfg.PrivacyKey,
		ApplicationID:      cfg.ApplicationID,
		ModelAPIKey:        cfg.ModelAPIKey,
		BrowserModelName:   cfg.BrowserModelName,
		BrowserModelAPIKey: cfg.BrowserModelAPIKey,
		GitHubToken:        cfg.GitHubToken,
		FirecrawlAPIKey:    cfg.FirecrawlAPIKey,
	}
}

func (c Credentials) missing() []string {
	checks := map[string]string{
		"CORAL_PRIVACY_KEY":            c.PrivacyKey,
		"CORAL_APPLICATION_ID":         c.ApplicationID,
		"MODEL_API_KEY":                c.ModelAPIKey,
		"BROWSER_USE_MODEL_NAME":       c.BrowserModelName,
		"BROWSER_USE_MODEL_API_KEY":    c.BrowserModelAPIKey,
		"GITHUB_PERSONAL_ACCESS_TOKEN": c.GitHubToken,
		"FIRECRAWL_API_KEY":            c.FirecrawlAPIKey,
	}
	keys := []string{}
	for key, value := range checks {
		if strings.TrimSpace(value) == "" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

type SessionRequest struct {
	TestSessionID string `json:"testSessionId"`
	WebsiteURL    string `json:"websiteUrl"`
	Email         string `json:"email"`
}

type Payload struct {
	PrivacyKey        string            `json:"privacyKey"`
	ApplicationID     string            `json:"applicationId"`
	AgentGraphRequest AgentGraphRequest `json:"agentGraphRequest"`
}

type AgentGraphRequest struct {
	Agents      []Agent               `json:"agents"`
	Groups      [][]string            `json:"groups"`
	CustomTools map[string]CustomTool `json:"customTools"`
}

type AgentID struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Option struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type Provider struct {
	Type    string `json:"type"`
	Runtime string `json:"runtime"`
}

type Agent struct {
	ID               AgentID           `json:"id"`
	Name             string            `json:"name"`
	Options          map[string]Option `json:"options"`
	Provider         Provider          `json:"provider"`
	CustomToolAccess []string          `json:"customToolAccess"`
	CoralPlugins     []string          `json:"coralPlugins"`
}

type Transport struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type InputSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]map[string]any `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

type ToolSchema struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

type CustomTool struct {
	Transport  Transport  `json:"transport"`
	ToolSchema ToolSchema `json:"toolSchema"`
}

type Builder struct {
	creds   Credentials
	appBase string
}

// NewBuilder fails with a *config.MissingError naming every absent
// credential.
func NewBuilder(creds Credentials, appBaseURL string) (*Builder, error) {
	keys := creds.missing()
	if strings.TrimSpace(appBaseURL) == "" {
		keys = append(keys, "PROD_BASE_URL")
		sort.Strings(keys)
	}
	if len(keys) > 0 {
		return nil, &config.MissingError{Keys: keys}
	}
	return &Builder{creds: creds, appBase: config.NormalizeBaseURL(appBaseURL)}, nil
}

// Build returns the dispatch payload for req. It has no side effects and the
// same input always yields the same payload.
func (b *Builder) Build(req SessionRequest) Payload {
	return Payload{
		PrivacyKey:    b.creds.PrivacyKey,
		ApplicationID: b.creds.ApplicationID,
		AgentGraphRequest: AgentGraphRequest{
			Agents: []Agent{
				newAgent(AgentInterface, map[string]string{
					"MODEL_API_KEY": b.creds.ModelAPIKey,
				}, ToolRespond, ToolRequest),
				newAgent(AgentGitHub, map[string]string{
					"MODEL_API_KEY":                b.creds.ModelAPIKey,
					"GITHUB_PERSONAL_ACCESS_TOKEN": b.creds.GitHubToken,
				}),
				newAgent(AgentFirecrawl, map[string]string{
					"MODEL_API_KEY":     b.creds.ModelAPIKey,
					"FIRECRAWL_API_KEY": b.creds.FirecrawlAPIKey,
				}),
				newAgent(AgentBuffalo, map[string]string{
					"BROWSER_USE_MODEL_API_KEY": b.creds.BrowserModelAPIKey,
					"BROWSER_USE_MODEL_NAME":    b.creds.BrowserModelName,
					"MODEL_API_KEY":             b.creds.ModelAPIKey,
				}),
			},
			Groups: [][]string{{AgentFirecrawl, AgentGitHub, AgentInterface, AgentBuffalo}},
			CustomTools: map[string]CustomTool{
				ToolRespond: {
					Transport: Transport{Type: "http", URL: b.toolURL(RespondPath, req)},
					ToolSchema: ToolSchema{
						Name:        "answer-question",
						Description: "Answer the last question you requested from the user. You can only respond once, and will have to request more input later.",
						InputSchema: InputSchema{
							Type:       "object",
							Properties: map[string]map[string]any{"response": {}},
							Required:   []string{"response"},
						},
					},
				},
				ToolRequest: {
					Transport: Transport{Type: "http", URL: b.toolURL(RequestPath, req)},
					ToolSchema: ToolSchema{
						Name:        "request-question",
						Description: "Request a question from the user. Hangs until input is received.",
						InputSchema: InputSchema{
							Type:       "object",
							Properties: map[string]map[string]any{"message": {}},
						},
					},
				},
			},
		},
	}
}

func (b *Builder) toolURL(path string, req SessionRequest) string {
	q := url.Values{}
	q.Set("testSessionId", req.TestSessionID)
	q.Set("websiteUrl", req.WebsiteURL)
	q.Set("email", req.Email)
	return b.appBase + path + "?" + q.Encode()
}

func newAgent(name string, options map[string]string, tools ...string) Agent {
	opts := make(map[string]Option, len(options))
	for key, value := range options {
		opts[key] = Option{Type: "string", Value: value}
	}
	if tools == nil {
		tools = []string{}
	}
	return Agent{
		ID:               AgentID{Name: name, Version: agentVersion},
		Name:             name,
		Options:          opts,
		Provider:         Provider{Type: "local", Runtime: "executable"},
		CustomToolAccess: tools,
		CoralPlugins:     []string{},
	}
}

// Summary describes a payload for logging without credential values.
func (p Payload) Summary() (agents []string, groups [][]string, tools []string) {
	for _, a := range p.AgentGraphRequest.Agents {
		agents = append(agents, a.ID.Name+"@"+a.ID.Version)
	}
	for key := range p.AgentGraphRequest.CustomTools {
		tools = append(tools, key)
	}
	sort.Strings(tools)
	return agents, p.AgentGraphRequest.Groups, tools
}
