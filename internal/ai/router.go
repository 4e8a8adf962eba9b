package ai

import (
	"strings"
	"unicode"

	"prompt2web_server/internal/apperr"
	"prompt2web_server/internal/types"
)

// TaskProfile is the coarse kind of site a prompt asks for.
type TaskProfile string

const (
	ProfileFrontend TaskProfile = "frontend"
	ProfileLogic    TaskProfile = "logic"
	ProfileBalanced TaskProfile = "balanced"
)

var profileKeywords = map[TaskProfile][]string{
	ProfileFrontend: {"design", "ui", "css", "animation"},
	ProfileLogic:    {"backend", "api", "database", "logic"},
}

var profileProviders = map[TaskProfile]string{
	ProfileFrontend: "gemini",
	ProfileLogic:    "deepseek",
	ProfileBalanced: "groq",
}

// fallbackOrder is tried when the preferred provider is not configured.
var fallbackOrder = []string{"groq", "deepseek", "openrouter", "gemini", "openai"}

// aliases maps public model ids onto provider names.
var aliases = map[string]string{
	"chimera":      "openrouter",
	"gemini-flash": "gemini",
	"gemini-pro":   "gemini",
}

// Classify picks a profile from whole-word keyword matches. Frontend
// keywords are checked first.
func Classify(prompt string) TaskProfile {
	words := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = true
	}
	for _, profile := range []TaskProfile{ProfileFrontend, ProfileLogic} {
		for _, kw := range profileKeywords[profile] {
			if words[kw] {
				return profile
			}
		}
	}
	return ProfileBalanced
}

// Router resolves a requested model id to a configured provider.
type Router struct {
	providers  map[string]Provider
	configured map[string]bool
}

func NewRouter() *Router {
	return &Router{providers: map[string]Provider{}, configured: map[string]bool{}}
}

// Register adds a provider. Unconfigured providers still resolve for
// explicit ids so the caller gets a precise error, but auto routing skips
// them.
func (r *Router) Register(p Provider, configured bool) {
	r.providers[p.Name()] = p
	r.configured[p.Name()] = configured
}

// Names lists the providers usable for auto routing.
func (r *Router) Names() []string {
	var out []string
	for _, name := range fallbackOrder {
		if r.configured[name] {
			out = append(out, name)
		}
	}
	return out
}

// Resolve returns the provider for model. Empty and "auto" classify the
// prompt.
func (r *Router) Resolve(model, prompt string) (Provider, error) {
	model = strings.TrimSpace(model)
	if model == "" || strings.EqualFold(model, types.ModelAuto) {
		return r.auto(prompt)
	}

	name := strings.ToLower(model)
	if alias, ok := aliases[name]; ok {
		name = alias
	}
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	if IsOpenRouterModel(model) {
		if p, ok := r.providers[OpenRouterProfile.Name]; ok {
			return p, nil
		}
	}
	if strings.HasPrefix(name, "gemini") {
		if p, ok := r.providers["gemini"]; ok {
			return p, nil
		}
	}
	if OpenAIProfile.PassModel(name) {
		if p, ok := r.providers[OpenAIProfile.Name]; ok {
			return p, nil
		}
	}
	return nil, apperr.New(apperr.CodeInvalidParam, "unknown model").WithDetail(model)
}

func (r *Router) auto(prompt string) (Provider, error) {
	preferred := profileProviders[Classify(prompt)]
	if r.configured[preferred] {
		return r.providers[preferred], nil
	}
	for _, name := range fallbackOrder {
		if r.configured[name] {
			return r.providers[name], nil
		}
	}
	return nil, apperr.New(apperr.CodeProviderNotConfigured, "no provider API keys configured")
}
