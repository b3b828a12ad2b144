package models

import "strings"

// ModelRef is a configured model in "provider:name" form, e.g. "openai:gpt-4.1".
type ModelRef struct {
	Provider string
	Name     string
}

func (r ModelRef) String() string {
	if r.Provider == "" {
		return r.Name
	}
	return r.Provider + ":" + r.Name
}

// ParseModelRef splits a configured model string. When no provider prefix is
// present the provider is inferred from the model name.
func ParseModelRef(s string) ModelRef {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ":"); i > 0 {
		return ModelRef{Provider: strings.ToLower(s[:i]), Name: s[i+1:]}
	}
	return ModelRef{Provider: DetectProvider(s), Name: s}
}

// DetectProvider determines the provider from a bare model name.
func DetectProvider(model string) string {
	ml := strings.ToLower(model)
	switch {
	case ml == "":
		return "unknown"
	case strings.Contains(ml, "gpt-") || strings.HasPrefix(ml, "o1") || strings.HasPrefix(ml, "o3") || strings.HasPrefix(ml, "o4"):
		return "openai"
	case strings.Contains(ml, "claude"):
		return "anthropic"
	case strings.Contains(ml, "gemini"):
		return "google"
	case strings.Contains(ml, "sonar") || strings.Contains(ml, "perplexity"):
		return "perplexity"
	case strings.Contains(ml, "deepseek"):
		return "deepseek"
	case strings.Contains(ml, "mistral") || strings.Contains(ml, "mixtral"):
		return "mistral"
	case strings.Contains(ml, "llama"):
		return "ollama"
	default:
		return "unknown"
	}
}
