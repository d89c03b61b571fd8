package agent

import (
	"regexp"
	"strings"

	"github.com/bashmyhed/agentcore/internal/tools/policy"
	"github.com/bashmyhed/agentcore/pkg/models"
)

// DefaultMaxToolResultSize is the default maximum size for tool results (64KB).
// This prevents memory exhaustion and excessive storage costs.
const DefaultMaxToolResultSize = 64 * 1024

// builtinSecretPatterns contains pre-compiled patterns for detecting common secrets.
// These are always applied when SanitizeSecrets is enabled.
var builtinSecretPatterns = []*regexp.Regexp{
	// API keys: api_key=<key>, apiKey: <key>, etc.
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[\w-]{20,}['"]?`),
	// Bearer tokens: Bearer eyJhbGc...
	regexp.MustCompile(`(?i)bearer\s+[\w-\.]+`),
	// AWS keys and secrets
	regexp.MustCompile(`(?i)(aws|amazon).*?(key|secret|token)\s*[:=]\s*['"]?[\w/+=]{20,}['"]?`),
	// Generic secrets: password=<value>, secret=<value>, token=<value>
	regexp.MustCompile(`(?i)(password|passwd|secret|token)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`),
	// Private keys (PEM format)
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
}

// ToolResultGuard controls how tool results are redacted before persistence.
type ToolResultGuard struct {
	Enabled         bool
	MaxChars        int
	Denylist        []string
	RedactPatterns  []string
	RedactionText   string
	TruncateSuffix  string
	SanitizeSecrets bool // When true, applies builtin secret detection patterns
}

func (g ToolResultGuard) active() bool {
	return g.Enabled || g.MaxChars > 0 || len(g.Denylist) > 0 || len(g.RedactPatterns) > 0 || g.RedactionText != "" || g.TruncateSuffix != "" || g.SanitizeSecrets
}

func (g ToolResultGuard) Apply(toolName string, result models.ToolResult, resolver *policy.Resolver) models.ToolResult {
	if !g.active() {
		return result
	}

	redaction := strings.TrimSpace(g.RedactionText)
	if redaction == "" {
		redaction = "[REDACTED]"
	}

	if len(g.Denylist) > 0 && matchesToolPatterns(g.Denylist, toolName, resolver) {
		result.Content = redaction
		return result
	}

	content := result.Content
	if g.SanitizeSecrets {
		content = redactWith(builtinSecretPatterns, content, redaction)
	}
	content = g.applyCustomRedactPatterns(content, redaction)
	result.Content = content

	return g.truncate(result)
}

// redactWith replaces every match of each pattern in content with redaction.
func redactWith(patterns []*regexp.Regexp, content, redaction string) string {
	if content == "" {
		return content
	}
	for _, re := range patterns {
		content = re.ReplaceAllString(content, redaction)
	}
	return content
}

// applyCustomRedactPatterns compiles and applies each configured regex,
// silently skipping blank or invalid patterns.
func (g ToolResultGuard) applyCustomRedactPatterns(content, redaction string) string {
	if content == "" || len(g.RedactPatterns) == 0 {
		return content
	}
	for _, pattern := range g.RedactPatterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		content = re.ReplaceAllString(content, redaction)
	}
	return content
}

// truncate clamps result.Content to g.MaxChars, appending TruncateSuffix
// (or a default) when the content was cut.
func (g ToolResultGuard) truncate(result models.ToolResult) models.ToolResult {
	if g.MaxChars <= 0 || len(result.Content) <= g.MaxChars {
		return result
	}

	suffix := strings.TrimSpace(g.TruncateSuffix)
	if suffix == "" {
		suffix = "...[truncated]"
	}

	cutoff := g.MaxChars
	if cutoff < 0 {
		cutoff = 0
	}
	if cutoff > len(result.Content) {
		cutoff = len(result.Content)
	}
	result.Content = result.Content[:cutoff] + suffix
	return result
}

// DetectSecrets scans content for potential secrets and returns
// a list of matched pattern descriptions. This is useful for logging
// or alerting on potential secret exposure.
func DetectSecrets(content string) []string {
	if content == "" {
		return nil
	}

	patternNames := []string{
		"api_key",
		"bearer_token",
		"aws_key",
		"generic_secret",
		"private_key",
	}

	var matches []string
	for i, re := range builtinSecretPatterns {
		if re.MatchString(content) {
			matches = append(matches, patternNames[i])
		}
	}
	return matches
}

// SanitizeToolResult applies default security sanitization to a tool result:
// 1. Truncates if over DefaultMaxToolResultSize (64KB)
// 2. Redacts detected secrets with [REDACTED]
//
// This is a convenience function for applying security defaults.
func SanitizeToolResult(result string) string {
	if len(result) > DefaultMaxToolResultSize {
		result = result[:DefaultMaxToolResultSize] + "\n...[truncated]"
	}
	return redactWith(builtinSecretPatterns, result, "[REDACTED]")
}
