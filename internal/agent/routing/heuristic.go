package routing

import (
	"regexp"
	"strings"

	"github.com/bashmyhed/agentcore/internal/agent"
)

var (
	codeRegex    = regexp.MustCompile("(?i)\\b(func|class|def|package|import|SELECT|INSERT|UPDATE|DELETE)\\b")
	reasonRegex  = regexp.MustCompile("(?i)\\b(analyze|reason|think through|derive|prove|why|tradeoff)\\b")
	quickRegex   = regexp.MustCompile("(?i)\\b(what is|define|quick|brief|summary)\\b")
	markdownCode = regexp.MustCompile("```")
)

// tagRules lists the content heuristics in the order their tags get applied.
var tagRules = []struct {
	tag     string
	matches func(lower string) bool
}{
	{"code", func(lower string) bool { return markdownCode.MatchString(lower) || codeRegex.MatchString(lower) }},
	{"reasoning", func(lower string) bool { return reasonRegex.MatchString(lower) }},
	{"quick", func(lower string) bool { return quickRegex.MatchString(lower) || len(lower) < 80 }},
}

// HeuristicClassifier tags requests using simple content heuristics.
type HeuristicClassifier struct{}

// Classify returns a list of tags for the request.
func (c *HeuristicClassifier) Classify(req *agent.CompletionRequest) []string {
	content := strings.TrimSpace(lastUserContent(req))
	if content == "" {
		return nil
	}
	lower := strings.ToLower(content)

	var tags []string
	for _, rule := range tagRules {
		if rule.matches(lower) {
			tags = append(tags, rule.tag)
		}
	}
	return tags
}
