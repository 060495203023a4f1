// Package classify maps agent names and task descriptions onto the known
// agent-type buckets.
package classify

import "strings"

// DefaultType is used when no keyword matches.
const DefaultType = "generic"

// keywordBuckets pairs each bucket label with the keywords that select it.
// Order matters: the first matching bucket wins, so the mapping stays
// deterministic for a given input.
var keywordBuckets = []struct {
	label    string
	keywords []string
}{
	{"analyzer", []string{"analyz", "analysis", "inspect"}},
	{"debugger", []string{"debug", "troubleshoot", "diagnos"}},
	{"builder", []string{"build", "compile", "implement"}},
	{"tester", []string{"test", "qa", "verif"}},
	{"reviewer", []string{"review", "audit", "critique"}},
	{"optimizer", []string{"optimiz", "performance", "tune"}},
	{"security", []string{"security", "vulnerab", "penetrat"}},
	{"writer", []string{"writ", "document", "docs"}},
	{"deployer", []string{"deploy", "release", "ship"}},
	{"data-processor", []string{"etl", "process data", "transform"}},
	{"monitor", []string{"monitor", "observ", "watch"}},
	{"configurator", []string{"config", "setup", "provision"}},
	{"context", []string{"context", "memory", "recall"}},
	{"collector", []string{"collect", "gather", "scrape"}},
	{"storage", []string{"storage", "persist", "archive"}},
	{"searcher", []string{"search", "find", "lookup"}},
	{"api-handler", []string{"api", "endpoint", "rest"}},
	{"integrator", []string{"integrat", "connect", "bridge"}},
	{"ui-developer", []string{"ui", "frontend", "component"}},
	{"designer", []string{"design", "layout", "style"}},
	{"ml-engineer", []string{"ml", "model", "train"}},
	{"predictor", []string{"predict", "forecast", "estimat"}},
	{"database-admin", []string{"database", "sql", "schema"}},
	{"data-manager", []string{"data", "dataset", "catalog"}},
	{"translator", []string{"translat", "i18n", "localiz"}},
	{"generator", []string{"generat", "scaffold", "template"}},
	{"linter", []string{"lint", "format", "style check"}},
}

// KnownTypes returns every bucket label including the default.
func KnownTypes() []string {
	out := make([]string, 0, len(keywordBuckets)+1)
	for _, b := range keywordBuckets {
		out = append(out, b.label)
	}
	return append(out, DefaultType)
}

// AgentType classifies an agent by name and free-text hints. An explicit
// non-empty agentType passes through untouched.
func AgentType(agentType, agentName string, hints ...string) string {
	if agentType != "" {
		return agentType
	}
	haystack := strings.ToLower(agentName)
	for _, h := range hints {
		haystack += " " + strings.ToLower(h)
	}
	for _, bucket := range keywordBuckets {
		for _, kw := range bucket.keywords {
			if strings.Contains(haystack, kw) {
				return bucket.label
			}
		}
	}
	return DefaultType
}
