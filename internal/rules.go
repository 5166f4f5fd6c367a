package internal

import (
	"log"
	"regexp"
	"strings"

	"scanhooks/pkg/storage"
)

// Evaluator decides which monitoring rules match a canonical event. The
// predicate categories are conjunctive; within the file-pattern category any
// file matching any pattern is enough.
type Evaluator struct {
	logger *log.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(logger *log.Logger) *Evaluator {
	if logger == nil {
		logger = log.Default()
	}
	return &Evaluator{logger: logger}
}

// Match reports whether one rule matches the event. A rule with no conditions
// matches every event for its webhook.
func (e *Evaluator) Match(rule storage.RuleRecord, event Event) bool {
	conditions := rule.Conditions
	if len(conditions.FilePatterns) > 0 && !e.matchFilePatterns(conditions.FilePatterns, event) {
		return false
	}
	if len(conditions.Branches) > 0 && !matchBranches(conditions.Branches, event) {
		return false
	}
	if len(conditions.Authors) > 0 && !matchAuthors(conditions.Authors, event) {
		return false
	}
	return true
}

// MatchAll returns the subset of rules matching the event, in input order.
func (e *Evaluator) MatchAll(rules []storage.RuleRecord, event Event) []storage.RuleRecord {
	if len(rules) == 0 {
		return nil
	}
	matched := make([]storage.RuleRecord, 0, 1)
	for _, rule := range rules {
		if e.Match(rule, event) {
			matched = append(matched, rule)
		}
	}
	return matched
}

// matchFilePatterns is an existential over files and patterns: true when at
// least one changed file matches at least one pattern. An event without file
// changes cannot satisfy the predicate.
func (e *Evaluator) matchFilePatterns(patterns []string, event Event) bool {
	files := event.ChangedFilenames()
	if len(files) == 0 {
		return false
	}
	for _, pattern := range patterns {
		re, err := GlobToRegexp(pattern)
		if err != nil {
			e.logger.Printf("bad file pattern %q: %v", pattern, err)
			continue
		}
		for _, file := range files {
			if re.MatchString(file) {
				return true
			}
		}
	}
	return false
}

// matchBranches requires pull-request context: a push-only event cannot
// satisfy a branch-scoped rule.
func matchBranches(branches []string, event Event) bool {
	if event.PullRequest == nil {
		return false
	}
	for _, branch := range branches {
		if branch == event.PullRequest.HeadBranch || branch == event.PullRequest.BaseBranch {
			return true
		}
	}
	return false
}

func matchAuthors(authors []string, event Event) bool {
	for _, author := range authors {
		if author == event.Sender.Username {
			return true
		}
	}
	return false
}

// GlobToRegexp translates a simplified glob into an anchored regexp:
// `**` crosses path separators, `*` does not, `?` is any single character,
// everything else is literal.
func GlobToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(runes[i])))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
