package ghgateway

import (
	"fmt"
	"regexp"
)

// closingKeywords are the verbs GitHub itself recognizes in commit/PR
// messages as referencing (and potentially closing) an issue.
var closingKeywords = []string{
	"close", "closes", "closed",
	"fix", "fixes", "fixed",
	"resolve", "resolves", "resolved",
}

func issueRefPattern(issueNumber int) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?i)#%d\b`, issueNumber))
}

// containsIssueRef reports whether a commit message references the given
// issue number, either via a bare "#N" or one of GitHub's recognized closing
// keywords immediately preceding it.
func containsIssueRef(message string, issueNumber int) bool {
	return issueRefPattern(issueNumber).MatchString(message)
}
