package enrich

import (
	"regexp"
	"strings"

	"github.com/devpulse/devpulse/internal/models"
	"github.com/devpulse/devpulse/internal/settings"
)

var (
	scopeRe    = regexp.MustCompile(`^\w+:\s`)
	issueRefRe = regexp.MustCompile(`#\d+`)
)

// Classify computes the enrichment block for one commit from its message,
// parent count, and post-filter file count, using the team's classification
// rules. Pure function: identical input always yields identical output.
func Classify(message string, parentsCount int, filesChanged *int, cfg settings.Classification) models.Enrichment {
	msg := strings.ToLower(message)
	firstLine := msg
	if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
		firstLine = firstLine[:idx]
	}

	defaultCategory := cfg.DefaultCategory
	if defaultCategory == "" {
		defaultCategory = settings.DefaultCategory
	}

	// Highest priority rule wins; the strict comparison keeps the earlier
	// rule on a tie.
	commitType := defaultCategory
	highest := -1
	for _, rule := range cfg.Rules {
		for _, keyword := range rule.Keywords {
			if keyword == "" {
				continue
			}
			if strings.Contains(firstLine, strings.ToLower(keyword)) {
				if rule.Priority > highest {
					commitType = rule.Category
					highest = rule.Priority
				}
			}
		}
	}

	isConventional := commitType != defaultCategory

	conventionalType := "unknown"
	if isConventional {
		conventionalType = commitType
	}

	conventionalScope := "no"
	if m := scopeRe.FindString(msg); m != "" {
		conventionalScope = strings.Split(m, ":")[0]
	}

	breaking := strings.HasPrefix(msg, "!") || strings.HasPrefix(msg, "breaking")
	for _, marker := range cfg.BreakingMarkers {
		if marker != "" && strings.Contains(msg, strings.ToLower(marker)) {
			breaking = true
			break
		}
	}

	isPR := strings.Contains(msg, "merge pull request") ||
		strings.Contains(msg, "merge mr") ||
		issueRefRe.MatchString(msg) ||
		strings.Contains(msg, "pull request")

	isRevert := strings.HasPrefix(msg, "revert") ||
		strings.HasPrefix(msg, "rollback") ||
		strings.Contains(msg, "this reverts commit")

	return models.Enrichment{
		CommitType:        commitType,
		IsConventional:    isConventional,
		ConventionalType:  conventionalType,
		ConventionalScope: conventionalScope,
		IsBreakingChange:  breaking,
		ParentsCount:      parentsCount,
		IsMergeCommit:     parentsCount > 1,
		IsPRCommit:        isPR,
		FilesChanged:      filesChanged,
		IsRevertCommit:    isRevert,
	}
}
