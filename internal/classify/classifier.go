// Package classify tags announcements against the keyword taxonomy.
package classify

import (
	"strings"

	"github.com/crablduck/crm-spyder/internal/config"
	"github.com/crablduck/crm-spyder/internal/domain"
)

type category struct {
	name     string
	keywords []string
}

// Classifier is an immutable matcher compiled from the configured
// taxonomy at startup. Category order is preserved.
type Classifier struct {
	categories []category
}

// New lowercases every trigger keyword once so matching stays a plain
// substring scan.
func New(taxonomy []config.TaxonomyEntry) *Classifier {
	cats := make([]category, 0, len(taxonomy))
	for _, entry := range taxonomy {
		kws := make([]string, 0, len(entry.Keywords))
		for _, kw := range entry.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				kws = append(kws, kw)
			}
		}
		if len(kws) == 0 {
			continue
		}
		cats = append(cats, category{name: entry.Category, keywords: kws})
	}
	return &Classifier{categories: cats}
}

// Classify returns every category with a trigger keyword occurring in
// the record's title or body, case-insensitive, in taxonomy order.
// Zero matches yields an empty tag set, never an error; ambiguity is
// preserved for downstream review rather than resolved here.
func (c *Classifier) Classify(rec domain.DetailRecord) []string {
	haystack := strings.ToLower(rec.Title + "\n" + rec.Item.Title + "\n" + rec.Body)

	var tags []string
	for _, cat := range c.categories {
		for _, kw := range cat.keywords {
			if strings.Contains(haystack, kw) {
				tags = append(tags, cat.name)
				break
			}
		}
	}
	return tags
}
