// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package routing maps submitters to reviewing authorities and applies the
// deception and full-review overrides to new submissions.
package routing

import (
	"strings"

	"github.com/pdiddy/irb-engine/pkg/types"
)

// Rule maps any of its keywords, matched case-insensitively as substrings
// of a department name, onto a college.
type Rule struct {
	College  types.College
	Keywords []string
}

// Matches reports whether department contains one of the rule's keywords.
func (r Rule) Matches(department string) bool {
	d := strings.ToLower(department)
	for _, kw := range r.Keywords {
		if strings.Contains(d, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Rules is an ordered rule list. The first matching rule wins, so broad
// keywords like "science" must come after the rules they would shadow
// ("political science" belongs to liberal arts).
type Rules []Rule

// DefaultRules is the institution's department table.
var DefaultRules = Rules{
	{College: types.CollegeBusiness, Keywords: []string{"business", "accounting", "finance", "marketing", "management", "economics"}},
	{College: types.CollegeEducation, Keywords: []string{"education", "psychology", "counseling", "behavioral"}},
	{College: types.CollegeLiberalArts, Keywords: []string{"liberal arts", "english", "history", "philosophy", "sociology", "political science"}},
	{College: types.CollegeSciences, Keywords: []string{"science", "technology", "computer", "engineering", "biology", "chemistry", "physics", "mathematics", "math"}},
	{College: types.CollegeNursing, Keywords: []string{"nursing"}},
}

// CollegeFor returns the college of the first rule matching department.
// An empty or unmatched department reports false; that is a triage case,
// not an error.
func (rs Rules) CollegeFor(department string) (types.College, bool) {
	if strings.TrimSpace(department) == "" {
		return "", false
	}
	for _, r := range rs {
		if r.Matches(department) {
			return r.College, true
		}
	}
	return "", false
}
