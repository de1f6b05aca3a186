// Package numbers maps phone numbers to coarse caller categories by prefix.
package numbers

import (
	"strings"

	"call-triage/internal/models"
)

// Rule associates a category with the number prefixes that identify it.
type Rule struct {
	Category models.Category
	Prefixes []string
}

// DefaultRules is the built-in prefix table. Order matters: the first rule
// with a matching prefix wins, even when a later rule has a longer match
// ("4008" is courier, "400" alone is bank, never service).
func DefaultRules() []Rule {
	return []Rule{
		{Category: models.CategoryCourier, Prefixes: []string{"95338", "95546", "4008", "4009"}},
		{Category: models.CategoryFoodDelivery, Prefixes: []string{"1010", "4000"}},
		{Category: models.CategoryTelemarketing, Prefixes: []string{"170", "171", "1010"}},
		{Category: models.CategoryBank, Prefixes: []string{"955", "400"}},
		{Category: models.CategoryService, Prefixes: []string{"400", "800"}},
	}
}

// Classifier performs first-match prefix classification over an ordered table.
type Classifier struct {
	rules []Rule
}

// NewClassifier returns a Classifier over rules, or DefaultRules when rules is empty.
func NewClassifier(rules []Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	copied := make([]Rule, len(rules))
	for i, rule := range rules {
		copied[i] = Rule{Category: rule.Category, Prefixes: append([]string(nil), rule.Prefixes...)}
	}
	return &Classifier{rules: copied}
}

// Classify returns the category of the first rule, in table order, owning a
// prefix of phone. It returns models.CategoryUnknown when nothing matches.
func (c *Classifier) Classify(phone string) models.Category {
	for _, rule := range c.rules {
		for _, prefix := range rule.Prefixes {
			if strings.HasPrefix(phone, prefix) {
				return rule.Category
			}
		}
	}
	return models.CategoryUnknown
}
