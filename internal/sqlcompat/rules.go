// Package sqlcompat strips MySQL-only clauses from a schema so it can be loaded
// into a database that does not understand them.
package sqlcompat

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Rule removes every match of Pattern from a schema
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// Rule names accepted by RulesByName
const (
	RuleCollate         = "collate"
	RuleCharset         = "charset"
	RuleOnUpdate        = "on-update-current-timestamp"
	RuleIndexDefinition = "index"
)

// DefaultRules are applied in this order. Later rules see the output of earlier ones.
var DefaultRules = []Rule{
	{Name: RuleCollate, Pattern: regexp.MustCompile(`COLLATE[\s=a-z\d_]*`)},
	{Name: RuleCharset, Pattern: regexp.MustCompile(`(?:DEFAULT )?CHARSET?[=\s]?\w*`)},
	{Name: RuleOnUpdate, Pattern: regexp.MustCompile(`\s+ON\s+UPDATE\s+CURRENT_TIMESTAMP`)},
	{Name: RuleIndexDefinition, Pattern: regexp.MustCompile(`INDEX.*\n`)},
}

// Apply removes every match of each rule from schema, rule by rule.
// Without rules, DefaultRules are used.
func Apply(schema string, rules ...Rule) string {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	for _, rule := range rules {
		schema = rule.Pattern.ReplaceAllLiteralString(schema, "")
	}
	return schema
}

// RulesByName selects default rules by name, keeping the default order
// regardless of the order names are given in.
func RulesByName(names ...string) ([]Rule, error) {
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		known := slices.ContainsFunc(DefaultRules, func(r Rule) bool { return r.Name == name })
		if !known {
			return nil, fmt.Errorf("unknown compatibility rule %q", name)
		}
		wanted[name] = true
	}

	var rules []Rule
	for _, rule := range DefaultRules {
		if wanted[rule.Name] {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}
