package rules

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

// Rule maps a case-insensitive name pattern to the IPv4 addresses returned for matching names.
type Rule struct {
	pattern string
	re      *regexp.Regexp
	targets []net.IP
}

// Table is an ordered sequence of rules. Earlier rules take precedence over later ones. A Table
// is never modified after construction and is safe for concurrent use.
type Table struct {
	rules []*Rule
}

// NewRule compiles a pattern and parses its target addresses. The pattern is matched
// case-insensitively and unanchored; targets must be dotted-decimal IPv4 addresses.
func NewRule(pattern string, targets ...string) (*Rule, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("rules: no targets for pattern: pattern=%s", pattern)
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("rules: invalid pattern: pattern=%s err=%v", pattern, err)
	}

	ips := make([]net.IP, 0, len(targets))
	for _, target := range targets {
		ip := parseIPv4(target)
		if ip == nil {
			return nil, fmt.Errorf("rules: invalid IPv4 target: pattern=%s target=%s", pattern, target)
		}

		ips = append(ips, ip)
	}

	return &Rule{pattern: pattern, re: re, targets: ips}, nil
}

// Pattern returns the pattern as written in the rule file.
func (r *Rule) Pattern() string {
	return r.pattern
}

// Targets returns a copy of the rule's addresses, in answer order.
func (r *Rule) Targets() []net.IP {
	targets := make([]net.IP, len(r.targets))
	copy(targets, r.targets)

	return targets
}

// Matches reports whether name matches the rule's pattern.
func (r *Rule) Matches(name string) bool {
	return r.re.MatchString(name)
}

// String returns a string representation of the rule.
func (r *Rule) String() string {
	return fmt.Sprintf("Rule{pattern: %s, targets: %v}", r.pattern, r.targets)
}

// NewTable creates a table from rules, preserving their order.
func NewTable(rules ...*Rule) *Table {
	cp := make([]*Rule, len(rules))
	copy(cp, rules)

	return &Table{rules: cp}
}

// Match evaluates name against every rule in order and returns the first one that matches.
func (t *Table) Match(name string) (*Rule, bool) {
	for _, rule := range t.rules {
		if rule.Matches(name) {
			return rule, true
		}
	}

	return nil, false
}

// Len returns the number of rules in the table.
func (t *Table) Len() int {
	return len(t.rules)
}

// parseIPv4 parses a strict dotted-decimal IPv4 address, returning its 4-byte form.
func parseIPv4(s string) net.IP {
	if strings.Contains(s, ":") {
		return nil
	}

	ip := net.ParseIP(s)
	if ip == nil {
		return nil
	}

	return ip.To4()
}
