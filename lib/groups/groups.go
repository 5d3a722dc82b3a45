// Package groups maps usernames to locally configured group names.
//
// Group membership here is an authorization overlay owned by the
// application: it is loaded once from static configuration and never
// consults the accounts server. The accounts server has its own grouping
// concept, which this package deliberately ignores.
package groups

import (
	"fmt"
	"sort"
	"strings"
)

// Resolver answers group membership queries for a username.
//
// A Resolver is immutable after construction and safe for concurrent use.
type Resolver struct {
	// group name -> member usernames, in configuration order.
	members map[string][]string
}

// NewResolver builds a Resolver from a group -> members table.
//
// The table is copied, so later changes to it do not affect the Resolver.
func NewResolver(table map[string][]string) *Resolver {
	members := make(map[string][]string, len(table))
	for name, users := range table {
		members[name] = append([]string{}, users...)
	}
	return &Resolver{members: members}
}

// Parse builds a Resolver from flat configuration text.
//
// Each non-empty line (or ";" separated segment) has the form:
//
//	editors = alice, bob
//
// Member lists are comma separated. Empty member entries are skipped, so
// trailing commas are harmless. Redefining a group is an error.
func Parse(config string) (*Resolver, error) {
	table := map[string][]string{}

	split := func(r rune) bool { return r == '\n' || r == ';' }
	for _, line := range strings.FieldsFunc(config, split) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, list, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("invalid group definition %q - expected 'name = user, user, ...'", line)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("invalid group definition %q - empty group name", line)
		}
		if _, ok := table[name]; ok {
			return nil, fmt.Errorf("group %q defined more than once", name)
		}

		var users []string
		for _, user := range strings.Split(list, ",") {
			user = strings.TrimSpace(user)
			if user == "" {
				continue
			}
			users = append(users, user)
		}
		table[name] = users
	}

	return NewResolver(table), nil
}

// MembershipOf returns the names of all groups username is a member of.
//
// Matching is exact and case sensitive. The result is sorted by group name
// so it is deterministic for callers and tests. A user in no group gets an
// empty (nil) slice.
func (r *Resolver) MembershipOf(username string) []string {
	var matched []string
	for name, users := range r.members {
		for _, user := range users {
			if user == username {
				matched = append(matched, name)
				break
			}
		}
	}
	sort.Strings(matched)
	return matched
}

// Groups returns the names of all configured groups, sorted.
func (r *Resolver) Groups() []string {
	names := make([]string, 0, len(r.members))
	for name := range r.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
