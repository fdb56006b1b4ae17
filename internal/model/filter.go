package model

import "strings"

// Filter is a predicate over events. All fields are optional; an omitted
// field always matches. Semantics are AND across fields, OR within a field.
type Filter struct {
	EventTypes []string   `json:"event_types,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	Priority   []Priority `json:"priority,omitempty"`
	Sources    []string   `json:"sources,omitempty"`
}

// Matches reports whether the event satisfies every populated field of f.
func (f Filter) Matches(e Event) bool {
	if len(f.EventTypes) > 0 && !matchesAnyType(f.EventTypes, e.Type) {
		return false
	}
	if len(f.Tags) > 0 && !intersects(f.Tags, e.Metadata.Tags) {
		return false
	}
	if len(f.Priority) > 0 && !containsPriority(f.Priority, e.Metadata.Priority) {
		return false
	}
	if len(f.Sources) > 0 && !containsString(f.Sources, e.Metadata.Source) {
		return false
	}
	return true
}

// matchesAnyType reports whether any pattern in patterns matches eventType.
// A pattern is a literal type, the universal "*", or a "prefix.*" pattern.
func matchesAnyType(patterns []string, eventType string) bool {
	for _, p := range patterns {
		if matchesType(p, eventType) {
			return true
		}
	}
	return false
}

func matchesType(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(eventType, prefix)
	}
	return pattern == eventType
}

func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	for _, v := range a {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func containsPriority(list []Priority, p Priority) bool {
	for _, v := range list {
		if v == p {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
