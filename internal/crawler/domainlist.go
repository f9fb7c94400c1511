// Package crawler holds fetch admission policy: domain allow/deny lists,
// robots enforcement, and block-signal detection.
package crawler

import "strings"

// DomainList matches hosts against exact entries and suffix wildcards
// ("*.example.com" or ".example.com").
type DomainList struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewDomainList builds a matcher from configured patterns. Returns nil when
// no usable patterns are present, which matches nothing.
func NewDomainList(patterns []string) *DomainList {
	matcher := &DomainList{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			matcher.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			matcher.addSuffix(strings.TrimPrefix(value, "."))
		default:
			matcher.exact[value] = struct{}{}
		}
	}
	if len(matcher.exact) == 0 && len(matcher.suffixes) == 0 {
		return nil
	}
	return matcher
}

func (l *DomainList) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range l.suffixes {
		if existing == suffix {
			return
		}
	}
	l.suffixes = append(l.suffixes, suffix)
}

// Contains reports whether the host matches the list.
func (l *DomainList) Contains(host string) bool {
	if l == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, ok := l.exact[host]; ok {
		return true
	}
	for _, suffix := range l.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// DomainPolicy combines the allow and deny lists consulted before any fetch
// or throttle computation. Deny wins; a non-empty allow list is exclusive.
type DomainPolicy struct {
	allow *DomainList
	deny  *DomainList
}

// NewDomainPolicy builds the policy from configured host lists.
func NewDomainPolicy(allow, deny []string) *DomainPolicy {
	return &DomainPolicy{
		allow: NewDomainList(allow),
		deny:  NewDomainList(deny),
	}
}

// Allowed reports whether the host may be fetched.
func (p *DomainPolicy) Allowed(host string) bool {
	if p == nil {
		return true
	}
	if p.deny.Contains(host) {
		return false
	}
	if p.allow != nil && !p.allow.Contains(host) {
		return false
	}
	return true
}
