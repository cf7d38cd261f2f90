package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MinNameservers is the fewest nameservers a domain may delegate to.
const MinNameservers = 2

var hostnamePattern = regexp.MustCompile(`^(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z][a-z0-9-]{0,61}[a-z0-9]$`)

// NormalizeDomainName lower-cases and trims a domain name, dropping a trailing dot.
func NormalizeDomainName(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}

// IsValidHostname reports whether name is a syntactically valid fully qualified host name.
func IsValidHostname(name string) bool {
	if len(name) == 0 || len(name) > 253 {
		return false
	}
	return hostnamePattern.MatchString(strings.ToLower(name))
}

// DomainExtension returns everything after the first label, e.g. "com" or "com.bd".
func DomainExtension(name string) string {
	if idx := strings.Index(name, "."); idx >= 0 {
		return name[idx+1:]
	}
	return ""
}

// NormalizeNameservers validates and normalizes a nameserver list, preserving order.
func NormalizeNameservers(nameservers []string) ([]string, error) {
	if len(nameservers) < MinNameservers {
		return nil, fmt.Errorf("at least %d nameservers are required", MinNameservers)
	}

	out := make([]string, 0, len(nameservers))
	seen := make(map[string]struct{}, len(nameservers))
	for _, ns := range nameservers {
		normalized := NormalizeDomainName(ns)
		if !IsValidHostname(normalized) {
			return nil, fmt.Errorf("invalid nameserver %q", ns)
		}
		if _, dup := seen[normalized]; dup {
			return nil, errors.New("nameservers must be unique")
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out, nil
}
