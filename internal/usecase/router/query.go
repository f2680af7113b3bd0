package router

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"gpio-node/internal/domain"
)

// Query is a decoded query string. Later duplicates of a key win.
type Query map[string]string

// Has reports whether key was present, even with an empty value.
func (q Query) Has(key string) bool {
	_, ok := q[key]
	return ok
}

// ParseQuery tokenizes raw into key/value pairs. Empty segments are skipped;
// a segment without '=' or with a bad percent escape is a validation error.
func ParseQuery(raw string) (Query, error) {
	q := make(Query)
	if raw == "" {
		return q, nil
	}
	for _, seg := range strings.Split(raw, "&") {
		if seg == "" {
			continue
		}
		k, v, ok := strings.Cut(seg, "=")
		if !ok {
			return nil, invalid(fmt.Sprintf("Malformed query parameter %q", seg))
		}
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, invalid(fmt.Sprintf("Malformed query parameter %q", seg))
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			return nil, invalid(fmt.Sprintf("Malformed query parameter %q", seg))
		}
		if key == "" {
			return nil, invalid("Empty query parameter name")
		}
		q[key] = val
	}
	return q, nil
}

// Int parses the value of key as a base-10 integer.
func (q Query) Int(key string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(q[key]), 10, 64)
	if err != nil {
		return 0, invalid(fmt.Sprintf("Invalid integer for %s: %q", key, q[key]))
	}
	return n, nil
}

// parsePinPath extracts N from "/gpioN". N must be plain decimal digits.
func parsePinPath(path string) (domain.PinID, bool) {
	digits, ok := strings.CutPrefix(path, "/gpio")
	if !ok || digits == "" || len(digits) > 4 {
		return 0, false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return domain.PinID(n), true
}

func invalid(detail string) error {
	return domain.NewDomainError("router.parse", domain.ErrValidation, detail)
}
