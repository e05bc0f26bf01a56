package repo

import (
	"fmt"
	"strings"
)

// Join concatenates SQL fragments with a single space, skipping empty parts.
func Join(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		clean = append(clean, p)
	}
	return strings.Join(clean, " ")
}

// JoinWhere builds a WHERE clause from the given conditions joined with AND.
func JoinWhere(conditions ...string) string {
	clean := make([]string, 0, len(conditions))
	for _, c := range conditions {
		if strings.TrimSpace(c) == "" {
			continue
		}
		clean = append(clean, c)
	}
	if len(clean) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(clean, " AND ")
}

// FormatLimitOffset returns a LIMIT/OFFSET clause for the given values.
// Zero values omit the corresponding keyword.
func FormatLimitOffset(limit, offset int) string {
	if limit > 0 && offset > 0 {
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	}
	if limit > 0 {
		return fmt.Sprintf("LIMIT %d", limit)
	}
	if offset > 0 {
		return fmt.Sprintf("OFFSET %d", offset)
	}
	return ""
}
