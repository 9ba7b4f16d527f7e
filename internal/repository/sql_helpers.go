package repository

import "strings"

// inList expands values into an IN (...) placeholder list. Extra args are
// appended after the values, in order.
func inList[T any](values []T, extra ...any) (string, []any) {
	args := make([]any, 0, len(values)+len(extra))
	for _, value := range values {
		args = append(args, value)
	}
	args = append(args, extra...)
	return strings.TrimSuffix(strings.Repeat("?,", len(values)), ","), args
}
