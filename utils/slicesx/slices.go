package slicesx

func Map[T, U any](s []T, f func(item T, idx int) U) []U {
	mapped := make([]U, len(s))
	for idx, v := range s {
		mapped[idx] = f(v, idx)
	}
	return mapped
}

// Filter never returns nil.
func Filter[T any](s []T, keep func(item T) bool) []T {
	filtered := []T{}
	for _, v := range s {
		if keep(v) {
			filtered = append(filtered, v)
		}
	}
	return filtered
}

// Unique keeps the first occurrence of every value, in order.
func Unique[T comparable](s []T) []T {
	seen := make(map[T]struct{}, len(s))
	unique := make([]T, 0, len(s))
	for _, v := range s {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		unique = append(unique, v)
	}
	return unique
}
