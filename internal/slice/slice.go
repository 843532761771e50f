package slice

// Map returns a new slice with f applied to every element of list.
// A nil f yields an empty slice.
func Map[T, R any](list []T, f func(t T) R) []R {
	if f == nil {
		return make([]R, 0)
	}

	output := make([]R, 0, len(list))
	for idx := range list {
		output = append(output, f(list[idx]))
	}

	return output
}

// Filter returns the elements of list accepted by f. A nil f accepts everything.
func Filter[T any](list []T, f func(t T) bool) []T {
	output := make([]T, 0, len(list))
	for _, v := range list {
		if f == nil || f(v) {
			output = append(output, v)
		}
	}

	return output
}

// Find returns the first element of list accepted by f.
func Find[T any](list []T, f func(t T) bool) (T, bool) {
	var found T
	for idx := range list {
		if f(list[idx]) {
			return list[idx], true
		}
	}

	return found, false
}

// Sum adds up f over every element of list.
func Sum[T any](list []T, f func(t T) int) int {
	var total int
	for idx := range list {
		total += f(list[idx])
	}

	return total
}
