package driver

// Dedupe drops records whose key was already seen, keeping the first
// occurrence. Every upsert batch must be deduplicated on its destination's
// natural key before it is sent; PostgREST rejects batches that touch the
// same conflict target twice.
func Dedupe[T any](xs []T, key func(T) string) []T {
	seen := make(map[string]struct{}, len(xs))
	out := xs[:0:0]
	for _, x := range xs {
		k := key(x)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, x)
	}
	return out
}

// Chunks splits xs into batches of at most n records. Each batch is one
// subrequest.
func Chunks[T any](xs []T, n int) [][]T {
	if n <= 0 {
		n = len(xs)
	}
	var out [][]T
	for len(xs) > 0 {
		m := min(n, len(xs))
		out = append(out, xs[:m])
		xs = xs[m:]
	}
	return out
}
