package consensus

// historyRing keeps the last N results. The durable journal is the source of
// truth for recovery; this exists for dashboards and diagnostics only.
type historyRing struct {
	buf  []*Result
	next int
	full bool
}

func newHistoryRing(size int) *historyRing {
	if size < 1 {
		size = 1000
	}
	return &historyRing{buf: make([]*Result, size)}
}

func (r *historyRing) push(res *Result) {
	r.buf[r.next] = res
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// snapshot returns up to limit results, newest first.
func (r *historyRing) snapshot(limit int) []*Result {
	size := r.next
	if r.full {
		size = len(r.buf)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]*Result, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}
