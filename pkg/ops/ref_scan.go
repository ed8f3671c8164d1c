package ops

import (
	"bytes"
	"sort"
)

// refScanner is an io.Writer that watches a byte stream for a fixed
// set of store ids. The tail of each write is carried into the next
// scan so an id split across two writes is still found.
type refScanner struct {
	needles [][]byte
	found   map[string]struct{}

	keep int
	prev []byte
	scan []byte
}

func newRefScanner(ids []string) *refScanner {
	r := &refScanner{
		found: make(map[string]struct{}),
	}

	longest := 0

	for _, id := range ids {
		if id == "" {
			continue
		}

		r.needles = append(r.needles, []byte(id))

		if len(id) > longest {
			longest = len(id)
		}
	}

	if longest > 0 {
		r.keep = longest - 1
	}

	return r
}

func (r *refScanner) Write(b []byte) (int, error) {
	if r.Done() {
		return len(b), nil
	}

	r.scan = append(r.scan[:0], r.prev...)
	r.scan = append(r.scan, b...)

	for _, n := range r.needles {
		if _, ok := r.found[string(n)]; ok {
			continue
		}

		if bytes.Contains(r.scan, n) {
			r.found[string(n)] = struct{}{}
		}
	}

	if r.keep > 0 {
		if len(r.scan) > r.keep {
			r.prev = append(r.prev[:0], r.scan[len(r.scan)-r.keep:]...)
		} else {
			r.prev = append(r.prev[:0], r.scan...)
		}
	}

	return len(b), nil
}

// NextFile discards the carried tail so an id never matches across a
// file boundary.
func (r *refScanner) NextFile() {
	r.prev = r.prev[:0]
}

func (r *refScanner) Done() bool {
	return len(r.found) == len(r.needles)
}

func (r *refScanner) Has(id string) bool {
	_, ok := r.found[id]
	return ok
}

func (r *refScanner) Found() []string {
	out := make([]string, 0, len(r.found))

	for id := range r.found {
		out = append(out, id)
	}

	sort.Strings(out)

	return out
}
