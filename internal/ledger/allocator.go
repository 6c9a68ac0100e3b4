package ledger

import (
	"fmt"
	"strconv"
	"strings"
)

// Partition is an inclusive slot range. Last == 0 means unbounded.
type Partition struct {
	First int
	Last  int
}

// Allocator derives public sevak IDs from gender partitions.
type Allocator struct {
	Prefix     string
	Width      int
	Partitions map[Gender]Partition
}

// DefaultAllocator gives male slots 1..300 and female slots from 301.
func DefaultAllocator() Allocator {
	return Allocator{
		Prefix: "SV",
		Width:  4,
		Partitions: map[Gender]Partition{
			Male:   {First: 1, Last: 300},
			Female: {First: 301},
		},
	}
}

// Validate rejects overlapping or empty partitions.
func (a Allocator) Validate() error {
	if a.Width <= 0 {
		return fmt.Errorf("id width must be positive")
	}
	if a.Prefix != normalizeSevakID(a.Prefix) {
		return fmt.Errorf("id prefix %q must be upper case without spaces", a.Prefix)
	}
	for g, p := range a.Partitions {
		if p.First <= 0 || (p.Last > 0 && p.Last < p.First) {
			return fmt.Errorf("partition %s: invalid range %d..%d", g, p.First, p.Last)
		}
		for h, q := range a.Partitions {
			if g == h {
				continue
			}
			if overlaps(p, q) {
				return fmt.Errorf("partitions %s and %s overlap", g, h)
			}
		}
	}
	return nil
}

func overlaps(p, q Partition) bool {
	pEnd, qEnd := p.Last, q.Last
	if pEnd == 0 {
		pEnd = int(^uint(0) >> 1)
	}
	if qEnd == 0 {
		qEnd = int(^uint(0) >> 1)
	}
	return p.First <= qEnd && q.First <= pEnd
}

// Format renders slot n as a public ID.
func (a Allocator) Format(n int) string {
	return fmt.Sprintf("%s%0*d", a.Prefix, a.Width, n)
}

// Sequence parses the trailing numeric suffix of a public ID.
func (a Allocator) Sequence(sevakID string) (int, bool) {
	end := len(sevakID)
	start := end
	for start > 0 && sevakID[start-1] >= '0' && sevakID[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0, false
	}
	n, err := strconv.Atoi(sevakID[start:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Next picks the slot after the highest one in use within g's partition.
func (a Allocator) Next(g Gender, existing []string) (string, error) {
	p, ok := a.Partitions[g]
	if !ok {
		return "", validationf("unknown gender %q", g)
	}
	next := p.First
	for _, id := range existing {
		if !strings.HasPrefix(id, a.Prefix) {
			continue
		}
		n, ok := a.Sequence(id)
		if !ok || n < p.First || (p.Last > 0 && n > p.Last) {
			continue
		}
		if n >= next {
			next = n + 1
		}
	}
	if p.Last > 0 && next > p.Last {
		return "", ErrCapacityExceeded
	}
	return a.Format(next), nil
}
