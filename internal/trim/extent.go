package trim

import (
	"fmt"
	"slices"
)

// Extent is a freed byte range [Start, End).
type Extent struct {
	Start int64
	End   int64
}

// Len returns End - Start.
func (e Extent) Len() int64 {
	return e.End - e.Start
}

// Valid reports whether the extent is non-empty.
func (e Extent) Valid() bool {
	return e.Start < e.End
}

func (e Extent) String() string {
	return fmt.Sprintf("[%d,%d)", e.Start, e.End)
}

// Merge sorts extents by Start and coalesces overlapping or touching ranges.
// A range is closed only when the next extent starts strictly after its end.
// Closed ranges with Len() <= 0 are returned in rejected and never in
// ranges. extents is reordered in place.
func Merge(extents []Extent) (ranges, rejected []Extent) {
	if len(extents) == 0 {
		return nil, nil
	}
	slices.SortFunc(extents, func(a, b Extent) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return 0
		}
	})

	emit := func(r Extent) {
		if r.Len() <= 0 {
			rejected = append(rejected, r)
			return
		}
		ranges = append(ranges, r)
	}

	cur := extents[0]
	for _, next := range extents[1:] {
		if cur.End < next.Start {
			emit(cur)
			cur = next
			continue
		}
		if next.End > cur.End {
			cur.End = next.End
		}
	}
	emit(cur)
	return ranges, rejected
}
