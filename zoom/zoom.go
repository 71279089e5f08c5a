// Package zoom holds the zoom level range type used to select which tile
// matrices a process runs on.
package zoom

import "fmt"

// Range is an inclusive range of zoom levels.
// Descending only affects iteration order, not equality.
type Range struct {
	Min        int
	Max        int
	Descending bool
}

func NewRange(minLevel, maxLevel int) (Range, error) {
	if minLevel < 0 || maxLevel < 0 {
		return Range{}, fmt.Errorf("zoom levels must not be negative: %d, %d", minLevel, maxLevel)
	}
	if minLevel > maxLevel {
		return Range{}, fmt.Errorf("min zoom %d cannot be greater than max zoom %d", minLevel, maxLevel)
	}
	return Range{Min: minLevel, Max: maxLevel}, nil
}

func Single(level int) (Range, error) {
	return NewRange(level, level)
}

// FromList accepts a single level, a [min, max] pair or a full sequence of levels.
func FromList(levels []int) (Range, error) {
	switch len(levels) {
	case 0:
		return Range{}, fmt.Errorf("zoom level list is empty")
	case 1:
		return Single(levels[0])
	case 2:
		lo, hi := levels[0], levels[1]
		if lo > hi {
			lo, hi = hi, lo
		}
		return NewRange(lo, hi)
	default:
		lo, hi := levels[0], levels[0]
		seen := make(map[int]struct{}, len(levels))
		for _, l := range levels {
			if l < lo {
				lo = l
			}
			if l > hi {
				hi = l
			}
			seen[l] = struct{}{}
		}
		if len(seen) != hi-lo+1 {
			return Range{}, fmt.Errorf("zoom level list must be a full sequence without missing zoom levels: %v", levels)
		}
		return NewRange(lo, hi)
	}
}

func (r Range) Len() int {
	return r.Max - r.Min + 1
}

func (r Range) Contains(level int) bool {
	return level >= r.Min && level <= r.Max
}

// Slice returns all levels in iteration order.
func (r Range) Slice() []int {
	levels := make([]int, 0, r.Len())
	if r.Descending {
		for l := r.Max; l >= r.Min; l-- {
			levels = append(levels, l)
		}
	} else {
		for l := r.Min; l <= r.Max; l++ {
			levels = append(levels, l)
		}
	}
	return levels
}

func (r Range) Intersection(other Range) (Range, error) {
	lo := max(r.Min, other.Min)
	hi := min(r.Max, other.Max)
	if lo > hi {
		return Range{}, fmt.Errorf("zoom ranges %s and %s do not intersect", r, other)
	}
	return Range{Min: lo, Max: hi, Descending: r.Descending}, nil
}

func (r Range) Intersects(other Range) bool {
	_, err := r.Intersection(other)
	return err == nil
}

// Descend returns the same range with reversed iteration order.
func (r Range) Descend() Range {
	return Range{Min: r.Min, Max: r.Max, Descending: true}
}

func (r Range) String() string {
	return fmt.Sprintf("zoom %d-%d", r.Min, r.Max)
}
