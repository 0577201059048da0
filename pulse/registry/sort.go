package registry

import (
	"sort"
	"strconv"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Direction is a sort order
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Flip returns the opposite direction
func (d Direction) Flip() Direction {
	if d == Desc {
		return Asc
	}
	return Desc
}

// ParseDirection accepts "asc" or "desc" (empty means asc)
func ParseDirection(s string) (Direction, bool) {
	switch Direction(s) {
	case "", Asc:
		return Asc, true
	case Desc:
		return Desc, true
	}
	return "", false
}

func newCollator() *collate.Collator {
	return collate.New(language.English)
}

// sortRows orders rows in place by field. The sort is stable; absent values go
// last in either direction; numbers compare numerically and everything else
// by collation.
func sortRows(rows []JobRow, field string, dir Direction, col *collate.Collator) {
	if field == "" {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return less(rows[i].Field(field), rows[j].Field(field), dir, col)
	})
}

func less(a, b any, dir Direction, col *collate.Collator) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	}

	var c int
	af, aNum := a.(float64)
	bf, bNum := b.(float64)
	if aNum && bNum {
		switch {
		case af < bf:
			c = -1
		case af > bf:
			c = 1
		}
	} else {
		c = col.CompareString(toString(a), toString(b))
	}

	if dir == Desc {
		return c > 0
	}
	return c < 0
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}
