package gho

import (
	"fmt"
	"net/url"
	"strconv"
)

// CursorStart is the persisted form of "extract from the beginning".
const CursorStart = "start"

// Cursor is the pagination position within a partition: the number of
// records already consumed and the page size used to advance.
type Cursor struct {
	Skip int
	Top  int
}

// StartCursor returns the initial cursor for a fresh extraction.
func StartCursor(pageSize int) Cursor {
	return Cursor{Skip: 0, Top: pageSize}
}

// Advance returns the cursor for the page after n fetched records.
func (c Cursor) Advance(n int) Cursor {
	return Cursor{Skip: c.Skip + n, Top: c.Top}
}

// String encodes the cursor for persistence in etl_state.
func (c Cursor) String() string {
	if c.Skip == 0 {
		return CursorStart
	}
	return fmt.Sprintf("skip=%d&top=%d", c.Skip, c.Top)
}

// ParseCursor decodes a persisted cursor. Empty strings and "start"
// both mean extraction from the beginning with the configured page size.
func ParseCursor(s string, pageSize int) (Cursor, error) {
	if s == "" || s == CursorStart {
		return StartCursor(pageSize), nil
	}

	vals, err := url.ParseQuery(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("parsing cursor %q: %w", s, err)
	}

	skip, err := strconv.Atoi(vals.Get("skip"))
	if err != nil || skip < 0 {
		return Cursor{}, fmt.Errorf("parsing cursor %q: invalid skip", s)
	}

	top := pageSize
	if v := vals.Get("top"); v != "" {
		top, err = strconv.Atoi(v)
		if err != nil || top < 1 {
			return Cursor{}, fmt.Errorf("parsing cursor %q: invalid top", s)
		}
	}

	return Cursor{Skip: skip, Top: top}, nil
}
