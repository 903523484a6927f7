package stream

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var rangeRegex = regexp.MustCompile(`^bytes=(\d*)-(\d*)$`)

// Range is an inclusive byte interval.
type Range struct {
	Start int64
	End   int64
}

func (r Range) Length() int64 { return r.End - r.Start + 1 }

// ContentRange formats r for a 206 response.
func (r Range) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// ParseRange interprets a Range header against an object of size bytes.
// partial is false when the whole object should be served: no header, a
// non-bytes unit, several ranges, or a malformed value. A syntactically
// valid range that selects nothing yields ErrRangeNotSatisfiable.
func ParseRange(header string, size int64) (r Range, partial bool, err error) {
	full := Range{Start: 0, End: size - 1}
	header = strings.TrimSpace(header)
	if header == "" || strings.Contains(header, ",") {
		return full, false, nil
	}
	m := rangeRegex.FindStringSubmatch(header)
	if m == nil {
		return full, false, nil
	}
	startStr, endStr := m[1], m[2]

	switch {
	case startStr == "" && endStr == "":
		return full, false, nil

	case startStr == "":
		suffix, perr := strconv.ParseInt(endStr, 10, 64)
		if perr != nil {
			return full, false, nil
		}
		if suffix == 0 || size == 0 {
			return Range{}, false, ErrRangeNotSatisfiable
		}
		start := size - suffix
		if start < 0 {
			start = 0
		}
		return Range{Start: start, End: size - 1}, true, nil
	}

	start, perr := strconv.ParseInt(startStr, 10, 64)
	if perr != nil {
		return full, false, nil
	}
	end := size - 1
	if endStr != "" {
		e, perr := strconv.ParseInt(endStr, 10, 64)
		if perr != nil || e < start {
			return full, false, nil
		}
		if e < end {
			end = e
		}
	}
	if start >= size {
		return Range{}, false, ErrRangeNotSatisfiable
	}
	return Range{Start: start, End: end}, true, nil
}
