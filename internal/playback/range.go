package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// Range is an inclusive byte span of a video file.
type Range struct {
	Start int64
	End   int64
}

func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

func (r Range) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// ParseRange reads a Range header against a file of size bytes. An empty
// header yields nil. Only the first span of a multi-range request is honoured.
func ParseRange(header string, size int64) (*Range, error) {
	if header == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, ErrInvalidRange
	}
	if first, _, multi := strings.Cut(spec, ","); multi {
		spec = first
	}
	from, to, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return nil, ErrInvalidRange
	}

	var r Range
	switch {
	case from == "":
		n, err := parseOffset(to)
		if err != nil || n == 0 {
			return nil, ErrInvalidRange
		}
		r = Range{Start: max(size-n, 0), End: size - 1}
	default:
		start, err := parseOffset(from)
		if err != nil {
			return nil, ErrInvalidRange
		}
		end := size - 1
		if to != "" {
			if end, err = parseOffset(to); err != nil {
				return nil, ErrInvalidRange
			}
		}
		r = Range{Start: start, End: end}
	}

	if r.Start >= size || r.Start > r.End {
		return nil, ErrUnsatisfiable
	}
	r.End = min(r.End, size-1)
	return &r, nil
}

func parseOffset(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, ErrInvalidRange
	}
	return n, nil
}
