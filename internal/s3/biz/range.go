package biz

import (
	"fmt"
	"regexp"
	"strconv"

	apperrors "github.com/lk2023060901/nanami/internal/pkg/errors"
)

var rangeRegexp = regexp.MustCompile(`^bytes=([0-9]+)-([0-9]+)?(?:/([0-9]+))?$`)

// ByteRange is a parsed Range header. End is inclusive; nil bounds are open.
type ByteRange struct {
	Start *int64
	End   *int64
}

// ParseRange parses "bytes=start-[end]". Headers that are absent or do not
// match yield nil, which selects the whole object.
func ParseRange(header string) *ByteRange {
	if header == "" {
		return nil
	}
	m := rangeRegexp.FindStringSubmatch(header)
	if m == nil {
		return nil
	}

	start, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil
	}
	r := &ByteRange{Start: &start}
	if m[2] != "" {
		end, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return nil
		}
		r.End = &end
	}
	return r
}

// Resolve returns the half-open byte interval [start, end) of an object of
// size total selected by r. A nil range selects everything.
func (r *ByteRange) Resolve(total int64) (start, end int64, err error) {
	start, end = 0, total
	if r == nil {
		return start, end, nil
	}
	if r.Start != nil {
		start = *r.Start
	}
	if r.End != nil && *r.End < total {
		end = *r.End + 1
	}
	if start > end {
		return 0, 0, apperrors.New(apperrors.ErrInvalidRange,
			fmt.Sprintf("range start %d is past end %d", start, end))
	}
	return start, end, nil
}

// String renders the range in header form
func (r *ByteRange) String() string {
	if r == nil {
		return ""
	}
	s := "bytes="
	if r.Start != nil {
		s += strconv.FormatInt(*r.Start, 10)
	}
	s += "-"
	if r.End != nil {
		s += strconv.FormatInt(*r.End, 10)
	}
	return s
}
