package cdn

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SegmentSize is the length of every synthetic segment.
const SegmentSize = 1 << 20

// ErrInvalidRange is returned for a Range header that is malformed or cannot
// be satisfied by the segment.
var ErrInvalidRange = errors.New("invalid byte range")

// SegmentBytes synthesises the filler payload of a segment:
// b[i] = (i + segmentIndex) mod 256. The content and quality take no part in
// the pattern, so any key with the same index yields identical bytes.
func SegmentBytes(contentID string, qualityID, segmentIndex int) []byte {
	buf := make([]byte, SegmentSize)
	offset := segmentIndex % 256
	if offset < 0 {
		offset += 256
	}
	for i := range buf {
		buf[i] = byte(i + offset)
	}
	return buf
}

// ByteRange is an inclusive byte interval of a resource of length Total.
type ByteRange struct {
	Start int64
	End   int64
	Total int64
}

// Length is the number of bytes covered.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange formats the Content-Range header value.
func (r ByteRange) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, r.Total)
}

// ParseRange parses a single-range "bytes=" header against a resource of
// length total. It accepts "start-end", an open end "start-" and a suffix
// "-n". The end is clamped to total-1.
func ParseRange(header string, total int64) (ByteRange, error) {
	rangeSet, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok || total <= 0 {
		return ByteRange{}, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}
	if strings.Contains(rangeSet, ",") {
		return ByteRange{}, fmt.Errorf("%w: multiple ranges not supported", ErrInvalidRange)
	}

	startStr, endStr, ok := strings.Cut(strings.TrimSpace(rangeSet), "-")
	if !ok {
		return ByteRange{}, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}
	startStr, endStr = strings.TrimSpace(startStr), strings.TrimSpace(endStr)

	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return ByteRange{}, fmt.Errorf("%w: %q", ErrInvalidRange, header)
		}
		if n > total {
			n = total
		}
		return ByteRange{Start: total - n, End: total - 1, Total: total}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= total {
		return ByteRange{}, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}

	end := total - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return ByteRange{}, fmt.Errorf("%w: %q", ErrInvalidRange, header)
		}
		if end > total-1 {
			end = total - 1
		}
	}

	return ByteRange{Start: start, End: end, Total: total}, nil
}
