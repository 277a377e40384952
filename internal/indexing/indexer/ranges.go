package indexer

import "fmt"

// Range is an inclusive block range.
type Range struct {
	Start uint64
	End   uint64
}

// String returns the range in "start-end" format.
func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Size returns the number of blocks in the range.
func (r Range) Size() uint64 {
	return r.End - r.Start + 1
}

// Split cuts the range into windows of at most maxSize blocks, the shape
// eth_getLogs providers accept.
func (r Range) Split(maxSize uint64) []Range {
	if maxSize == 0 || r.Size() <= maxSize {
		return []Range{r}
	}

	var chunks []Range
	for current := r.Start; current <= r.End; {
		end := min(current+maxSize-1, r.End)
		chunks = append(chunks, Range{Start: current, End: end})
		if end == r.End {
			break
		}
		current = end + 1
	}
	return chunks
}
