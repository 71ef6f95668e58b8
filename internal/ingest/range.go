package ingest

import "fmt"

// Window is an inclusive block range covered by one historical-log query.
type Window struct {
	From uint64
	To   uint64
}

// SplitWindows partitions [from, to] into fixed-size windows. Windows abut
// exactly: no block is omitted or covered twice across boundaries.
func SplitWindows(from, to, size uint64) ([]Window, error) {
	if size == 0 {
		return nil, fmt.Errorf("window size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block must be >= from block")
	}

	windows := make([]Window, 0)
	start := from
	for start <= to {
		end := to
		if remaining := to - start + 1; remaining > size {
			end = start + size - 1
		}
		windows = append(windows, Window{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}

	return windows, nil
}
