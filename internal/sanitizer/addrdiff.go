package sanitizer

import (
	"fmt"
	"strings"

	"github.com/gpuprof/gpuprof/internal/model"
)

// AddrDiffSummary aggregates one generation's address-diff records from
// the on-device analysis kernel, the host-side counterpart of comparing
// the read- and write-buffer address streams.
type AddrDiffSummary struct {
	Context     uint32
	Count       int
	MaxAbsDelta int64
	MeanDelta   float64
	Divergent   int // records whose delta exceeds the caller's threshold
}

// SummarizeAddrDiff aggregates records for context ctxID, classifying
// any record whose |delta| exceeds threshold as divergent.
func SummarizeAddrDiff(ctxID uint32, records []model.AddressDiffRecord, threshold int64) AddrDiffSummary {
	s := AddrDiffSummary{Context: ctxID, Count: len(records)}
	if len(records) == 0 {
		return s
	}

	var sum int64
	for _, r := range records {
		abs := r.Delta
		if abs < 0 {
			abs = -abs
		}
		if abs > s.MaxAbsDelta {
			s.MaxAbsDelta = abs
		}
		if abs > threshold {
			s.Divergent++
		}
		sum += r.Delta
	}
	s.MeanDelta = float64(sum) / float64(len(records))
	return s
}

// FormatAddrDiff renders s as a human-readable summary line, in the
// style of the pipeline's other diagnostic text output.
func FormatAddrDiff(s AddrDiffSummary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "context %d: %d records, max|delta|=%d, mean delta=%.2f", s.Context, s.Count, s.MaxAbsDelta, s.MeanDelta)
	if s.Divergent > 0 {
		fmt.Fprintf(&sb, ", %d divergent", s.Divergent)
	}
	return sb.String()
}
