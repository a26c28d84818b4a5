// Package sink provides reference implementations of vendorapi.MetricSink
// and trace.Writer that the core itself never depends on: a newline-
// delimited JSON export, a Prometheus metric sink, and a folded-stack
// stream-timeline exporter. None of these imply the pipeline core
// persists activity records — that stays a non-goal; these are what an
// embedding demo or operator plugs in to observe the stream.
package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/gpuprof/gpuprof/internal/model"
)

// record is the on-the-wire shape one attributed activity is exported
// as: its tagged kind, the activity payload itself, and a string
// rendering of the calling-context node the embedding tool's sink
// produced (the core never interprets cct internals, so this is the
// best a generic exporter can do with a node).
type record struct {
	Kind     string         `json:"kind"`
	Activity model.Activity `json:"activity"`
	CCTNode  string         `json:"cct_node"`
}

// JSONSink writes one newline-delimited JSON record per attributed
// activity to an io.Writer, streaming rather than batching a single
// report: the activity pipeline has no natural "end of report" moment
// short of shutdown.
type JSONSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONSink wraps w.
func NewJSONSink(w io.Writer) *JSONSink {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONSink{enc: enc}
}

// Attribute implements vendorapi.MetricSink.
func (s *JSONSink) Attribute(act model.Activity, node model.CCTNode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(record{
		Kind:     model.Kind(act),
		Activity: act,
		CCTNode:  fmt.Sprintf("%v", node),
	})
}
