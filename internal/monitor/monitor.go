// Package monitor implements the vendor-invoked buffer protocol:
// allocating scratch buffers for the tracing library to fill,
// cursor-scanning completed buffers into the activity translator,
// sweeping correlation channels ahead of every translation pass, and
// tracking dropped-record counts.
package monitor

import (
	"sync/atomic"

	"github.com/gpuprof/gpuprof/internal/activity"
	"github.com/gpuprof/gpuprof/internal/channel"
	"github.com/gpuprof/gpuprof/internal/corrindex"
	"github.com/gpuprof/gpuprof/internal/lifecycle"
	"github.com/gpuprof/gpuprof/internal/model"
	"github.com/gpuprof/gpuprof/internal/vendorapi"
)

// bufferSize is the fixed scratch-buffer size the vendor tracing
// library fills. 16 MiB is naturally 8-byte aligned for any Go byte
// slice allocation.
const bufferSize = 16 * 1024 * 1024

// Decoder turns one raw vendor record (as returned by
// vendorapi.ActivityBufferSource.GetNextRecord) into a typed
// activity.RawActivity. Decoding the vendor's binary record layout is
// outside this package's scope; the decoder is supplied by whatever
// wires up the concrete vendor tracing library.
type Decoder func(rec []byte) activity.RawActivity

// Config wires a Monitor to its collaborators.
type Config struct {
	Correlations *channel.CorrelationRegistry
	Activities   *channel.ActivityChannelRegistry
	Index        *corrindex.Index
	Translator   *activity.Translator
	BufferSource vendorapi.ActivityBufferSource
	Sink         vendorapi.MetricSink
	Decode       Decoder
	Lifecycle    *lifecycle.Tracker
}

// Monitor implements the buffer-request/buffer-complete protocol. It
// never blocks on a channel — only sweeps.
type Monitor struct {
	cfg     Config
	dropped atomic.Uint64
}

// New creates a Monitor from cfg.
func New(cfg Config) *Monitor {
	return &Monitor{cfg: cfg}
}

// RequestBuffer implements the vendor's buffer-request callback: a
// fixed-size scratch buffer for it to fill with raw activity records.
func (m *Monitor) RequestBuffer() []byte {
	return make([]byte, bufferSize)
}

// CompleteBuffer implements the vendor's buffer-complete callback:
// sweep pending correlation records, cursor-scan the buffer
// translating and forwarding each record, then account for any
// records the vendor reports as dropped.
func (m *Monitor) CompleteBuffer(buf []byte, validSize int, streamID uint32) {
	m.sweepCorrelations()

	cursor := 0
	for {
		rec, next, ok := m.cfg.BufferSource.GetNextRecord(buf, validSize, cursor)
		if !ok {
			break
		}
		cursor = next

		raw := m.cfg.Decode(rec)
		act, corrRec, attributed := m.cfg.Translator.Translate(raw)
		if !attributed {
			// A missing correlation record is swallowed — the activity
			// is not attributed, but that is not an error.
			continue
		}

		m.cfg.Activities.Register(corrRec.ThreadID).Produce(channel.ActivityRecord{
			Activity: act,
			CCTNode:  corrRec.CallingContext,
		})
		if m.cfg.Sink != nil {
			m.cfg.Sink.Attribute(act, corrRec.CallingContext)
		}
	}

	m.dropped.Add(m.cfg.BufferSource.GetNumDroppedRecords(streamID))
}

// DroppedRecords returns the monotonically nondecreasing count of
// records the vendor has reported dropped across every completed
// buffer.
func (m *Monitor) DroppedRecords() uint64 {
	return m.dropped.Load()
}

// sweepCorrelations drains every registered correlation channel into
// the shared pending-correlation index, guaranteeing that a
// buffer-complete translation pass only ever reads correlation
// records published before this sweep.
func (m *Monitor) sweepCorrelations() int {
	return m.cfg.Correlations.Sweep(func(rec channel.CorrelationRecord) {
		m.cfg.Index.Pending.Insert(rec.HostOpID, model.CorrelationRecord{
			HostCorrelationID: rec.HostOpID,
			CallingContext:    rec.CallingContext,
			OpKind:            rec.OpKind,
			KernelIP:          rec.KernelIP,
			HasKernelIP:       rec.HasKernelIP,
			ThreadID:          rec.ThreadID,
		})
	})
}

// Shutdown flushes every remaining vendor-side buffer. The vendor
// responds by invoking CompleteBuffer for each partially-filled buffer
// before FlushAll returns; the caller is responsible for draining the
// trace subsystem afterward.
func (m *Monitor) Shutdown() error {
	return m.cfg.BufferSource.FlushAll()
}
