package model

// SanitizerBufferKind tags what a device-resident ring buffer carries.
type SanitizerBufferKind int

const (
	SanitizerBufferMemAccess SanitizerBufferKind = iota
	SanitizerBufferAddrDiffRead
	SanitizerBufferAddrDiffWrite
)

// SanitizerBufferHeader mirrors the device-resident ring-buffer header:
// head/tail cursors, capacity, and the full/analysis coordination flags.
// Host and device coordinate through exactly two flags: `Full` (device
// sets, host drains then clears) and `Analysis` (device completes a
// generation of the on-device analysis kernel).
type SanitizerBufferHeader struct {
	Head              uint32              `json:"head"`
	Tail              uint32              `json:"tail"`
	Size              uint32              `json:"size"`
	Full              uint32              `json:"full"`
	Analysis          uint32              `json:"analysis"`
	NumThreads        uint64              `json:"num_threads"`
	NumLeftThreads    uint64              `json:"num_left_threads"`
	SamplingOffset    uint32              `json:"sampling_offset"`
	SamplingFrequency uint32              `json:"sampling_frequency"`
	Kind              SanitizerBufferKind `json:"kind"`
}

// MemAccessRecord is a generic device-side memory-access sample. The host
// never interprets warp-level detail — it only forwards it.
type MemAccessRecord struct {
	ThreadID   uint32 `json:"thread_id"`
	WarpID     uint32 `json:"warp_id"`
	ActiveMask uint32 `json:"active_mask"`
	PC         uint64 `json:"pc"`
	Address    uint64 `json:"address"`
	Flags      uint32 `json:"flags"`
}

// AddressDiffRecord is produced by the on-device analysis kernel: one
// read-buffer and one write-buffer address, diffed host-side.
type AddressDiffRecord struct {
	ReadAddress  uint64 `json:"read_address"`
	WriteAddress uint64 `json:"write_address"`
	Delta        int64  `json:"delta"`
}
