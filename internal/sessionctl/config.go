package sessionctl

import "tracesvc/internal/bufferengine"

// BufferConfig is one entry of TraceConfig.buffers[] (spec.md §6.2).
type BufferConfig struct {
	SizeKB     uint32
	FillPolicy bufferengine.FillPolicy
}

// DataSourceConfig is one entry of TraceConfig.data_sources[] (spec.md §6.2).
type DataSourceConfig struct {
	Name              string
	TargetBuffer      uint16 // indexes TraceConfig.Buffers; matches smb.ChunkHeader.TargetBuffer's width
	OpaqueConfigBytes []byte
	ProducerFilter    string // empty = any producer; producers advertise no name, so a non-empty filter matches none
}

// TriggerMode selects what a TraceConfig.triggers entry does.
type TriggerMode int

const (
	TriggerStartTracing TriggerMode = iota
	TriggerStopTracing
)

// TriggerConfig is TraceConfig.triggers (spec.md §6.2).
type TriggerConfig struct {
	Mode         TriggerMode
	TriggerNames []string
	TimeoutMS    uint32
}

// TraceConfig is the full consumer-supplied session configuration
// (spec.md §6.2), accepted by EnableTracing.
type TraceConfig struct {
	Name        string // optional; auto-generated if empty, see Session.Name
	Buffers     []BufferConfig
	DataSources []DataSourceConfig

	DurationMS uint32 // 0 = no auto-stop timer

	WriteIntoFile     bool
	OutputPath        string
	FileWritePeriodMS uint32
	FlushPeriodMS     uint32

	Trigger *TriggerConfig // nil = start immediately
}

// TotalBufferBytes sums the configured buffer sizes, for admission control.
func (c TraceConfig) TotalBufferBytes() int64 {
	var total int64
	for _, b := range c.Buffers {
		total += int64(b.SizeKB) * 1024
	}
	return total
}
