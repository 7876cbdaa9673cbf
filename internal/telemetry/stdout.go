package telemetry

import (
	"github.com/openrfx/sdrhal/internal/logging"
)

// LogReporter prints stream health updates through the structured logger.
type LogReporter struct {
	logger logging.Logger
}

// NewLogReporter builds a log reporter with the provided logger.
func NewLogReporter(logger logging.Logger) LogReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return LogReporter{logger: logger}
}

func (r LogReporter) Report(sample Sample) {
	dir := "rx"
	if sample.Stats.IsTx {
		dir = "tx"
	}
	fields := []logging.Field{
		{Key: "subsystem", Value: "telemetry"},
		{Key: "module", Value: sample.Module},
		{Key: "direction", Value: dir},
		{Key: "fifo_fill", Value: sample.Stats.FIFOFilled},
		{Key: "rate_bps", Value: sample.Stats.DataRateBps},
	}
	if sample.Stats.Overrun != 0 {
		fields = append(fields, logging.Field{Key: "overrun", Value: sample.Stats.Overrun})
	}
	if sample.Stats.Underrun != 0 {
		fields = append(fields, logging.Field{Key: "underrun", Value: sample.Stats.Underrun})
	}
	if sample.Stats.Loss != 0 {
		fields = append(fields, logging.Field{Key: "loss", Value: sample.Stats.Loss})
	}
	if sample.Stats.Late != 0 {
		fields = append(fields, logging.Field{Key: "late", Value: sample.Stats.Late})
	}
	r.logger.Info("stream health", fields...)
}
