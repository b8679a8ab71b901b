package partition

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dFlow/lib/protocol"
	"github.com/VictoriaMetrics/metrics"
)

type partitionMetrics struct {
	partitionID int32
	set         *metrics.Set

	processingTime *metrics.Histogram
	replayed       *metrics.Counter
	backpressure   *metrics.Counter
	writeFailures  *metrics.Counter
	lastProcessed  *metrics.Counter
}

func newPartitionMetrics(partitionID int32, set *metrics.Set) *partitionMetrics {
	return &partitionMetrics{
		partitionID:    partitionID,
		set:            set,
		processingTime: set.GetOrCreateHistogram(fmt.Sprintf(`dflow_command_processing_seconds{partition="%d"}`, partitionID)),
		replayed:       set.GetOrCreateCounter(fmt.Sprintf(`dflow_replayed_records_total{partition="%d"}`, partitionID)),
		backpressure:   set.GetOrCreateCounter(fmt.Sprintf(`dflow_write_backpressure_total{partition="%d"}`, partitionID)),
		writeFailures:  set.GetOrCreateCounter(fmt.Sprintf(`dflow_follow_up_write_failures_total{partition="%d"}`, partitionID)),
		lastProcessed:  set.GetOrCreateCounter(fmt.Sprintf(`dflow_last_processed_position{partition="%d"}`, partitionID)),
	}
}

func (m *partitionMetrics) commandProcessed(command *protocol.Record, rejection *protocol.Record, started time.Time) {
	m.processingTime.UpdateDuration(started)
	m.set.GetOrCreateCounter(fmt.Sprintf(`dflow_processed_commands_total{partition="%d",valueType="%s",intent="%s"}`,
		m.partitionID, command.Metadata.ValueType, command.Metadata.Intent)).Inc()
	if rejection != nil {
		m.set.GetOrCreateCounter(fmt.Sprintf(`dflow_rejected_commands_total{partition="%d",rejectionType="%s"}`,
			m.partitionID, rejection.Metadata.RejectionType)).Inc()
	}
}
