// Package flowcontrol bounds the number and the size of appends that were handed
// to the log storage but are not committed yet.
//
// A permit is taken with TryAcquire before a batch is sequenced and is released
// exactly once, when the append is committed or has failed. Nothing is queued:
// when the limits are reached TryAcquire fails immediately and the caller has to
// retry later.
package flowcontrol

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// ErrExhausted is returned by TryAcquire when no permit is left.
var ErrExhausted = errors.New("flow control: in-flight limit exhausted")

// latencySampleSize is the reservoir size of the latency histograms
const latencySampleSize = 1028

// Limits configures a FlowControl. A zero value disables the respective limit.
type Limits struct {
	MaxInFlightAppends int
	MaxInFlightBytes   int64
}

// DefaultLimits returns the limits used when nothing else is configured
func DefaultLimits() Limits {
	return Limits{
		MaxInFlightAppends: 1024,
		MaxInFlightBytes:   64 * 1024 * 1024,
	}
}

// Stats is a snapshot of the flow control state.
type Stats struct {
	InFlight          int64
	InFlightBytes     int64
	Rejected          uint64
	Committed         int64
	WriteLatencyMean  time.Duration
	CommitLatencyMean time.Duration
	CommitLatencyP99  time.Duration
}

// FlowControl is the admission control of one partition log.
//
// Thread-safety: all methods are thread-safe.
type FlowControl struct {
	limits Limits

	inFlight      atomic.Int64
	inFlightBytes atomic.Int64

	rejected      *metrics.Counter
	writeLatency  gometrics.Histogram
	commitLatency gometrics.Histogram
}

// New creates a flow control for the given partition. Gauges and counters are
// registered in set, which may be nil.
func New(partitionID int32, limits Limits, set *metrics.Set) *FlowControl {
	if set == nil {
		set = metrics.NewSet()
	}

	fc := &FlowControl{
		limits:        limits,
		writeLatency:  gometrics.NewHistogram(gometrics.NewUniformSample(latencySampleSize)),
		commitLatency: gometrics.NewHistogram(gometrics.NewUniformSample(latencySampleSize)),
	}

	fc.rejected = set.NewCounter(fmt.Sprintf(`dflow_flow_control_rejected_total{partition="%d"}`, partitionID))
	set.NewGauge(fmt.Sprintf(`dflow_flow_control_in_flight{partition="%d"}`, partitionID), func() float64 {
		return float64(fc.inFlight.Load())
	})
	set.NewGauge(fmt.Sprintf(`dflow_flow_control_in_flight_bytes{partition="%d"}`, partitionID), func() float64 {
		return float64(fc.inFlightBytes.Load())
	})
	set.NewGauge(fmt.Sprintf(`dflow_flow_control_commit_latency_mean_ms{partition="%d"}`, partitionID), func() float64 {
		return fc.commitLatency.Snapshot().Mean() / float64(time.Millisecond)
	})

	return fc
}

// TryAcquire takes a permit for an append of batchLength bytes. A single append
// larger than MaxInFlightBytes is admitted when nothing else is in flight.
func (fc *FlowControl) TryAcquire(batchLength int) (*InFlightAppend, error) {
	if max := int64(fc.limits.MaxInFlightAppends); max > 0 {
		for {
			current := fc.inFlight.Load()
			if current >= max {
				fc.rejected.Inc()
				return nil, ErrExhausted
			}
			if fc.inFlight.CompareAndSwap(current, current+1) {
				break
			}
		}
	} else {
		fc.inFlight.Add(1)
	}

	length := int64(batchLength)
	if max := fc.limits.MaxInFlightBytes; max > 0 {
		total := fc.inFlightBytes.Add(length)
		if total > max && total-length > 0 {
			fc.inFlightBytes.Add(-length)
			fc.inFlight.Add(-1)
			fc.rejected.Inc()
			return nil, ErrExhausted
		}
	} else {
		fc.inFlightBytes.Add(length)
	}

	return &InFlightAppend{fc: fc, length: length}, nil
}

// Stats returns a snapshot of the current state.
func (fc *FlowControl) Stats() Stats {
	commit := fc.commitLatency.Snapshot()
	return Stats{
		InFlight:          fc.inFlight.Load(),
		InFlightBytes:     fc.inFlightBytes.Load(),
		Rejected:          fc.rejected.Get(),
		Committed:         commit.Count(),
		WriteLatencyMean:  time.Duration(fc.writeLatency.Snapshot().Mean()),
		CommitLatencyMean: time.Duration(commit.Mean()),
		CommitLatencyP99:  time.Duration(commit.Percentile(0.99)),
	}
}

// --------------------------------------------------------------------------
// In-flight append
// --------------------------------------------------------------------------

// InFlightAppend is one admitted append. It releases its permit on the first
// call to OnCommit or Fail, later calls are ignored.
type InFlightAppend struct {
	fc       *FlowControl
	length   int64
	position atomic.Int64
	started  time.Time
	released atomic.Bool
}

// Start records the highest position of the append and starts the latency clock.
func (a *InFlightAppend) Start(highestPosition int64) {
	a.position.Store(highestPosition)
	a.started = time.Now()
}

// Position returns the highest position passed to Start.
func (a *InFlightAppend) Position() int64 {
	return a.position.Load()
}

// OnWrite records that the append was written by the storage.
func (a *InFlightAppend) OnWrite() {
	a.fc.writeLatency.Update(int64(time.Since(a.started)))
}

// OnCommit records that the append was committed and releases the permit.
func (a *InFlightAppend) OnCommit() {
	if a.release() {
		a.fc.commitLatency.Update(int64(time.Since(a.started)))
	}
}

// Fail releases the permit of an append that will never commit.
func (a *InFlightAppend) Fail() {
	a.release()
}

func (a *InFlightAppend) release() bool {
	if !a.released.CompareAndSwap(false, true) {
		return false
	}
	a.fc.inFlightBytes.Add(-a.length)
	a.fc.inFlight.Add(-1)
	return true
}
