package util

import (
	"math"
	"sync"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

// Stats summarizes a set of values.
type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes the summary of values. The standard deviation is the
// population deviation.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	lo, hi, sum := values[0], values[0], 0.0
	for _, v := range values {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean := sum / float64(len(values))

	var squares float64
	for _, v := range values {
		squares += (v - mean) * (v - mean)
	}

	ratio := 1.0
	if hi > 0 {
		ratio = lo / hi
	}
	return Stats{
		StdDeviation: math.Sqrt(squares / float64(len(values))),
		Min:          lo,
		Max:          hi,
		Mean:         mean,
		MinMaxRatio:  ratio,
	}
}

// DistributionStats rates how evenly values, e.g. shard sizes, are spread.
type DistributionStats struct {
	Stats
	// DistributionQuality is 1 for a perfectly even spread and approaches 0
	// the more the values differ.
	DistributionQuality float64 `json:"distribution_quality"`
}

// NewDistributionStats rates the spread of sizes by their coefficient of
// variation and their min/max ratio.
func NewDistributionStats(sizes []float64) DistributionStats {
	stats := NewStats(sizes)
	var cv float64
	if stats.Mean > 0 {
		cv = stats.StdDeviation / stats.Mean
	}
	return DistributionStats{
		Stats:               stats,
		DistributionQuality: (1.0-math.Min(1.0, cv))*0.5 + stats.MinMaxRatio*0.5,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// sizeBoundaries are the upper bounds of the histogram buckets, from 16 bytes
// to 4 GiB in steps of four. Larger samples go into an overflow bucket.
var sizeBoundaries = []int{
	16, 64, 256, 1 << 10, 4 << 10, 16 << 10, 64 << 10, 256 << 10,
	1 << 20, 4 << 20, 16 << 20, 64 << 20, 256 << 20, 1 << 30, 4 << 30,
}

// SizeHistogram counts sizes in exponential buckets. It is safe for
// concurrent use.
type SizeHistogram struct {
	mu      sync.RWMutex
	buckets []int64
	count   int64
	sum     int64
}

// NewSizeHistogram creates an empty histogram.
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{buckets: make([]int64, len(sizeBoundaries)+1)}
}

// AddSample records one size.
func (h *SizeHistogram) AddSample(size int) {
	i := 0
	for i < len(sizeBoundaries) && size > sizeBoundaries[i] {
		i++
	}

	h.mu.Lock()
	h.buckets[i]++
	h.count++
	h.sum += int64(size)
	h.mu.Unlock()
}

// Count returns the number of samples.
func (h *SizeHistogram) Count() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// AverageSize returns the mean of all samples.
func (h *SizeHistogram) AverageSize() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// MedianEstimate estimates the median size.
func (h *SizeHistogram) MedianEstimate() int {
	return h.GetPercentileEstimate(50)
}

// GetPercentileEstimate estimates the given percentile by interpolating
// linearly inside the bucket the percentile falls into.
func (h *SizeHistogram) GetPercentileEstimate(percentile int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return 0
	}

	target := int64(math.Ceil(float64(h.count) * float64(percentile) / 100))
	var seen int64
	for i, n := range h.buckets {
		if n == 0 || seen+n < target {
			seen += n
			continue
		}
		lower := 0
		if i > 0 {
			lower = sizeBoundaries[i-1]
		}
		if i == len(sizeBoundaries) {
			return lower
		}
		upper := sizeBoundaries[i]
		return lower + int(float64(upper-lower)*float64(target-seen)/float64(n))
	}
	return sizeBoundaries[len(sizeBoundaries)-1]
}

// SizeDistribution returns the bucket boundaries and the share of samples in
// each bucket. The last share belongs to the overflow bucket.
func (h *SizeHistogram) SizeDistribution() ([]int, []float64) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	shares := make([]float64, len(h.buckets))
	if h.count > 0 {
		for i, n := range h.buckets {
			shares[i] = float64(n) / float64(h.count)
		}
	}
	return append([]int(nil), sizeBoundaries...), shares
}
