// Package util contains the helpers shared by the database engines and the
// partition runtime:
//
//   - statistics: summary statistics and a SizeHistogram used for engine info
//   - functions: the seeded shard hash
//   - mapheap: a min-heap with key access, used to schedule redeliveries by deadline
//   - lockfreempsc: an unbounded lock-free multi-producer single-consumer queue
package util
