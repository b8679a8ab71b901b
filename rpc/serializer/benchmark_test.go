package serializer

import (
	"testing"

	"github.com/ValentinKolb/dFlow/lib/protocol"
	"github.com/ValentinKolb/dFlow/rpc/common"
)

func benchmarkRecord(valueSize int) *protocol.Record {
	return &protocol.Record{
		Key:      protocol.EncodePartitionID(3, 1234),
		Position: 987654,
		Metadata: protocol.RecordMetadata{
			RecordType: protocol.RecordTCommand,
			ValueType:  protocol.ValueTMessageSubscription,
			Intent:     protocol.IntentCorrelate,
			Username:   "benchmark",
		},
		Value: make([]byte, valueSize),
	}
}

// benchmarkMessages returns a set of messages for targeted benchmarking
func benchmarkMessages() map[string]common.Message {
	return map[string]common.Message{
		"Empty":        {MsgType: common.MsgTSuccess},
		"Status":       *common.NewStatusRequest(),
		"DeliverAck":   *common.NewDeliverResponse(nil),
		"SmallRecord":  *common.NewSubmitRequest(benchmarkRecord(16)),
		"MediumRecord": *common.NewSubmitRequest(benchmarkRecord(256)),
		"LargeRecord":  *common.NewDeliverRequest(benchmarkRecord(1024)),     // 1KB of data
		"HugeRecord":   *common.NewDeliverRequest(benchmarkRecord(1024 * 16)), // 16KB of data
		"StatusResponse": *common.NewStatusResponse(common.PartitionStatus{
			PartitionID:       1,
			Leader:            true,
			InFlightAppends:   12,
			InFlightBytes:     4096,
			CommittedAppends:  100000,
			CommitLatencyMean: "1.2ms",
		}, nil),
		"ErrorMessage": {
			MsgType: common.MsgTError,
			Err:     "Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore et dolore magna aliqua.",
		},
	}
}

// BenchmarkSerialize benchmarks serialization for all implementations with various message types
func BenchmarkSerialize(b *testing.B) {
	messages := benchmarkMessages()

	for name, factory := range testSerializers {
		for msgName, msg := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				serializer := factory()
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					if _, err := serializer.Serialize(msg); err != nil {
						b.Fatalf("Failed to serialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkDeserialize benchmarks deserialization for all implementations with various message types
func BenchmarkDeserialize(b *testing.B) {
	messages := benchmarkMessages()

	for name, factory := range testSerializers {
		for msgName, msg := range messages {
			serializer := factory()
			data, err := serializer.Serialize(msg)
			if err != nil {
				b.Fatalf("Failed to serialize %s with %s: %v", msgName, name, err)
			}

			b.Run(name+"_"+msgName, func(b *testing.B) {
				b.ReportMetric(float64(len(data)), "bytes")
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					var msg common.Message
					if err := serializer.Deserialize(data, &msg); err != nil {
						b.Fatalf("Failed to deserialize: %v", err)
					}
				}
			})
		}
	}
}
