package serializer

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/dFlow/lib/protocol"
	"github.com/ValentinKolb/dFlow/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":    NewJSONSerializer,
	"GOB":     NewGOBSerializer,
	"Binary":  NewBinarySerializer,
	"Msgpack": NewMsgpackSerializer,
}

func testCommand() *protocol.Record {
	cmd, err := protocol.NewCommand(protocol.ValueTRole, protocol.IntentCreate, -1, &protocol.RoleRecord{Name: "admins"})
	if err != nil {
		panic(err)
	}
	cmd.Metadata.Username = "demo"
	return cmd
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	event := testCommand()
	event.Key = protocol.EncodePartitionID(2, 7)
	event.Position = 42
	event.Metadata.RecordType = protocol.RecordTEvent
	event.Metadata.Intent = protocol.IntentCreated

	status := common.NewStatusResponse(common.PartitionStatus{PartitionID: 1, Leader: true, InFlightAppends: 3}, nil)

	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		*common.NewSubmitRequest(testCommand()),
		*common.NewSubmitResponse(event, nil),
		*common.NewDeliverRequest(event),
		*common.NewDeliverResponse(nil),
		*common.NewStatusRequest(),
		*status,
		*common.NewErrorResponse("test error message"),

		// Message with all fields filled
		{
			MsgType:  common.MsgTSubmit,
			Key:      -1,
			Position: 1 << 40,
			Metadata: []byte("metadata"),
			Value:    []byte("value"),
			Ok:       true,
			Err:      "error",
			Meta:     []byte("meta"),
		},
	}
}

// equalMessages compares two messages, nil and empty byte slices are equal
func equalMessages(a, b common.Message) bool {
	return a.MsgType == b.MsgType &&
		a.Key == b.Key &&
		a.Position == b.Position &&
		bytes.Equal(a.Metadata, b.Metadata) &&
		bytes.Equal(a.Value, b.Value) &&
		a.Ok == b.Ok &&
		a.Err == b.Err &&
		bytes.Equal(a.Meta, b.Meta)
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				var result common.Message
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				if !equalMessages(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestRecordSurvivesTransport tests that a record can be rebuilt from a message
func TestRecordSurvivesTransport(t *testing.T) {
	cmd := testCommand()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()
			data, err := serializer.Serialize(*common.NewSubmitRequest(cmd))
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}
			var msg common.Message
			if err := serializer.Deserialize(data, &msg); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			record, err := msg.Record()
			if err != nil {
				t.Fatalf("Failed to rebuild the record: %v", err)
			}
			if record.Key != cmd.Key || record.Metadata != cmd.Metadata || !bytes.Equal(record.Value, cmd.Value) {
				t.Errorf("Record mismatch:\nExpected: %+v\nGot: %+v", cmd, record)
			}

			var role protocol.RoleRecord
			if err := protocol.DecodeValue(record.Value, &role); err != nil {
				t.Fatalf("Failed to decode the value: %v", err)
			}
			if role.Name != "admins" {
				t.Errorf("Expected role admins, got %q", role.Name)
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			// MsgTUnknown is not tested since json refuses it
			for msgType := common.MsgTSuccess; msgType <= common.MsgTStatus; msgType++ {
				msg := common.Message{MsgType: msgType}

				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType.String(), err)
					continue
				}

				var result common.Message
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType.String(), err)
					continue
				}

				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s",
						msgType.String(), result.MsgType.String())
				}
			}
		})
	}
}

// TestBinarySerializerSpecific tests specific edge cases for the binary serializer
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name string
		msg  common.Message
	}{
		{
			name: "Empty message",
			msg:  common.Message{},
		},
		{
			name: "Negative key",
			msg:  common.Message{MsgType: common.MsgTSubmit, Key: -1},
		},
		{
			name: "Empty value slice but not nil",
			msg:  common.Message{MsgType: common.MsgTDeliver, Value: []byte{}},
		},
		{
			name: "Empty meta slice but not nil",
			msg:  common.Message{MsgType: common.MsgTStatus, Meta: []byte{}, Ok: true},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := serializer.Serialize(tc.msg)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			var result common.Message
			if err := serializer.Deserialize(data, &result); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			if !equalMessages(tc.msg, result) {
				t.Errorf("Message mismatch:\nExpected: %+v\nGot: %+v", tc.msg, result)
			}
			if (tc.msg.Value == nil) != (result.Value == nil) {
				t.Errorf("Value nil/non-nil mismatch: expected %v, got %v", tc.msg.Value, result.Value)
			}
			if (tc.msg.Meta == nil) != (result.Meta == nil) {
				t.Errorf("Meta nil/non-nil mismatch: expected %v, got %v", tc.msg.Meta, result.Meta)
			}
		})
	}
}

// TestBinaryDeserializeResetsFields tests that a reused message does not keep old fields
func TestBinaryDeserializeResetsFields(t *testing.T) {
	serializer := NewBinarySerializer()
	data, err := serializer.Serialize(common.Message{MsgType: common.MsgTDeliver, Ok: true})
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}

	msg := common.Message{Key: 5, Position: 6, Value: []byte("old"), Err: "old"}
	if err := serializer.Deserialize(data, &msg); err != nil {
		t.Fatalf("Failed to deserialize: %v", err)
	}
	if msg.Key != 0 || msg.Position != 0 || msg.Value != nil || msg.Err != "" || !msg.Ok {
		t.Errorf("Unexpected message after reuse: %+v", msg)
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{1}, // Only message type, no flags
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{1, 0}, // Message type 1, no flags
			expectError: false,
		},
		{
			name:        "Truncated key",
			data:        []byte{3, hasKey, 0, 0, 0, 1}, // key needs 8 bytes
			expectError: true,
		},
		{
			name:        "Invalid length for value",
			data:        []byte{3, hasValue, 0, 0, 0, 10}, // Claims value length 10 but no bytes provided
			expectError: true,
		},
		{
			name:        "Missing error length",
			data:        []byte{1, hasErr, 0},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}
