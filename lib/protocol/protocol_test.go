package protocol

import (
	"bytes"
	"testing"
)

// TestMetadataSizeBytes tests the SizeBytes method
func TestMetadataSizeBytes(t *testing.T) {
	tests := []struct {
		name     string
		metadata RecordMetadata
		expected int
	}{
		{
			name:     "Empty metadata",
			metadata: RecordMetadata{},
			expected: metadataFixedSize,
		},
		{
			name: "Metadata with username and reason",
			metadata: RecordMetadata{
				Username:        "alice",
				RejectionReason: "nope",
			},
			expected: metadataFixedSize + 5 + 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if size := tt.metadata.SizeBytes(); size != tt.expected {
				t.Errorf("SizeBytes() = %v, want %v", size, tt.expected)
			}
		})
	}
}

// TestMetadataSerializeDeserialize tests both Serialize and Deserialize methods
func TestMetadataSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name     string
		metadata RecordMetadata
	}{
		{
			name: "Command with request",
			metadata: RecordMetadata{
				RecordType:      RecordTCommand,
				ValueType:       ValueTRole,
				Intent:          IntentCreate,
				RequestStreamID: 7,
				RequestID:       1 << 40,
				Username:        "admin",
			},
		},
		{
			name: "Rejection",
			metadata: RecordMetadata{
				RecordType:      RecordTCommandRejection,
				ValueType:       ValueTAuthorization,
				Intent:          IntentCreate,
				RejectionType:   RejectionTAlreadyExists,
				RejectionReason: "Expected to create authorization with owner key: 1, but an authorization with these values already exists",
			},
		},
		{
			name: "Distributed command",
			metadata: RecordMetadata{
				RecordType:        RecordTCommand,
				ValueType:         ValueTUser,
				Intent:            IntentCreate,
				OriginPartitionID: 3,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.metadata.Serialize()
			if len(data) != tt.metadata.SizeBytes() {
				t.Fatalf("Serialize() length = %v, want %v", len(data), tt.metadata.SizeBytes())
			}

			var decoded RecordMetadata
			if err := decoded.Deserialize(data); err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}
			if decoded != tt.metadata {
				t.Errorf("Deserialize() = %+v, want %+v", decoded, tt.metadata)
			}

			rt, vt, intent, ok := PeekTypes(data)
			if !ok || rt != tt.metadata.RecordType || vt != tt.metadata.ValueType || intent != tt.metadata.Intent {
				t.Errorf("PeekTypes() = %v %v %v %v, want %v %v %v", rt, vt, intent, ok,
					tt.metadata.RecordType, tt.metadata.ValueType, tt.metadata.Intent)
			}
		})
	}
}

// TestMetadataDeserializeErrors tests truncated input
func TestMetadataDeserializeErrors(t *testing.T) {
	full := (&RecordMetadata{Username: "alice", RejectionReason: "reason"}).Serialize()

	tests := []struct {
		name string
		data []byte
	}{
		{"Empty", nil},
		{"Short fixed part", full[:10]},
		{"Truncated username", full[:metadataFixedSize]},
		{"Truncated reason", full[:len(full)-1]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m RecordMetadata
			if err := m.Deserialize(tt.data); err == nil {
				t.Errorf("Deserialize() expected error for %d bytes", len(tt.data))
			}
		})
	}
}

// TestPartitionKeys tests that keys carry the partition they were generated on
func TestPartitionKeys(t *testing.T) {
	tests := []struct {
		partition int32
		counter   int64
	}{
		{1, 1},
		{2, 12345},
		{MaxPartitions, 1<<KeyBits - 1},
	}

	for _, tt := range tests {
		key := EncodePartitionID(tt.partition, tt.counter)
		if got := DecodePartitionID(key); got != tt.partition {
			t.Errorf("DecodePartitionID(%d) = %v, want %v", key, got, tt.partition)
		}
		if got := key & keyMask; got != tt.counter {
			t.Errorf("counter of %d = %v, want %v", key, got, tt.counter)
		}
	}
}

// TestValueCodec tests that values survive the msgpack codec
func TestValueCodec(t *testing.T) {
	in := AuthorizationRecord{
		AuthorizationKey: EncodePartitionID(1, 5),
		OwnerKey:         EncodePartitionID(1, 2),
		OwnerType:        OwnerTUser,
		ResourceType:     ResourceTRole,
		ResourceID:       WildcardResourceID,
		Permissions:      []PermissionType{PermissionTCreate, PermissionTDelete},
	}

	data, err := EncodeValue(&in)
	if err != nil {
		t.Fatalf("EncodeValue() error = %v", err)
	}

	var out AuthorizationRecord
	if err := DecodeValue(data, &out); err != nil {
		t.Fatalf("DecodeValue() error = %v", err)
	}
	if out.OwnerKey != in.OwnerKey || out.ResourceType != in.ResourceType || out.ResourceID != in.ResourceID {
		t.Errorf("DecodeValue() = %+v, want %+v", out, in)
	}
	if len(out.Permissions) != 2 || out.Permissions[1] != PermissionTDelete {
		t.Errorf("DecodeValue() permissions = %v, want %v", out.Permissions, in.Permissions)
	}

	again, _ := EncodeValue(&out)
	if !bytes.Equal(data, again) {
		t.Errorf("EncodeValue() is not stable: %x != %x", data, again)
	}
}
