package common

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dFlow/lib/protocol"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// A record travels as its key, position, serialized metadata and value.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Record fields, used for: Submit (request and response), Deliver (request)
	Key      int64  `json:"key,omitempty"`
	Position int64  `json:"position,omitempty"` // set on responses only
	Metadata []byte `json:"metadata,omitempty"` // serialized protocol.RecordMetadata
	Value    []byte `json:"value,omitempty"`

	// Response only fields
	Ok  bool   `json:"ok,omitempty"`  // Used for: Deliver and Status responses
	Err string `json:"err,omitempty"` // Empty if no error, otherwise contains the error message

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Used for: Status responses (json encoded PartitionStatus)
}

// Record converts the record fields of the message back into a record.
func (m *Message) Record() (*protocol.Record, error) {
	record := &protocol.Record{
		Key:      m.Key,
		Position: m.Position,
		Value:    m.Value,
	}
	if err := record.Metadata.Deserialize(m.Metadata); err != nil {
		return nil, fmt.Errorf("invalid record metadata: %w", err)
	}
	return record, nil
}

func newRecordMessage(msgType MessageType, record *protocol.Record) *Message {
	return &Message{
		MsgType:  msgType,
		Key:      record.Key,
		Position: record.Position,
		Metadata: record.Metadata.Serialize(),
		Value:    record.Value,
	}
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewSubmitRequest creates a new Submit request for a client command
func NewSubmitRequest(command *protocol.Record) *Message {
	return newRecordMessage(MsgTSubmit, command)
}

// NewSubmitResponse creates a new Submit response carrying the follow-up
// event or the rejection of the command
func NewSubmitResponse(response *protocol.Record, err error) *Message {
	if err != nil {
		return &Message{MsgType: MsgTSubmit, Err: err.Error()}
	}
	return newRecordMessage(MsgTSubmit, response)
}

// NewDeliverRequest creates a new Deliver request for a distributed command
// or an acknowledgement sent between partitions
func NewDeliverRequest(command *protocol.Record) *Message {
	return newRecordMessage(MsgTDeliver, command)
}

// NewDeliverResponse creates a new Deliver response
func NewDeliverResponse(err error) *Message {
	msg := &Message{
		MsgType: MsgTDeliver,
		Ok:      err == nil,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// PartitionStatus is the payload of a Status response.
type PartitionStatus struct {
	PartitionID       int32  `json:"partitionId"`
	Leader            bool   `json:"leader"`
	InFlightAppends   int64  `json:"inFlightAppends"`
	InFlightBytes     int64  `json:"inFlightBytes"`
	RejectedAppends   uint64 `json:"rejectedAppends"`
	CommittedAppends  int64  `json:"committedAppends"`
	CommitLatencyMean string `json:"commitLatencyMean"`

	// statistics of the state database
	StateType       string      `json:"stateType"`
	StatePersistent bool        `json:"statePersistent"`
	StateEntries    int         `json:"stateEntries"`
	StateSizeBytes  int         `json:"stateSizeBytes"`
	StateFeatures   []string    `json:"stateFeatures"`
	StateMetadata   interface{} `json:"stateMetadata,omitempty"`
}

// NewStatusRequest creates a new Status request
func NewStatusRequest() *Message {
	return &Message{MsgType: MsgTStatus}
}

// NewStatusResponse creates a new Status response
func NewStatusResponse(status PartitionStatus, err error) *Message {
	msg := &Message{
		MsgType: MsgTStatus,
		Ok:      status.Leader,
	}
	if err != nil {
		msg.Err = err.Error()
		return msg
	}
	meta, err := json.Marshal(status)
	if err != nil {
		msg.Err = err.Error()
		return msg
	}
	msg.Meta = meta
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTSubmit:
		return "submit"
	case MsgTDeliver:
		return "deliver"
	case MsgTStatus:
		return "status"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "submit":
		*t = MsgTSubmit
	case "deliver":
		*t = MsgTDeliver
	case "status":
		*t = MsgTStatus
	case "error":
		*t = MsgTError
	case "success":
		*t = MsgTSuccess
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Partition operations

	MsgTSubmit  // Submit a client command and wait for its response
	MsgTDeliver // Deliver a command from another partition
	MsgTStatus  // Report the state of a partition
)
