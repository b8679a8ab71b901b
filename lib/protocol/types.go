package protocol

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Record Type
// --------------------------------------------------------------------------

// RecordType distinguishes commands, events and rejections in the log.
type RecordType uint8

const (
	RecordTNull RecordType = iota
	RecordTCommand
	RecordTEvent
	RecordTCommandRejection
)

func (rt RecordType) String() string {
	switch rt {
	case RecordTCommand:
		return "COMMAND"
	case RecordTEvent:
		return "EVENT"
	case RecordTCommandRejection:
		return "COMMAND_REJECTION"
	case RecordTNull:
		return "NULL"
	default:
		return fmt.Sprintf("Unknown(%d)", rt)
	}
}

// --------------------------------------------------------------------------
// Value Type
// --------------------------------------------------------------------------

// ValueType identifies the kind of value carried by a record.
type ValueType uint8

const (
	ValueTNull ValueType = iota
	ValueTRole
	ValueTUser
	ValueTAuthorization
	ValueTTenant
	ValueTMessageSubscription
	ValueTCommandDistribution
)

// valueTypeNames is used for String and for parsing names back, e.g. from the CLI
var valueTypeNames = map[ValueType]string{
	ValueTNull:                "NULL",
	ValueTRole:                "ROLE",
	ValueTUser:                "USER",
	ValueTAuthorization:       "AUTHORIZATION",
	ValueTTenant:              "TENANT",
	ValueTMessageSubscription: "MESSAGE_SUBSCRIPTION",
	ValueTCommandDistribution: "COMMAND_DISTRIBUTION",
}

func (vt ValueType) String() string {
	if name, ok := valueTypeNames[vt]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", vt)
}

// MarshalJSON implements the json.Marshaler interface
func (vt ValueType) MarshalJSON() ([]byte, error) {
	return json.Marshal(vt.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (vt *ValueType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for k, v := range valueTypeNames {
		if v == s {
			*vt = k
			return nil
		}
	}
	return fmt.Errorf("unknown value type: %s", s)
}

// --------------------------------------------------------------------------
// Intent
// --------------------------------------------------------------------------

// Intent is the operation a record expresses. Intents are shared between value
// types, a handler is always selected by the (ValueType, Intent) pair.
type Intent uint8

const (
	IntentNull Intent = iota

	// commands
	IntentCreate
	IntentUpdate
	IntentDelete
	IntentAddEntity
	IntentRemoveEntity
	IntentCorrelate
	IntentAcknowledge

	// events
	IntentCreated
	IntentUpdated
	IntentDeleted
	IntentEntityAdded
	IntentEntityRemoved
	IntentCorrelated
	IntentStarted
	IntentDistributing
	IntentAcknowledged
	IntentFinished
)

var intentNames = map[Intent]string{
	IntentNull:          "NULL",
	IntentCreate:        "CREATE",
	IntentUpdate:        "UPDATE",
	IntentDelete:        "DELETE",
	IntentAddEntity:     "ADD_ENTITY",
	IntentRemoveEntity:  "REMOVE_ENTITY",
	IntentCorrelate:     "CORRELATE",
	IntentAcknowledge:   "ACKNOWLEDGE",
	IntentCreated:       "CREATED",
	IntentUpdated:       "UPDATED",
	IntentDeleted:       "DELETED",
	IntentEntityAdded:   "ENTITY_ADDED",
	IntentEntityRemoved: "ENTITY_REMOVED",
	IntentCorrelated:    "CORRELATED",
	IntentStarted:       "STARTED",
	IntentDistributing:  "DISTRIBUTING",
	IntentAcknowledged:  "ACKNOWLEDGED",
	IntentFinished:      "FINISHED",
}

func (i Intent) String() string {
	if name, ok := intentNames[i]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", i)
}

// IsEvent reports whether the intent describes something that already happened.
func (i Intent) IsEvent() bool {
	return i >= IntentCreated
}

// MarshalJSON implements the json.Marshaler interface
func (i Intent) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (i *Intent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for k, v := range intentNames {
		if v == s {
			*i = k
			return nil
		}
	}
	return fmt.Errorf("unknown intent: %s", s)
}

// --------------------------------------------------------------------------
// Rejection Type
// --------------------------------------------------------------------------

// RejectionType classifies why a command was rejected.
type RejectionType uint8

const (
	RejectionTNull RejectionType = iota
	RejectionTAlreadyExists
	RejectionTNotFound
	RejectionTInvalidState
	RejectionTForbidden
	RejectionTInvalidArgument
	RejectionTProcessingError
)

func (rt RejectionType) String() string {
	switch rt {
	case RejectionTNull:
		return "NULL_VAL"
	case RejectionTAlreadyExists:
		return "ALREADY_EXISTS"
	case RejectionTNotFound:
		return "NOT_FOUND"
	case RejectionTInvalidState:
		return "INVALID_STATE"
	case RejectionTForbidden:
		return "FORBIDDEN"
	case RejectionTInvalidArgument:
		return "INVALID_ARGUMENT"
	case RejectionTProcessingError:
		return "PROCESSING_ERROR"
	default:
		return fmt.Sprintf("Unknown(%d)", rt)
	}
}

// MarshalJSON implements the json.Marshaler interface
func (rt RejectionType) MarshalJSON() ([]byte, error) {
	return json.Marshal(rt.String())
}
