package protocol

import (
	"fmt"

	"github.com/hashicorp/go-msgpack/codec"
)

// --------------------------------------------------------------------------
// Value Codec
// --------------------------------------------------------------------------

// msgpackHandle is shared by all encoders and decoders, it is never modified after init.
var msgpackHandle = &codec.MsgpackHandle{}

// EncodeValue encodes a record value with msgpack.
func EncodeValue(v interface{}) ([]byte, error) {
	var buf []byte
	if err := codec.NewEncoderBytes(&buf, msgpackHandle).Encode(v); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return buf, nil
}

// DecodeValue decodes a msgpack encoded record value into v.
func DecodeValue(data []byte, v interface{}) error {
	if err := codec.NewDecoderBytes(data, msgpackHandle).Decode(v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Identity enums
// --------------------------------------------------------------------------

// EntityType is the kind of entity that can be a member of a role or tenant.
type EntityType uint8

const (
	EntityTUnspecified EntityType = iota
	EntityTUser
	EntityTMapping
)

func (e EntityType) String() string {
	switch e {
	case EntityTUser:
		return "USER"
	case EntityTMapping:
		return "MAPPING"
	default:
		return "UNSPECIFIED"
	}
}

// OwnerType is the kind of entity an authorization is granted to.
type OwnerType uint8

const (
	OwnerTUnspecified OwnerType = iota
	OwnerTUser
	OwnerTRole
)

func (o OwnerType) String() string {
	switch o {
	case OwnerTUser:
		return "USER"
	case OwnerTRole:
		return "ROLE"
	default:
		return "UNSPECIFIED"
	}
}

// ResourceType is the kind of resource an authorization applies to.
type ResourceType uint8

const (
	ResourceTUnspecified ResourceType = iota
	ResourceTAuthorization
	ResourceTRole
	ResourceTTenant
	ResourceTUser
	ResourceTMessage
)

func (r ResourceType) String() string {
	switch r {
	case ResourceTAuthorization:
		return "AUTHORIZATION"
	case ResourceTRole:
		return "ROLE"
	case ResourceTTenant:
		return "TENANT"
	case ResourceTUser:
		return "USER"
	case ResourceTMessage:
		return "MESSAGE"
	default:
		return "UNSPECIFIED"
	}
}

// PermissionType is an operation a permission allows.
type PermissionType uint8

const (
	PermissionTCreate PermissionType = iota + 1
	PermissionTRead
	PermissionTUpdate
	PermissionTDelete
)

func (p PermissionType) String() string {
	switch p {
	case PermissionTCreate:
		return "CREATE"
	case PermissionTRead:
		return "READ"
	case PermissionTUpdate:
		return "UPDATE"
	case PermissionTDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("Unknown(%d)", p)
	}
}

// WildcardResourceID grants a permission on every resource of a type.
const WildcardResourceID = "*"

// --------------------------------------------------------------------------
// Record Values
// --------------------------------------------------------------------------

// RoleRecord is the value of ROLE records.
type RoleRecord struct {
	RoleKey    int64      `codec:"roleKey"`
	Name       string     `codec:"name"`
	EntityKey  int64      `codec:"entityKey"`
	EntityType EntityType `codec:"entityType"`
}

// UserRecord is the value of USER records.
type UserRecord struct {
	UserKey  int64  `codec:"userKey"`
	Username string `codec:"username"`
	Name     string `codec:"name"`
	Email    string `codec:"email"`
	Password string `codec:"password"`
}

// AuthorizationRecord is the value of AUTHORIZATION records.
type AuthorizationRecord struct {
	AuthorizationKey int64            `codec:"authorizationKey"`
	OwnerKey         int64            `codec:"ownerKey"`
	OwnerType        OwnerType        `codec:"ownerType"`
	ResourceType     ResourceType     `codec:"resourceType"`
	ResourceID       string           `codec:"resourceId"`
	Permissions      []PermissionType `codec:"permissions"`
}

// TenantRecord is the value of TENANT records.
type TenantRecord struct {
	TenantKey  int64      `codec:"tenantKey"`
	TenantID   string     `codec:"tenantId"`
	Name       string     `codec:"name"`
	EntityKey  int64      `codec:"entityKey"`
	EntityType EntityType `codec:"entityType"`
}

// MessageSubscriptionRecord is the value of MESSAGE_SUBSCRIPTION records.
type MessageSubscriptionRecord struct {
	ElementInstanceKey int64  `codec:"elementInstanceKey"`
	MessageName        string `codec:"messageName"`
	CorrelationKey     string `codec:"correlationKey"`
	MessageKey         int64  `codec:"messageKey"`
	Interrupting       bool   `codec:"interrupting"`
	Variables          []byte `codec:"variables"`
}

// CommandDistributionRecord is the value of COMMAND_DISTRIBUTION records. It carries
// the distributed command so the origin partition can redeliver it after a restart.
type CommandDistributionRecord struct {
	PartitionID  int32     `codec:"partitionId"`
	QueueID      string    `codec:"queueId"`
	ValueType    ValueType `codec:"valueType"`
	Intent       Intent    `codec:"intent"`
	CommandValue []byte    `codec:"commandValue"`
}
