package client

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dFlow/lib/protocol"
	"github.com/ValentinKolb/dFlow/rpc/common"
	"github.com/ValentinKolb/dFlow/rpc/serializer"
	"github.com/ValentinKolb/dFlow/rpc/transport"
)

// PartitionClient submits commands to the partitions of a cluster.
//
// Thread-safety: all methods are thread-safe.
type PartitionClient struct {
	rpcClientAdapter
}

// NewPartitionClient connects the transport and creates a client. The
// username of the config is sent with every command.
func NewPartitionClient(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*PartitionClient, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}
	return &PartitionClient{
		rpcClientAdapter{
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

// Close closes the transport
func (c *PartitionClient) Close() error {
	return c.transport.Close()
}

// Submit writes a command to a partition and waits for its processing. The
// follow-up event is returned, a rejection is returned as the rejection
// record together with a *protocol.Rejection error.
func (c *PartitionClient) Submit(partitionID int32, command *protocol.Record) (*protocol.Record, error) {
	cmd := *command
	if cmd.Metadata.Username == "" {
		cmd.Metadata.Username = c.config.Username
	}

	resp, err := c.invoke(partitionID, common.NewSubmitRequest(&cmd))
	if err != nil {
		return nil, err
	}
	record, err := resp.Record()
	if err != nil {
		return nil, err
	}
	if record.IsRejection() {
		return record, &protocol.Rejection{Type: record.Metadata.RejectionType, Reason: record.Metadata.RejectionReason}
	}
	return record, nil
}

// Deliver hands a distributed command or an acknowledgement to a partition
func (c *PartitionClient) Deliver(partitionID int32, record *protocol.Record) error {
	_, err := c.invoke(partitionID, common.NewDeliverRequest(record))
	return err
}

// Status returns the state of a partition
func (c *PartitionClient) Status(partitionID int32) (common.PartitionStatus, error) {
	var status common.PartitionStatus
	resp, err := c.invoke(partitionID, common.NewStatusRequest())
	if err != nil {
		return status, err
	}
	if err := json.Unmarshal(resp.Meta, &status); err != nil {
		return status, fmt.Errorf("invalid status of partition %d: %w", partitionID, err)
	}
	return status, nil
}

// --------------------------------------------------------------------------
// Typed commands
// --------------------------------------------------------------------------

// submitValue encodes value into a command and submits it. The decoded value
// of the follow-up event is written into result if it is not nil.
func (c *PartitionClient) submitValue(partitionID int32, valueType protocol.ValueType, intent protocol.Intent, value, result interface{}) error {
	cmd, err := protocol.NewCommand(valueType, intent, -1, value)
	if err != nil {
		return err
	}
	event, err := c.Submit(partitionID, cmd)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return protocol.DecodeValue(event.Value, result)
}

// CreateRole creates a role and returns its key
func (c *PartitionClient) CreateRole(partitionID int32, name string) (int64, error) {
	var role protocol.RoleRecord
	err := c.submitValue(partitionID, protocol.ValueTRole, protocol.IntentCreate, &protocol.RoleRecord{Name: name}, &role)
	return role.RoleKey, err
}

// UpdateRole renames a role
func (c *PartitionClient) UpdateRole(partitionID int32, roleKey int64, name string) error {
	return c.submitValue(partitionID, protocol.ValueTRole, protocol.IntentUpdate, &protocol.RoleRecord{RoleKey: roleKey, Name: name}, nil)
}

// DeleteRole deletes a role
func (c *PartitionClient) DeleteRole(partitionID int32, roleKey int64) error {
	return c.submitValue(partitionID, protocol.ValueTRole, protocol.IntentDelete, &protocol.RoleRecord{RoleKey: roleKey}, nil)
}

// AddUserToRole assigns a user to a role
func (c *PartitionClient) AddUserToRole(partitionID int32, roleKey, userKey int64) error {
	return c.submitValue(partitionID, protocol.ValueTRole, protocol.IntentAddEntity,
		&protocol.RoleRecord{RoleKey: roleKey, EntityKey: userKey, EntityType: protocol.EntityTUser}, nil)
}

// RemoveUserFromRole removes a user from a role
func (c *PartitionClient) RemoveUserFromRole(partitionID int32, roleKey, userKey int64) error {
	return c.submitValue(partitionID, protocol.ValueTRole, protocol.IntentRemoveEntity,
		&protocol.RoleRecord{RoleKey: roleKey, EntityKey: userKey, EntityType: protocol.EntityTUser}, nil)
}

// CreateUser creates a user and returns its key
func (c *PartitionClient) CreateUser(partitionID int32, user protocol.UserRecord) (int64, error) {
	var created protocol.UserRecord
	err := c.submitValue(partitionID, protocol.ValueTUser, protocol.IntentCreate, &user, &created)
	return created.UserKey, err
}

// DeleteUser deletes a user
func (c *PartitionClient) DeleteUser(partitionID int32, userKey int64) error {
	return c.submitValue(partitionID, protocol.ValueTUser, protocol.IntentDelete, &protocol.UserRecord{UserKey: userKey}, nil)
}

// CreateAuthorization grants permissions and returns the key of the authorization
func (c *PartitionClient) CreateAuthorization(partitionID int32, auth protocol.AuthorizationRecord) (int64, error) {
	var created protocol.AuthorizationRecord
	err := c.submitValue(partitionID, protocol.ValueTAuthorization, protocol.IntentCreate, &auth, &created)
	return created.AuthorizationKey, err
}

// DeleteAuthorization revokes an authorization
func (c *PartitionClient) DeleteAuthorization(partitionID int32, authorizationKey int64) error {
	return c.submitValue(partitionID, protocol.ValueTAuthorization, protocol.IntentDelete,
		&protocol.AuthorizationRecord{AuthorizationKey: authorizationKey}, nil)
}

// CreateTenant creates a tenant and returns its key
func (c *PartitionClient) CreateTenant(partitionID int32, tenantID, name string) (int64, error) {
	var created protocol.TenantRecord
	err := c.submitValue(partitionID, protocol.ValueTTenant, protocol.IntentCreate,
		&protocol.TenantRecord{TenantID: tenantID, Name: name}, &created)
	return created.TenantKey, err
}

// AddUserToTenant assigns a user to a tenant
func (c *PartitionClient) AddUserToTenant(partitionID int32, tenantKey, userKey int64) error {
	return c.submitValue(partitionID, protocol.ValueTTenant, protocol.IntentAddEntity,
		&protocol.TenantRecord{TenantKey: tenantKey, EntityKey: userKey, EntityType: protocol.EntityTUser}, nil)
}

// OpenMessageSubscription creates a message subscription of an element instance
func (c *PartitionClient) OpenMessageSubscription(partitionID int32, sub protocol.MessageSubscriptionRecord) error {
	return c.submitValue(partitionID, protocol.ValueTMessageSubscription, protocol.IntentCreate, &sub, nil)
}

// CorrelateMessage correlates a message to a subscription
func (c *PartitionClient) CorrelateMessage(partitionID int32, sub protocol.MessageSubscriptionRecord) error {
	return c.submitValue(partitionID, protocol.ValueTMessageSubscription, protocol.IntentCorrelate, &sub, nil)
}

// CloseMessageSubscription deletes a message subscription
func (c *PartitionClient) CloseMessageSubscription(partitionID int32, elementInstanceKey int64, messageName string) error {
	return c.submitValue(partitionID, protocol.ValueTMessageSubscription, protocol.IntentDelete,
		&protocol.MessageSubscriptionRecord{ElementInstanceKey: elementInstanceKey, MessageName: messageName}, nil)
}
