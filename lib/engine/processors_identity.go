package engine

import (
	"strconv"

	"github.com/ValentinKolb/dFlow/lib/protocol"
	"github.com/ValentinKolb/dFlow/lib/state"
)

// processorDeps are the collaborators shared by all processors.
type processorDeps struct {
	state        *state.State
	keys         *state.KeyGenerator
	distribution *CommandDistributionBehavior
	auth         *AuthorizationCheckBehavior
}

// acceptAndDistribute appends the follow-up event, answers the client and
// distributes the command with its completed value.
func (d processorDeps) acceptAndDistribute(ctx *ProcessingContext, command *protocol.Record, key, distributionKey int64, intent protocol.Intent, value interface{}) error {
	event, err := ctx.Writers.AppendFollowUpEvent(key, command.Metadata.ValueType, intent, value)
	if err != nil {
		return err
	}
	ctx.Writers.WriteEventOnCommand(event)
	return d.distribution.WithKey(distributionKey).InQueue(queueIdentity).Distribute(ctx.Writers, command, value)
}

// applyDistributed appends the follow-up event of a distributed command and
// acknowledges it.
func (d processorDeps) applyDistributed(ctx *ProcessingContext, command *protocol.Record, key int64, intent protocol.Intent, value interface{}) error {
	if _, err := ctx.Writers.AppendFollowUpEvent(key, command.Metadata.ValueType, intent, value); err != nil {
		return err
	}
	return d.distribution.AcknowledgeCommand(ctx.Writers, command)
}

// queueIdentity is the distribution queue of all identity commands
const queueIdentity = "identity"

func keyString(key int64) string {
	return strconv.FormatInt(key, 10)
}

// --------------------------------------------------------------------------
// Roles
// --------------------------------------------------------------------------

type roleCreateProcessor struct{ processorDeps }

func (p *roleCreateProcessor) ProcessNewCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.RoleRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	if record.Name == "" {
		return protocol.NewRejection(protocol.RejectionTInvalidArgument, "Expected to create role with a non-empty name, but the name is empty")
	}
	if err := p.auth.Check(ctx.Tx, command, protocol.ResourceTRole, protocol.PermissionTCreate); err != nil {
		return err
	}
	if _, exists, err := p.state.Roles.GetKeyByName(ctx.Tx, record.Name); err != nil {
		return err
	} else if exists {
		return protocol.NewRejection(protocol.RejectionTAlreadyExists,
			"Expected to create role with name '%s', but a role with this name already exists", record.Name)
	}

	key := p.keys.NextKey()
	record.RoleKey = key
	return p.acceptAndDistribute(ctx, command, key, key, protocol.IntentCreated, record)
}

func (p *roleCreateProcessor) ProcessDistributedCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.RoleRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	return p.applyDistributed(ctx, command, record.RoleKey, protocol.IntentCreated, record)
}

type roleUpdateProcessor struct{ processorDeps }

func (p *roleUpdateProcessor) ProcessNewCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.RoleRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	if record.Name == "" {
		return protocol.NewRejection(protocol.RejectionTInvalidArgument, "Expected to update role with a non-empty name, but the name is empty")
	}
	if _, exists, err := p.state.Roles.Get(ctx.Tx, record.RoleKey); err != nil {
		return err
	} else if !exists {
		return protocol.NewRejection(protocol.RejectionTNotFound,
			"Expected to update role with key '%d', but a role with this key does not exist", record.RoleKey)
	}
	if err := p.auth.Check(ctx.Tx, command, protocol.ResourceTRole, protocol.PermissionTUpdate, keyString(record.RoleKey)); err != nil {
		return err
	}
	if other, exists, err := p.state.Roles.GetKeyByName(ctx.Tx, record.Name); err != nil {
		return err
	} else if exists && other != record.RoleKey {
		return protocol.NewRejection(protocol.RejectionTAlreadyExists,
			"Expected to update role with name '%s', but a role with this name already exists", record.Name)
	}

	return p.acceptAndDistribute(ctx, command, record.RoleKey, p.keys.NextKey(), protocol.IntentUpdated, record)
}

func (p *roleUpdateProcessor) ProcessDistributedCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.RoleRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	return p.applyDistributed(ctx, command, record.RoleKey, protocol.IntentUpdated, record)
}

type roleDeleteProcessor struct{ processorDeps }

func (p *roleDeleteProcessor) ProcessNewCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.RoleRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	role, exists, err := p.state.Roles.Get(ctx.Tx, record.RoleKey)
	if err != nil {
		return err
	}
	if !exists {
		return protocol.NewRejection(protocol.RejectionTNotFound,
			"Expected to delete role with key '%d', but a role with this key does not exist", record.RoleKey)
	}
	if err := p.auth.Check(ctx.Tx, command, protocol.ResourceTRole, protocol.PermissionTDelete, keyString(record.RoleKey)); err != nil {
		return err
	}

	record.Name = role.Name
	return p.acceptAndDistribute(ctx, command, record.RoleKey, p.keys.NextKey(), protocol.IntentDeleted, record)
}

func (p *roleDeleteProcessor) ProcessDistributedCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.RoleRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	return p.applyDistributed(ctx, command, record.RoleKey, protocol.IntentDeleted, record)
}

type roleAddEntityProcessor struct{ processorDeps }

func (p *roleAddEntityProcessor) ProcessNewCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.RoleRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	role, exists, err := p.state.Roles.Get(ctx.Tx, record.RoleKey)
	if err != nil {
		return err
	}
	if !exists {
		return protocol.NewRejection(protocol.RejectionTNotFound,
			"Expected to update role with key '%d', but a role with this key does not exist", record.RoleKey)
	}
	if err := p.auth.Check(ctx.Tx, command, protocol.ResourceTRole, protocol.PermissionTUpdate, keyString(record.RoleKey)); err != nil {
		return err
	}
	if record.EntityType != protocol.EntityTUser {
		return protocol.NewRejection(protocol.RejectionTInvalidArgument,
			"Expected to add an entity of type '%s' to role with key '%d', but only entities of type '%s' can be added",
			record.EntityType, record.RoleKey, protocol.EntityTUser)
	}
	if _, exists, err := p.state.Users.Get(ctx.Tx, record.EntityKey); err != nil {
		return err
	} else if !exists {
		return protocol.NewRejection(protocol.RejectionTNotFound,
			"Expected to add an entity with key '%d' and type '%s' to role with key '%d', but the entity doesn't exist.",
			record.EntityKey, record.EntityType, record.RoleKey)
	}
	if p.state.Roles.HasEntity(ctx.Tx, record.RoleKey, record.EntityKey) {
		return protocol.NewRejection(protocol.RejectionTAlreadyExists,
			"Expected to add entity with key '%d' to role with key '%d', but the entity is already assigned to this role.",
			record.EntityKey, record.RoleKey)
	}

	record.Name = role.Name
	return p.acceptAndDistribute(ctx, command, record.RoleKey, p.keys.NextKey(), protocol.IntentEntityAdded, record)
}

func (p *roleAddEntityProcessor) ProcessDistributedCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.RoleRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	return p.applyDistributed(ctx, command, record.RoleKey, protocol.IntentEntityAdded, record)
}

type roleRemoveEntityProcessor struct{ processorDeps }

func (p *roleRemoveEntityProcessor) ProcessNewCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.RoleRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	role, exists, err := p.state.Roles.Get(ctx.Tx, record.RoleKey)
	if err != nil {
		return err
	}
	if !exists {
		return protocol.NewRejection(protocol.RejectionTNotFound,
			"Expected to update role with key '%d', but a role with this key does not exist", record.RoleKey)
	}
	if err := p.auth.Check(ctx.Tx, command, protocol.ResourceTRole, protocol.PermissionTUpdate, keyString(record.RoleKey)); err != nil {
		return err
	}
	if !p.state.Roles.HasEntity(ctx.Tx, record.RoleKey, record.EntityKey) {
		return protocol.NewRejection(protocol.RejectionTNotFound,
			"Expected to remove an entity with key '%d' and type '%s' from role with key '%d', but the entity doesn't exist.",
			record.EntityKey, record.EntityType, record.RoleKey)
	}

	record.Name = role.Name
	return p.acceptAndDistribute(ctx, command, record.RoleKey, p.keys.NextKey(), protocol.IntentEntityRemoved, record)
}

func (p *roleRemoveEntityProcessor) ProcessDistributedCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.RoleRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	return p.applyDistributed(ctx, command, record.RoleKey, protocol.IntentEntityRemoved, record)
}

// --------------------------------------------------------------------------
// Users
// --------------------------------------------------------------------------

type userCreateProcessor struct{ processorDeps }

func (p *userCreateProcessor) ProcessNewCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.UserRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	if record.Username == "" {
		return protocol.NewRejection(protocol.RejectionTInvalidArgument, "Expected to create user with a non-empty username, but the username is empty")
	}
	if err := p.auth.Check(ctx.Tx, command, protocol.ResourceTUser, protocol.PermissionTCreate); err != nil {
		return err
	}
	if _, exists, err := p.state.Users.GetByUsername(ctx.Tx, record.Username); err != nil {
		return err
	} else if exists {
		return protocol.NewRejection(protocol.RejectionTAlreadyExists,
			"Expected to create user with username '%s', but a user with this username already exists", record.Username)
	}

	key := p.keys.NextKey()
	record.UserKey = key
	return p.acceptAndDistribute(ctx, command, key, key, protocol.IntentCreated, record)
}

func (p *userCreateProcessor) ProcessDistributedCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.UserRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	return p.applyDistributed(ctx, command, record.UserKey, protocol.IntentCreated, record)
}

type userDeleteProcessor struct{ processorDeps }

func (p *userDeleteProcessor) ProcessNewCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.UserRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	user, exists, err := p.state.Users.Get(ctx.Tx, record.UserKey)
	if err != nil {
		return err
	}
	if !exists {
		return protocol.NewRejection(protocol.RejectionTNotFound,
			"Expected to delete user with key %d, but a user with this key does not exist", record.UserKey)
	}
	if err := p.auth.Check(ctx.Tx, command, protocol.ResourceTUser, protocol.PermissionTDelete, keyString(record.UserKey)); err != nil {
		return err
	}

	record = protocol.UserRecord{UserKey: user.UserKey, Username: user.Username, Name: user.Name, Email: user.Email}
	return p.acceptAndDistribute(ctx, command, record.UserKey, p.keys.NextKey(), protocol.IntentDeleted, record)
}

func (p *userDeleteProcessor) ProcessDistributedCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.UserRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	return p.applyDistributed(ctx, command, record.UserKey, protocol.IntentDeleted, record)
}

// --------------------------------------------------------------------------
// Authorizations
// --------------------------------------------------------------------------

type authorizationCreateProcessor struct{ processorDeps }

func (p *authorizationCreateProcessor) ProcessNewCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.AuthorizationRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}

	switch {
	case record.OwnerType != protocol.OwnerTUser && record.OwnerType != protocol.OwnerTRole:
		return protocol.NewRejection(protocol.RejectionTInvalidArgument,
			"Expected to create authorization for an owner of type '%s' or '%s', but the owner type is '%s'",
			protocol.OwnerTUser, protocol.OwnerTRole, record.OwnerType)
	case record.ResourceType == protocol.ResourceTUnspecified:
		return protocol.NewRejection(protocol.RejectionTInvalidArgument, "Expected to create authorization with a resource type, but none was given")
	case record.ResourceID == "":
		return protocol.NewRejection(protocol.RejectionTInvalidArgument, "Expected to create authorization with a non-empty resource id, but the resource id is empty")
	case len(record.Permissions) == 0:
		return protocol.NewRejection(protocol.RejectionTInvalidArgument, "Expected to create authorization with at least one permission, but none were given")
	}

	if err := p.auth.Check(ctx.Tx, command, protocol.ResourceTAuthorization, protocol.PermissionTCreate); err != nil {
		return err
	}

	var ownerExists bool
	var err error
	if record.OwnerType == protocol.OwnerTUser {
		_, ownerExists, err = p.state.Users.Get(ctx.Tx, record.OwnerKey)
	} else {
		_, ownerExists, err = p.state.Roles.Get(ctx.Tx, record.OwnerKey)
	}
	if err != nil {
		return err
	}
	if !ownerExists {
		return protocol.NewRejection(protocol.RejectionTNotFound,
			"Expected to create authorization for owner with key '%d', but no %s with this key exists", record.OwnerKey, record.OwnerType)
	}

	if exists, err := p.state.Authorizations.Exists(ctx.Tx, record.OwnerKey, record.ResourceType, record.ResourceID); err != nil {
		return err
	} else if exists {
		return protocol.NewRejection(protocol.RejectionTAlreadyExists,
			"Expected to create authorization with owner key: %d, but an authorization with these values already exists", record.OwnerKey)
	}

	key := p.keys.NextKey()
	record.AuthorizationKey = key
	return p.acceptAndDistribute(ctx, command, key, key, protocol.IntentCreated, record)
}

func (p *authorizationCreateProcessor) ProcessDistributedCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.AuthorizationRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	return p.applyDistributed(ctx, command, record.AuthorizationKey, protocol.IntentCreated, record)
}

type authorizationDeleteProcessor struct{ processorDeps }

func (p *authorizationDeleteProcessor) ProcessNewCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.AuthorizationRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	auth, exists, err := p.state.Authorizations.Get(ctx.Tx, record.AuthorizationKey)
	if err != nil {
		return err
	}
	if !exists {
		return protocol.NewRejection(protocol.RejectionTNotFound,
			"Expected to delete authorization with key %d, but an authorization with this key does not exist", record.AuthorizationKey)
	}
	if err := p.auth.Check(ctx.Tx, command, protocol.ResourceTAuthorization, protocol.PermissionTDelete, keyString(record.AuthorizationKey)); err != nil {
		return err
	}

	record = protocol.AuthorizationRecord{
		AuthorizationKey: auth.AuthorizationKey,
		OwnerKey:         auth.OwnerKey,
		OwnerType:        auth.OwnerType,
		ResourceType:     auth.ResourceType,
		ResourceID:       auth.ResourceID,
		Permissions:      auth.Permissions,
	}
	return p.acceptAndDistribute(ctx, command, record.AuthorizationKey, p.keys.NextKey(), protocol.IntentDeleted, record)
}

func (p *authorizationDeleteProcessor) ProcessDistributedCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.AuthorizationRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	return p.applyDistributed(ctx, command, record.AuthorizationKey, protocol.IntentDeleted, record)
}

// --------------------------------------------------------------------------
// Tenants
// --------------------------------------------------------------------------

type tenantCreateProcessor struct{ processorDeps }

func (p *tenantCreateProcessor) ProcessNewCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.TenantRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	if record.TenantID == "" {
		return protocol.NewRejection(protocol.RejectionTInvalidArgument, "Expected to create tenant with a non-empty tenant id, but the tenant id is empty")
	}
	if err := p.auth.Check(ctx.Tx, command, protocol.ResourceTTenant, protocol.PermissionTCreate); err != nil {
		return err
	}
	if _, exists, err := p.state.Tenants.GetKeyByID(ctx.Tx, record.TenantID); err != nil {
		return err
	} else if exists {
		return protocol.NewRejection(protocol.RejectionTAlreadyExists,
			"Expected to create tenant with ID '%s', but a tenant with this ID already exists", record.TenantID)
	}

	key := p.keys.NextKey()
	record.TenantKey = key
	return p.acceptAndDistribute(ctx, command, key, key, protocol.IntentCreated, record)
}

func (p *tenantCreateProcessor) ProcessDistributedCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.TenantRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	return p.applyDistributed(ctx, command, record.TenantKey, protocol.IntentCreated, record)
}

type tenantAddEntityProcessor struct{ processorDeps }

func (p *tenantAddEntityProcessor) ProcessNewCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.TenantRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	tenant, exists, err := p.state.Tenants.Get(ctx.Tx, record.TenantKey)
	if err != nil {
		return err
	}
	if !exists {
		return protocol.NewRejection(protocol.RejectionTNotFound,
			"Expected to add entity to tenant with key '%d', but no tenant with this key exists.", record.TenantKey)
	}
	if err := p.auth.Check(ctx.Tx, command, protocol.ResourceTTenant, protocol.PermissionTUpdate, tenant.TenantID); err != nil {
		return err
	}
	if record.EntityType != protocol.EntityTUser {
		return protocol.NewRejection(protocol.RejectionTInvalidArgument,
			"Expected to add an entity of type '%s' to tenant '%s', but only entities of type '%s' can be added",
			record.EntityType, tenant.TenantID, protocol.EntityTUser)
	}
	if _, exists, err := p.state.Users.Get(ctx.Tx, record.EntityKey); err != nil {
		return err
	} else if !exists {
		return protocol.NewRejection(protocol.RejectionTNotFound,
			"Expected to add user '%d' to tenant '%s', but the user doesn't exist.", record.EntityKey, tenant.TenantID)
	}
	if p.state.Tenants.HasEntity(ctx.Tx, record.TenantKey, record.EntityKey) {
		return protocol.NewRejection(protocol.RejectionTAlreadyExists,
			"Expected to add user '%d' to tenant '%s', but the user is already assigned to the tenant.", record.EntityKey, tenant.TenantID)
	}

	record.TenantID = tenant.TenantID
	record.Name = tenant.Name
	return p.acceptAndDistribute(ctx, command, record.TenantKey, p.keys.NextKey(), protocol.IntentEntityAdded, record)
}

func (p *tenantAddEntityProcessor) ProcessDistributedCommand(ctx *ProcessingContext, command *protocol.Record) error {
	var record protocol.TenantRecord
	if err := protocol.DecodeValue(command.Value, &record); err != nil {
		return err
	}
	return p.applyDistributed(ctx, command, record.TenantKey, protocol.IntentEntityAdded, record)
}
