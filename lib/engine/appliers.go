package engine

import (
	"github.com/ValentinKolb/dFlow/lib/db"
	"github.com/ValentinKolb/dFlow/lib/protocol"
	"github.com/ValentinKolb/dFlow/lib/state"
)

// Applier changes the state for one committed event. Appliers never reject,
// the command was validated before the event was written. Applying the same
// event twice leaves the state as applying it once.
type Applier interface {
	ApplyState(tx db.Tx, key int64, value []byte) error
}

// typedApplier decodes the event value before calling the function.
type typedApplier[V any] func(tx db.Tx, key int64, value V) error

func (f typedApplier[V]) ApplyState(tx db.Tx, key int64, raw []byte) error {
	var value V
	if err := protocol.DecodeValue(raw, &value); err != nil {
		return err
	}
	return f(tx, key, value)
}

type (
	roleApplier          = typedApplier[protocol.RoleRecord]
	userApplier          = typedApplier[protocol.UserRecord]
	authorizationApplier = typedApplier[protocol.AuthorizationRecord]
	tenantApplier        = typedApplier[protocol.TenantRecord]
	subscriptionApplier  = typedApplier[protocol.MessageSubscriptionRecord]
	distributionApplier  = typedApplier[protocol.CommandDistributionRecord]
)

func newAppliers(s *state.State) map[recordKind]Applier {
	return map[recordKind]Applier{

		// --------------------------------------------------------------------------
		// Roles
		// --------------------------------------------------------------------------

		{protocol.ValueTRole, protocol.IntentCreated}: roleApplier(func(tx db.Tx, _ int64, r protocol.RoleRecord) error {
			return s.Roles.Create(tx, r)
		}),
		{protocol.ValueTRole, protocol.IntentUpdated}: roleApplier(func(tx db.Tx, _ int64, r protocol.RoleRecord) error {
			return s.Roles.Update(tx, r)
		}),
		{protocol.ValueTRole, protocol.IntentDeleted}: roleApplier(func(tx db.Tx, _ int64, r protocol.RoleRecord) error {
			members, err := s.Roles.Delete(tx, r.RoleKey)
			if err != nil {
				return err
			}
			for _, m := range members {
				if m.EntityType != protocol.EntityTUser {
					continue
				}
				if err := s.Users.RemoveRole(tx, m.EntityKey, r.RoleKey); err != nil {
					return err
				}
			}
			return s.Authorizations.DeleteForOwner(tx, r.RoleKey)
		}),
		{protocol.ValueTRole, protocol.IntentEntityAdded}: roleApplier(func(tx db.Tx, _ int64, r protocol.RoleRecord) error {
			if err := s.Roles.AddEntity(tx, r.RoleKey, r.EntityKey, r.EntityType); err != nil {
				return err
			}
			if r.EntityType == protocol.EntityTUser {
				return s.Users.AddRole(tx, r.EntityKey, r.RoleKey)
			}
			return nil
		}),
		{protocol.ValueTRole, protocol.IntentEntityRemoved}: roleApplier(func(tx db.Tx, _ int64, r protocol.RoleRecord) error {
			if err := s.Roles.RemoveEntity(tx, r.RoleKey, r.EntityKey); err != nil {
				return err
			}
			if r.EntityType == protocol.EntityTUser {
				return s.Users.RemoveRole(tx, r.EntityKey, r.RoleKey)
			}
			return nil
		}),

		// --------------------------------------------------------------------------
		// Users
		// --------------------------------------------------------------------------

		{protocol.ValueTUser, protocol.IntentCreated}: userApplier(func(tx db.Tx, _ int64, u protocol.UserRecord) error {
			return s.Users.Create(tx, u)
		}),
		{protocol.ValueTUser, protocol.IntentDeleted}: userApplier(func(tx db.Tx, _ int64, u protocol.UserRecord) error {
			user, ok, err := s.Users.Delete(tx, u.UserKey)
			if err != nil || !ok {
				return err
			}
			for _, roleKey := range user.RoleKeys {
				if err := s.Roles.RemoveEntity(tx, roleKey, user.UserKey); err != nil {
					return err
				}
			}
			for _, tenantID := range user.TenantIDs {
				tenantKey, ok, err := s.Tenants.GetKeyByID(tx, tenantID)
				if err != nil {
					return err
				}
				if ok {
					if err := s.Tenants.RemoveEntity(tx, tenantKey, user.UserKey); err != nil {
						return err
					}
				}
			}
			return s.Authorizations.DeleteForOwner(tx, user.UserKey)
		}),

		// --------------------------------------------------------------------------
		// Authorizations
		// --------------------------------------------------------------------------

		{protocol.ValueTAuthorization, protocol.IntentCreated}: authorizationApplier(func(tx db.Tx, _ int64, a protocol.AuthorizationRecord) error {
			return s.Authorizations.Create(tx, a)
		}),
		{protocol.ValueTAuthorization, protocol.IntentDeleted}: authorizationApplier(func(tx db.Tx, _ int64, a protocol.AuthorizationRecord) error {
			return s.Authorizations.Delete(tx, a.AuthorizationKey)
		}),

		// --------------------------------------------------------------------------
		// Tenants
		// --------------------------------------------------------------------------

		{protocol.ValueTTenant, protocol.IntentCreated}: tenantApplier(func(tx db.Tx, _ int64, t protocol.TenantRecord) error {
			return s.Tenants.Create(tx, t)
		}),
		{protocol.ValueTTenant, protocol.IntentEntityAdded}: tenantApplier(func(tx db.Tx, _ int64, t protocol.TenantRecord) error {
			if err := s.Tenants.AddEntity(tx, t.TenantKey, t.EntityKey, t.EntityType); err != nil {
				return err
			}
			if t.EntityType == protocol.EntityTUser {
				return s.Users.AddTenant(tx, t.EntityKey, t.TenantID)
			}
			return nil
		}),

		// --------------------------------------------------------------------------
		// Message subscriptions
		// --------------------------------------------------------------------------

		{protocol.ValueTMessageSubscription, protocol.IntentCreated}: subscriptionApplier(func(tx db.Tx, key int64, m protocol.MessageSubscriptionRecord) error {
			return s.MessageSubscriptions.Put(tx, key, m)
		}),
		{protocol.ValueTMessageSubscription, protocol.IntentCorrelated}: subscriptionApplier(func(tx db.Tx, _ int64, m protocol.MessageSubscriptionRecord) error {
			return s.MessageSubscriptions.Correlate(tx, m)
		}),
		{protocol.ValueTMessageSubscription, protocol.IntentDeleted}: subscriptionApplier(func(tx db.Tx, _ int64, m protocol.MessageSubscriptionRecord) error {
			return s.MessageSubscriptions.Delete(tx, m.ElementInstanceKey, m.MessageName)
		}),

		// --------------------------------------------------------------------------
		// Command distribution
		// --------------------------------------------------------------------------

		{protocol.ValueTCommandDistribution, protocol.IntentStarted}: distributionApplier(func(tx db.Tx, key int64, d protocol.CommandDistributionRecord) error {
			return s.Distributions.Add(tx, key, d)
		}),
		{protocol.ValueTCommandDistribution, protocol.IntentDistributing}: distributionApplier(func(tx db.Tx, key int64, d protocol.CommandDistributionRecord) error {
			return s.Distributions.AddPending(tx, key, d.PartitionID)
		}),
		{protocol.ValueTCommandDistribution, protocol.IntentAcknowledged}: distributionApplier(func(tx db.Tx, key int64, d protocol.CommandDistributionRecord) error {
			return s.Distributions.RemovePending(tx, key, d.PartitionID)
		}),
		{protocol.ValueTCommandDistribution, protocol.IntentFinished}: distributionApplier(func(tx db.Tx, key int64, _ protocol.CommandDistributionRecord) error {
			return s.Distributions.Remove(tx, key)
		}),
	}
}
