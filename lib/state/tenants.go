package state

import (
	"github.com/ValentinKolb/dFlow/lib/db"
	"github.com/ValentinKolb/dFlow/lib/protocol"
)

// Tenant is the persisted form of a tenant.
type Tenant struct {
	TenantKey int64  `codec:"tenantKey"`
	TenantID  string `codec:"tenantId"`
	Name      string `codec:"name"`
}

// TenantState stores tenants, the tenant id index and tenant memberships.
type TenantState struct {
	tenants  *db.Table[Tenant]
	byID     *db.Table[int64]
	entities *db.Table[Member]
}

func newTenantState() *TenantState {
	return &TenantState{
		tenants:  db.NewTable[Tenant](cfTenants),
		byID:     db.NewTable[int64](cfTenantByID),
		entities: db.NewTable[Member](cfTenantEntities),
	}
}

// Get returns the tenant with the given key.
func (s *TenantState) Get(tx db.ReadTx, tenantKey int64) (Tenant, bool, error) {
	return s.tenants.Get(tx, db.LongKey(tenantKey))
}

// GetKeyByID returns the key of the tenant with the given tenant id.
func (s *TenantState) GetKeyByID(tx db.ReadTx, tenantID string) (int64, bool, error) {
	return s.byID.Get(tx, db.StringKey(tenantID))
}

// Create stores a tenant.
func (s *TenantState) Create(tx db.Tx, record protocol.TenantRecord) error {
	tenant := Tenant{TenantKey: record.TenantKey, TenantID: record.TenantID, Name: record.Name}
	if err := s.tenants.Upsert(tx, tenant, db.LongKey(record.TenantKey)); err != nil {
		return err
	}
	return s.byID.Upsert(tx, record.TenantKey, db.StringKey(record.TenantID))
}

// AddEntity assigns an entity to a tenant.
func (s *TenantState) AddEntity(tx db.Tx, tenantKey, entityKey int64, entityType protocol.EntityType) error {
	return s.entities.Upsert(tx, Member{EntityKey: entityKey, EntityType: entityType}, db.LongKey(tenantKey), db.LongKey(entityKey))
}

// RemoveEntity removes an entity from a tenant.
func (s *TenantState) RemoveEntity(tx db.Tx, tenantKey, entityKey int64) error {
	return s.entities.Delete(tx, db.LongKey(tenantKey), db.LongKey(entityKey))
}

// HasEntity reports whether the entity is assigned to the tenant.
func (s *TenantState) HasEntity(tx db.ReadTx, tenantKey, entityKey int64) bool {
	return s.entities.Exists(tx, db.LongKey(tenantKey), db.LongKey(entityKey))
}

// Entities returns the members of a tenant ordered by entity key.
func (s *TenantState) Entities(tx db.ReadTx, tenantKey int64) ([]Member, error) {
	var members []Member
	err := s.entities.ForEach(tx, func(_ []byte, m Member) bool {
		members = append(members, m)
		return true
	}, db.LongKey(tenantKey))
	return members, err
}
