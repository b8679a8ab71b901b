package state

import (
	"github.com/ValentinKolb/dFlow/lib/db"
	"github.com/ValentinKolb/dFlow/lib/protocol"
)

// Role is the persisted form of a role.
type Role struct {
	RoleKey int64  `codec:"roleKey"`
	Name    string `codec:"name"`
}

// Member is an entity assigned to a role or tenant.
type Member struct {
	EntityKey  int64               `codec:"entityKey"`
	EntityType protocol.EntityType `codec:"entityType"`
}

// RoleState stores roles, the name index and the role memberships.
type RoleState struct {
	roles    *db.Table[Role]
	byName   *db.Table[int64]
	entities *db.Table[Member]
}

func newRoleState() *RoleState {
	return &RoleState{
		roles:    db.NewTable[Role](cfRoles),
		byName:   db.NewTable[int64](cfRoleByName),
		entities: db.NewTable[Member](cfRoleEntities),
	}
}

// Get returns the role with the given key.
func (s *RoleState) Get(tx db.ReadTx, roleKey int64) (Role, bool, error) {
	return s.roles.Get(tx, db.LongKey(roleKey))
}

// GetKeyByName returns the key of the role with the given name.
func (s *RoleState) GetKeyByName(tx db.ReadTx, name string) (int64, bool, error) {
	return s.byName.Get(tx, db.StringKey(name))
}

// Create stores a role and its name.
func (s *RoleState) Create(tx db.Tx, record protocol.RoleRecord) error {
	if err := s.roles.Upsert(tx, Role{RoleKey: record.RoleKey, Name: record.Name}, db.LongKey(record.RoleKey)); err != nil {
		return err
	}
	return s.byName.Upsert(tx, record.RoleKey, db.StringKey(record.Name))
}

// Update renames a role. A missing role is created.
func (s *RoleState) Update(tx db.Tx, record protocol.RoleRecord) error {
	old, ok, err := s.Get(tx, record.RoleKey)
	if err != nil {
		return err
	}
	if ok && old.Name != record.Name {
		if err := s.byName.Delete(tx, db.StringKey(old.Name)); err != nil {
			return err
		}
	}
	return s.Create(tx, record)
}

// Delete removes a role with its name and memberships. It returns the members
// the role had, so the caller can update their reverse indices.
func (s *RoleState) Delete(tx db.Tx, roleKey int64) ([]Member, error) {
	role, ok, err := s.Get(tx, roleKey)
	if err != nil || !ok {
		return nil, err
	}

	members, err := s.Entities(tx, roleKey)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if err := s.entities.Delete(tx, db.LongKey(roleKey), db.LongKey(m.EntityKey)); err != nil {
			return nil, err
		}
	}

	if err := s.byName.Delete(tx, db.StringKey(role.Name)); err != nil {
		return nil, err
	}
	return members, s.roles.Delete(tx, db.LongKey(roleKey))
}

// AddEntity assigns an entity to a role. Adding an assigned entity again is a no-op.
func (s *RoleState) AddEntity(tx db.Tx, roleKey, entityKey int64, entityType protocol.EntityType) error {
	return s.entities.Upsert(tx, Member{EntityKey: entityKey, EntityType: entityType}, db.LongKey(roleKey), db.LongKey(entityKey))
}

// RemoveEntity removes an entity from a role.
func (s *RoleState) RemoveEntity(tx db.Tx, roleKey, entityKey int64) error {
	return s.entities.Delete(tx, db.LongKey(roleKey), db.LongKey(entityKey))
}

// HasEntity reports whether the entity is assigned to the role.
func (s *RoleState) HasEntity(tx db.ReadTx, roleKey, entityKey int64) bool {
	return s.entities.Exists(tx, db.LongKey(roleKey), db.LongKey(entityKey))
}

// Entities returns the members of a role ordered by entity key.
func (s *RoleState) Entities(tx db.ReadTx, roleKey int64) ([]Member, error) {
	var members []Member
	err := s.entities.ForEach(tx, func(_ []byte, m Member) bool {
		members = append(members, m)
		return true
	}, db.LongKey(roleKey))
	return members, err
}
