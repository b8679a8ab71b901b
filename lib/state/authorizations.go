package state

import (
	"github.com/ValentinKolb/dFlow/lib/db"
	"github.com/ValentinKolb/dFlow/lib/protocol"
)

// Authorization is the persisted form of an authorization.
type Authorization struct {
	AuthorizationKey int64                     `codec:"authorizationKey"`
	OwnerKey         int64                     `codec:"ownerKey"`
	OwnerType        protocol.OwnerType        `codec:"ownerType"`
	ResourceType     protocol.ResourceType     `codec:"resourceType"`
	ResourceID       string                    `codec:"resourceId"`
	Permissions      []protocol.PermissionType `codec:"permissions"`
}

// Allows reports whether the authorization grants permission on the resource.
func (a Authorization) Allows(resourceType protocol.ResourceType, permission protocol.PermissionType, resourceIDs ...string) bool {
	if a.ResourceType != resourceType {
		return false
	}
	granted := false
	for _, p := range a.Permissions {
		if p == permission {
			granted = true
			break
		}
	}
	if !granted {
		return false
	}
	if a.ResourceID == protocol.WildcardResourceID {
		return true
	}
	for _, id := range resourceIDs {
		if id == a.ResourceID {
			return true
		}
	}
	return false
}

// AuthorizationState stores authorizations and an index by owner.
type AuthorizationState struct {
	authorizations *db.Table[Authorization]
	byOwner        *db.Table[int64]
}

func newAuthorizationState() *AuthorizationState {
	return &AuthorizationState{
		authorizations: db.NewTable[Authorization](cfAuthorizations),
		byOwner:        db.NewTable[int64](cfAuthorizationsByOwner),
	}
}

// Get returns the authorization with the given key.
func (s *AuthorizationState) Get(tx db.ReadTx, authorizationKey int64) (Authorization, bool, error) {
	return s.authorizations.Get(tx, db.LongKey(authorizationKey))
}

// Create stores an authorization.
func (s *AuthorizationState) Create(tx db.Tx, record protocol.AuthorizationRecord) error {
	auth := Authorization{
		AuthorizationKey: record.AuthorizationKey,
		OwnerKey:         record.OwnerKey,
		OwnerType:        record.OwnerType,
		ResourceType:     record.ResourceType,
		ResourceID:       record.ResourceID,
		Permissions:      record.Permissions,
	}
	if err := s.authorizations.Upsert(tx, auth, db.LongKey(auth.AuthorizationKey)); err != nil {
		return err
	}
	return s.byOwner.Upsert(tx, auth.AuthorizationKey, db.LongKey(auth.OwnerKey), db.LongKey(auth.AuthorizationKey))
}

// Delete removes an authorization.
func (s *AuthorizationState) Delete(tx db.Tx, authorizationKey int64) error {
	auth, ok, err := s.Get(tx, authorizationKey)
	if err != nil || !ok {
		return err
	}
	if err := s.byOwner.Delete(tx, db.LongKey(auth.OwnerKey), db.LongKey(authorizationKey)); err != nil {
		return err
	}
	return s.authorizations.Delete(tx, db.LongKey(authorizationKey))
}

// ForOwner returns the authorizations of an owner ordered by key.
func (s *AuthorizationState) ForOwner(tx db.ReadTx, ownerKey int64) ([]Authorization, error) {
	var keys []int64
	if err := s.byOwner.ForEach(tx, func(_ []byte, key int64) bool {
		keys = append(keys, key)
		return true
	}, db.LongKey(ownerKey)); err != nil {
		return nil, err
	}

	auths := make([]Authorization, 0, len(keys))
	for _, key := range keys {
		auth, ok, err := s.Get(tx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			auths = append(auths, auth)
		}
	}
	return auths, nil
}

// DeleteForOwner removes all authorizations of an owner.
func (s *AuthorizationState) DeleteForOwner(tx db.Tx, ownerKey int64) error {
	auths, err := s.ForOwner(tx, ownerKey)
	if err != nil {
		return err
	}
	for _, auth := range auths {
		if err := s.Delete(tx, auth.AuthorizationKey); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether the owner already holds an authorization for the resource.
func (s *AuthorizationState) Exists(tx db.ReadTx, ownerKey int64, resourceType protocol.ResourceType, resourceID string) (bool, error) {
	auths, err := s.ForOwner(tx, ownerKey)
	if err != nil {
		return false, err
	}
	for _, auth := range auths {
		if auth.ResourceType == resourceType && auth.ResourceID == resourceID {
			return true, nil
		}
	}
	return false, nil
}
