package state

import (
	"sort"

	"github.com/ValentinKolb/dFlow/lib/db"
	"github.com/ValentinKolb/dFlow/lib/protocol"
)

// User is the persisted form of a user. RoleKeys and TenantIDs are the reverse
// indices of role and tenant memberships, both kept sorted.
type User struct {
	UserKey   int64    `codec:"userKey"`
	Username  string   `codec:"username"`
	Name      string   `codec:"name"`
	Email     string   `codec:"email"`
	Password  string   `codec:"password"`
	RoleKeys  []int64  `codec:"roleKeys"`
	TenantIDs []string `codec:"tenantIds"`
}

// UserState stores users and the username index.
type UserState struct {
	users      *db.Table[User]
	byUsername *db.Table[int64]
}

func newUserState() *UserState {
	return &UserState{
		users:      db.NewTable[User](cfUsers),
		byUsername: db.NewTable[int64](cfUserByUsername),
	}
}

// Get returns the user with the given key.
func (s *UserState) Get(tx db.ReadTx, userKey int64) (User, bool, error) {
	return s.users.Get(tx, db.LongKey(userKey))
}

// GetByUsername returns the user with the given username.
func (s *UserState) GetByUsername(tx db.ReadTx, username string) (User, bool, error) {
	key, ok, err := s.byUsername.Get(tx, db.StringKey(username))
	if err != nil || !ok {
		return User{}, false, err
	}
	return s.Get(tx, key)
}

// Create stores a user. Role and tenant assignments of an existing user with
// the same key are kept.
func (s *UserState) Create(tx db.Tx, record protocol.UserRecord) error {
	user, _, err := s.Get(tx, record.UserKey)
	if err != nil {
		return err
	}
	user.UserKey = record.UserKey
	user.Username = record.Username
	user.Name = record.Name
	user.Email = record.Email
	user.Password = record.Password

	if err := s.users.Upsert(tx, user, db.LongKey(record.UserKey)); err != nil {
		return err
	}
	return s.byUsername.Upsert(tx, record.UserKey, db.StringKey(record.Username))
}

// Delete removes a user and returns the removed user.
func (s *UserState) Delete(tx db.Tx, userKey int64) (User, bool, error) {
	user, ok, err := s.Get(tx, userKey)
	if err != nil || !ok {
		return user, ok, err
	}
	if err := s.byUsername.Delete(tx, db.StringKey(user.Username)); err != nil {
		return user, true, err
	}
	return user, true, s.users.Delete(tx, db.LongKey(userKey))
}

// AddRole adds a role to the user's role list. Missing users are ignored.
func (s *UserState) AddRole(tx db.Tx, userKey, roleKey int64) error {
	return s.modify(tx, userKey, func(u *User) {
		u.RoleKeys = insertSorted(u.RoleKeys, roleKey)
	})
}

// RemoveRole removes a role from the user's role list.
func (s *UserState) RemoveRole(tx db.Tx, userKey, roleKey int64) error {
	return s.modify(tx, userKey, func(u *User) {
		u.RoleKeys = removeSorted(u.RoleKeys, roleKey)
	})
}

// AddTenant adds a tenant id to the user's tenant list.
func (s *UserState) AddTenant(tx db.Tx, userKey int64, tenantID string) error {
	return s.modify(tx, userKey, func(u *User) {
		u.TenantIDs = insertSorted(u.TenantIDs, tenantID)
	})
}

// RemoveTenant removes a tenant id from the user's tenant list.
func (s *UserState) RemoveTenant(tx db.Tx, userKey int64, tenantID string) error {
	return s.modify(tx, userKey, func(u *User) {
		u.TenantIDs = removeSorted(u.TenantIDs, tenantID)
	})
}

func (s *UserState) modify(tx db.Tx, userKey int64, fn func(u *User)) error {
	user, ok, err := s.Get(tx, userKey)
	if err != nil || !ok {
		return err
	}
	fn(&user)
	return s.users.Upsert(tx, user, db.LongKey(userKey))
}

// --------------------------------------------------------------------------
// Sorted set helpers
// --------------------------------------------------------------------------

type ordered interface {
	~int64 | ~string
}

func insertSorted[T ordered](values []T, v T) []T {
	i := sort.Search(len(values), func(i int) bool { return values[i] >= v })
	if i < len(values) && values[i] == v {
		return values
	}
	values = append(values, v)
	copy(values[i+1:], values[i:])
	values[i] = v
	return values
}

func removeSorted[T ordered](values []T, v T) []T {
	i := sort.Search(len(values), func(i int) bool { return values[i] >= v })
	if i == len(values) || values[i] != v {
		return values
	}
	values = append(values[:i], values[i+1:]...)
	if len(values) == 0 {
		// keep the encoding of an empty set identical to a never filled one
		return nil
	}
	return values
}
