package state

import (
	"fmt"
	"testing"

	"github.com/ValentinKolb/dFlow/lib/db"
	"github.com/ValentinKolb/dFlow/lib/db/engines/maple"
	"github.com/ValentinKolb/dFlow/lib/protocol"
)

func newTestState(t *testing.T, partitionID int32) *State {
	t.Helper()
	s, err := New(partitionID, maple.NewMapleDB(nil))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func update(t *testing.T, s *State, fn func(tx db.Tx) error) {
	t.Helper()
	if err := s.Update(fn); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
}

func TestKeyGenerator(t *testing.T) {
	s := newTestState(t, 3)

	first := s.Keys.NextKey()
	second := s.Keys.NextKey()
	if protocol.DecodePartitionID(first) != 3 {
		t.Errorf("DecodePartitionID(NextKey()) = %v, want %v", protocol.DecodePartitionID(first), 3)
	}
	if second != first+1 {
		t.Errorf("NextKey() = %v, want %v", second, first+1)
	}

	// only keys of the own partition are persisted
	update(t, s, func(tx db.Tx) error {
		if err := s.Keys.SetKeyIfHigher(tx, protocol.EncodePartitionID(4, 100)); err != nil {
			return err
		}
		return s.Keys.SetKeyIfHigher(tx, second)
	})

	// a restarted partition continues after the persisted key
	restored, err := New(3, s.DB())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := restored.Keys.NextKey(); got != second+1 {
		t.Errorf("NextKey() after restore = %v, want %v", got, second+1)
	}
}

func TestKeyGeneratorFollowsAppliedKeys(t *testing.T) {
	s := newTestState(t, 1)

	// keys applied during replay move the generator forward
	applied := protocol.EncodePartitionID(1, 42)
	update(t, s, func(tx db.Tx) error {
		return s.Keys.SetKeyIfHigher(tx, applied)
	})
	if got := s.Keys.NextKey(); got != applied+1 {
		t.Errorf("NextKey() = %v, want %v", got, applied+1)
	}

	// lower keys do not move it back
	update(t, s, func(tx db.Tx) error {
		return s.Keys.SetKeyIfHigher(tx, protocol.EncodePartitionID(1, 5))
	})
	if got := s.Keys.CurrentKey(); got != applied+1 {
		t.Errorf("CurrentKey() = %v, want %v", got, applied+1)
	}
}

func TestKeyGeneratorRollback(t *testing.T) {
	s := newTestState(t, 1)
	first := s.Keys.NextKey()

	checkpoint := s.Keys.Checkpoint()
	s.Keys.NextKey()
	s.Keys.NextKey()
	s.Keys.Rollback(checkpoint)
	if got := s.Keys.CurrentKey(); got != first {
		t.Errorf("CurrentKey() after rollback = %v, want %v", got, first)
	}

	if got := s.Keys.NextKey(); got != first+1 {
		t.Errorf("NextKey() = %v, want %v", got, first+1)
	}

	// a checkpoint above the counter does not move it
	s.Keys.Rollback(first + 10)
	if got := s.Keys.CurrentKey(); got != first+1 {
		t.Errorf("CurrentKey() = %v, want %v", got, first+1)
	}
}

func TestMarkProcessed(t *testing.T) {
	s := newTestState(t, 1)

	tests := []struct {
		position int64
		want     int64
	}{
		{5, 5},
		{3, 5},
		{9, 9},
	}
	for _, tt := range tests {
		update(t, s, func(tx db.Tx) error { return s.MarkProcessed(tx, tt.position) })
		_ = s.View(func(tx db.ReadTx) error {
			got, err := s.LastProcessedPosition(tx)
			if err != nil || got != tt.want {
				t.Errorf("LastProcessedPosition() after MarkProcessed(%d) = %v, %v, want %v", tt.position, got, err, tt.want)
			}
			return nil
		})
	}
}

func TestRoleState(t *testing.T) {
	s := newTestState(t, 1)

	update(t, s, func(tx db.Tx) error {
		if err := s.Roles.Create(tx, protocol.RoleRecord{RoleKey: 10, Name: "admin"}); err != nil {
			return err
		}
		if err := s.Roles.AddEntity(tx, 10, 20, protocol.EntityTUser); err != nil {
			return err
		}
		return s.Roles.Update(tx, protocol.RoleRecord{RoleKey: 10, Name: "operators"})
	})

	_ = s.View(func(tx db.ReadTx) error {
		if _, ok, _ := s.Roles.GetKeyByName(tx, "admin"); ok {
			t.Errorf("GetKeyByName(admin) found the old name")
		}
		if key, ok, _ := s.Roles.GetKeyByName(tx, "operators"); !ok || key != 10 {
			t.Errorf("GetKeyByName(operators) = %v, %v, want 10", key, ok)
		}
		if !s.Roles.HasEntity(tx, 10, 20) {
			t.Errorf("HasEntity(10, 20) = false, want true")
		}
		return nil
	})

	update(t, s, func(tx db.Tx) error {
		members, err := s.Roles.Delete(tx, 10)
		if len(members) != 1 || members[0].EntityKey != 20 {
			t.Errorf("Delete() members = %v, want [20]", members)
		}
		return err
	})

	_ = s.View(func(tx db.ReadTx) error {
		if _, ok, _ := s.Roles.Get(tx, 10); ok {
			t.Errorf("Get(10) after Delete found the role")
		}
		if s.Roles.HasEntity(tx, 10, 20) {
			t.Errorf("HasEntity(10, 20) after Delete = true")
		}
		return nil
	})
}

func TestUserRoleListIsASet(t *testing.T) {
	s := newTestState(t, 1)

	update(t, s, func(tx db.Tx) error {
		if err := s.Users.Create(tx, protocol.UserRecord{UserKey: 1, Username: "jo"}); err != nil {
			return err
		}
		for _, role := range []int64{30, 10, 20, 10} {
			if err := s.Users.AddRole(tx, 1, role); err != nil {
				return err
			}
		}
		return s.Users.RemoveRole(tx, 1, 20)
	})

	_ = s.View(func(tx db.ReadTx) error {
		user, ok, err := s.Users.GetByUsername(tx, "jo")
		if err != nil || !ok {
			t.Fatalf("GetByUsername(jo) = %v, %v", ok, err)
		}
		if fmt.Sprint(user.RoleKeys) != "[10 30]" {
			t.Errorf("RoleKeys = %v, want [10 30]", user.RoleKeys)
		}
		return nil
	})
}

func TestAuthorizationAllows(t *testing.T) {
	auth := Authorization{
		ResourceType: protocol.ResourceTRole,
		ResourceID:   "7",
		Permissions:  []protocol.PermissionType{protocol.PermissionTUpdate},
	}
	wildcard := auth
	wildcard.ResourceID = protocol.WildcardResourceID

	tests := []struct {
		name       string
		auth       Authorization
		resource   protocol.ResourceType
		permission protocol.PermissionType
		ids        []string
		want       bool
	}{
		{"matching id", auth, protocol.ResourceTRole, protocol.PermissionTUpdate, []string{"7"}, true},
		{"other id", auth, protocol.ResourceTRole, protocol.PermissionTUpdate, []string{"8"}, false},
		{"wildcard", wildcard, protocol.ResourceTRole, protocol.PermissionTUpdate, nil, true},
		{"missing permission", wildcard, protocol.ResourceTRole, protocol.PermissionTDelete, nil, false},
		{"other resource", wildcard, protocol.ResourceTUser, protocol.PermissionTUpdate, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.auth.Allows(tt.resource, tt.permission, tt.ids...); got != tt.want {
				t.Errorf("Allows() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDistributionPendingSet(t *testing.T) {
	s := newTestState(t, 1)

	update(t, s, func(tx db.Tx) error {
		if err := s.Distributions.Add(tx, 99, protocol.CommandDistributionRecord{ValueType: protocol.ValueTRole, Intent: protocol.IntentCreate}); err != nil {
			return err
		}
		for _, p := range []int32{3, 2} {
			if err := s.Distributions.AddPending(tx, 99, p); err != nil {
				return err
			}
		}
		return s.Distributions.RemovePending(tx, 99, 3)
	})

	_ = s.View(func(tx db.ReadTx) error {
		if s.Distributions.IsPending(tx, 99, 3) {
			t.Errorf("IsPending(99, 3) = true after RemovePending")
		}
		var visited []string
		_ = s.Distributions.ForEachPending(tx, func(d Distribution, p int32) bool {
			visited = append(visited, fmt.Sprintf("%d/%d", d.DistributionKey, p))
			return true
		})
		if fmt.Sprint(visited) != "[99/2]" {
			t.Errorf("ForEachPending() = %v, want [99/2]", visited)
		}
		return nil
	})

	update(t, s, func(tx db.Tx) error { return s.Distributions.Remove(tx, 99) })
	_ = s.View(func(tx db.ReadTx) error {
		if _, ok, _ := s.Distributions.Get(tx, 99); ok {
			t.Errorf("Get(99) after Remove found the distribution")
		}
		if s.Distributions.IsPending(tx, 99, 2) {
			t.Errorf("IsPending(99, 2) after Remove = true")
		}
		return nil
	})
}
