package engine

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ValentinKolb/dFlow/lib/db"
	"github.com/ValentinKolb/dFlow/lib/db/engines/maple"
	"github.com/ValentinKolb/dFlow/lib/protocol"
	"github.com/ValentinKolb/dFlow/lib/state"
)

// --------------------------------------------------------------------------
// Test helpers
// --------------------------------------------------------------------------

type distributed struct {
	key     int64
	target  int32
	queue   string
	command *protocol.Record
}

type acknowledgement struct {
	origin  int32
	command *protocol.Record
}

// fakeSender records everything the engine hands to the transport
type fakeSender struct {
	distributed  []distributed
	acknowledged []distributed
	acks         []acknowledgement
}

func (s *fakeSender) Distribute(key int64, target int32, queue string, command *protocol.Record) {
	s.distributed = append(s.distributed, distributed{key: key, target: target, queue: queue, command: command})
}

func (s *fakeSender) Acknowledged(key int64, target int32) {
	s.acknowledged = append(s.acknowledged, distributed{key: key, target: target})
}

func (s *fakeSender) Acknowledge(origin int32, command *protocol.Record) {
	s.acks = append(s.acks, acknowledgement{origin: origin, command: command})
}

// testPartition processes commands and applies their results the way the
// stream processor does, without a log.
type testPartition struct {
	engine   *Engine
	state    *state.State
	sender   *fakeSender
	position int64
	log      [][]*protocol.Record // applied batches in log order
}

func newTestPartition(t *testing.T, partitionID, partitionCount int32, auth AuthorizationConfig) *testPartition {
	t.Helper()
	st, err := state.New(partitionID, maple.NewMapleDB(nil))
	if err != nil {
		t.Fatalf("state.New() error = %v", err)
	}
	sender := &fakeSender{}
	cfg := Config{PartitionID: partitionID, PartitionCount: partitionCount, Authorization: auth}
	return &testPartition{engine: New(cfg, st, sender), state: st, sender: sender}
}

func (p *testPartition) submit(t *testing.T, command *protocol.Record) *Result {
	t.Helper()
	p.position++
	command.Position = p.position

	var result *Result
	if err := p.state.View(func(tx db.ReadTx) error {
		result = p.engine.Process(tx, command)
		return nil
	}); err != nil {
		t.Fatalf("View() error = %v", err)
	}

	for _, r := range result.Records {
		p.position++
		r.Position = p.position
		r.SourceRecordPosition = command.Position
	}
	if err := p.state.Update(func(tx db.Tx) error {
		for _, r := range result.Records {
			if err := p.engine.Apply(tx, r); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	p.log = append(p.log, result.Records)

	for _, fn := range result.SideEffects {
		fn()
	}
	return result
}

func (p *testPartition) snapshot(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := p.state.DB().Save(&buf); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return buf.Bytes()
}

func command(t *testing.T, valueType protocol.ValueType, intent protocol.Intent, value interface{}) *protocol.Record {
	t.Helper()
	cmd, err := protocol.NewCommand(valueType, intent, -1, value)
	if err != nil {
		t.Fatalf("NewCommand() error = %v", err)
	}
	cmd.Metadata.RequestStreamID = 1
	cmd.Metadata.RequestID = 42
	return cmd
}

func kinds(records []*protocol.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Metadata.RecordType.String() + " " + r.Metadata.ValueType.String() + " " + r.Metadata.Intent.String()
	}
	return out
}

func assertKinds(t *testing.T, records []*protocol.Record, want ...string) {
	t.Helper()
	got := kinds(records)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("records = %v, want %v", got, want)
	}
}

func assertRejection(t *testing.T, result *Result, want protocol.RejectionType) {
	t.Helper()
	if !result.IsRejection() {
		t.Fatalf("expected a rejection, got %v", kinds(result.Records))
	}
	if got := result.Records[0].Metadata.RejectionType; got != want {
		t.Fatalf("rejection type = %s, want %s (%s)", got, want, result.Records[0].Metadata.RejectionReason)
	}
}

// --------------------------------------------------------------------------
// Command distribution
// --------------------------------------------------------------------------

func TestCreateRoleIsDistributedToAllPartitions(t *testing.T) {
	p1 := newTestPartition(t, 1, 3, AuthorizationConfig{})
	p2 := newTestPartition(t, 2, 3, AuthorizationConfig{})
	p3 := newTestPartition(t, 3, 3, AuthorizationConfig{})

	result := p1.submit(t, command(t, protocol.ValueTRole, protocol.IntentCreate, protocol.RoleRecord{Name: "admin"}))
	assertKinds(t, result.Records,
		"EVENT ROLE CREATED",
		"EVENT COMMAND_DISTRIBUTION STARTED",
		"EVENT COMMAND_DISTRIBUTION DISTRIBUTING",
		"EVENT COMMAND_DISTRIBUTION DISTRIBUTING",
	)

	roleKey := result.Records[0].Key
	if got := protocol.DecodePartitionID(roleKey); got != 1 {
		t.Fatalf("role key partition = %d, want 1", got)
	}
	if result.Response == nil || result.Response.Record != result.Records[0] || result.Response.RequestID != 42 {
		t.Fatalf("expected the CREATED event as response, got %+v", result.Response)
	}

	if len(p1.sender.distributed) != 2 {
		t.Fatalf("distributed %d commands, want 2", len(p1.sender.distributed))
	}
	for i, target := range []int32{2, 3} {
		d := p1.sender.distributed[i]
		if d.target != target || d.key != roleKey {
			t.Fatalf("distribution %d = (key %d, target %d), want (%d, %d)", i, d.key, d.target, roleKey, target)
		}
		if d.command.Metadata.OriginPartitionID != 1 || d.command.Key != roleKey {
			t.Fatalf("distributed copy has origin %d and key %d", d.command.Metadata.OriginPartitionID, d.command.Key)
		}
	}

	// the remote partitions create the role with the key of partition 1
	for _, remote := range []*testPartition{p2, p3} {
		copied := *p1.sender.distributed[int(remote.engine.partitionID)-2].command
		r := remote.submit(t, &copied)
		assertKinds(t, r.Records, "EVENT ROLE CREATED")
		if r.Records[0].Key != roleKey {
			t.Fatalf("remote role key = %d, want %d", r.Records[0].Key, roleKey)
		}
		if len(remote.sender.acks) != 1 || remote.sender.acks[0].origin != 1 {
			t.Fatalf("expected one acknowledgement to partition 1, got %+v", remote.sender.acks)
		}
		if err := remote.state.View(func(tx db.ReadTx) error {
			key, ok, err := remote.state.Roles.GetKeyByName(tx, "admin")
			if err != nil || !ok || key != roleKey {
				t.Fatalf("GetKeyByName() = %d, %v, %v", key, ok, err)
			}
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}

	// the distribution is finished with the last acknowledgement only
	r := p1.submit(t, p2.sender.acks[0].command)
	assertKinds(t, r.Records, "EVENT COMMAND_DISTRIBUTION ACKNOWLEDGED")
	r = p1.submit(t, p3.sender.acks[0].command)
	assertKinds(t, r.Records, "EVENT COMMAND_DISTRIBUTION ACKNOWLEDGED", "EVENT COMMAND_DISTRIBUTION FINISHED")

	if len(p1.sender.acknowledged) != 2 {
		t.Fatalf("acknowledged %d targets, want 2", len(p1.sender.acknowledged))
	}
	if err := p1.state.View(func(tx db.ReadTx) error {
		if _, ok, _ := p1.state.Distributions.Get(tx, roleKey); ok {
			t.Fatal("distribution still stored after it finished")
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	// a late duplicate acknowledgement is rejected
	r = p1.submit(t, p3.sender.acks[0].command)
	assertRejection(t, r, protocol.RejectionTNotFound)
}

func TestDuplicateRoleIsRejectedWithoutDistribution(t *testing.T) {
	p := newTestPartition(t, 1, 3, AuthorizationConfig{})

	p.submit(t, command(t, protocol.ValueTRole, protocol.IntentCreate, protocol.RoleRecord{Name: "admin"}))
	distributedBefore := len(p.sender.distributed)

	result := p.submit(t, command(t, protocol.ValueTRole, protocol.IntentCreate, protocol.RoleRecord{Name: "admin"}))
	assertRejection(t, result, protocol.RejectionTAlreadyExists)

	want := "Expected to create role with name 'admin', but a role with this name already exists"
	if got := result.Records[0].Metadata.RejectionReason; got != want {
		t.Fatalf("reason = %q, want %q", got, want)
	}
	if result.Response == nil || result.Response.Record != result.Records[0] {
		t.Fatal("expected the rejection as response")
	}
	if len(p.sender.distributed) != distributedBefore || len(result.SideEffects) != 0 {
		t.Fatal("a rejected command must not be distributed")
	}
}

func TestSinglePartitionDoesNotDistribute(t *testing.T) {
	p := newTestPartition(t, 1, 1, AuthorizationConfig{})

	result := p.submit(t, command(t, protocol.ValueTUser, protocol.IntentCreate, protocol.UserRecord{Username: "alice"}))
	assertKinds(t, result.Records, "EVENT USER CREATED")
	if len(p.sender.distributed) != 0 {
		t.Fatalf("distributed %d commands on a single partition", len(p.sender.distributed))
	}
}

func TestDistributedCommandIsIdempotent(t *testing.T) {
	origin := newTestPartition(t, 1, 2, AuthorizationConfig{})
	remote := newTestPartition(t, 2, 2, AuthorizationConfig{})

	origin.submit(t, command(t, protocol.ValueTTenant, protocol.IntentCreate, protocol.TenantRecord{TenantID: "acme", Name: "Acme"}))
	copied := origin.sender.distributed[0].command

	first := *copied
	remote.submit(t, &first)
	once := remote.snapshot(t)

	// a redelivered copy is processed again and still acknowledged
	second := *copied
	r := remote.submit(t, &second)
	assertKinds(t, r.Records, "EVENT TENANT CREATED")
	if len(remote.sender.acks) != 2 {
		t.Fatalf("acks = %d, want 2", len(remote.sender.acks))
	}

	// only the last processed position differs, both positions encode to one byte
	if twice := remote.snapshot(t); len(once) != len(twice) {
		t.Fatalf("state size changed after redelivery: %d != %d", len(once), len(twice))
	}
	if err := remote.state.View(func(tx db.ReadTx) error {
		tenantKey, ok, err := remote.state.Tenants.GetKeyByID(tx, "acme")
		if err != nil || !ok || tenantKey != copied.Key {
			t.Fatalf("GetKeyByID() = %d, %v, %v", tenantKey, ok, err)
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestDistributedCommandsDoNotAdvanceRemoteKeys(t *testing.T) {
	origin := newTestPartition(t, 1, 2, AuthorizationConfig{})
	remote := newTestPartition(t, 2, 2, AuthorizationConfig{})

	origin.submit(t, command(t, protocol.ValueTRole, protocol.IntentCreate, protocol.RoleRecord{Name: "ops"}))
	before := remote.state.Keys.CurrentKey()
	remote.submit(t, origin.sender.distributed[0].command)

	if got := remote.state.Keys.CurrentKey(); got != before {
		t.Fatalf("remote key generator moved from %d to %d", before, got)
	}
}

func TestResumeDistributions(t *testing.T) {
	p := newTestPartition(t, 1, 3, AuthorizationConfig{})
	result := p.submit(t, command(t, protocol.ValueTRole, protocol.IntentCreate, protocol.RoleRecord{Name: "admin"}))
	roleKey := result.Records[0].Key

	// a restarted partition only knows its state
	sender := &fakeSender{}
	restarted := New(Config{PartitionID: 1, PartitionCount: 3}, p.state, sender)
	if err := p.state.View(restarted.ResumeDistributions); err != nil {
		t.Fatalf("ResumeDistributions() error = %v", err)
	}

	if len(sender.distributed) != 2 {
		t.Fatalf("resumed %d distributions, want 2", len(sender.distributed))
	}
	for _, d := range sender.distributed {
		if d.key != roleKey || d.command.Metadata.ValueType != protocol.ValueTRole || d.command.Metadata.Intent != protocol.IntentCreate {
			t.Fatalf("unexpected resumed distribution %+v", d)
		}
	}
}

// --------------------------------------------------------------------------
// Identity processors
// --------------------------------------------------------------------------

func TestIdentityRejections(t *testing.T) {
	p := newTestPartition(t, 1, 1, AuthorizationConfig{})
	user := p.submit(t, command(t, protocol.ValueTUser, protocol.IntentCreate, protocol.UserRecord{Username: "alice"}))
	userKey := user.Records[0].Key
	role := p.submit(t, command(t, protocol.ValueTRole, protocol.IntentCreate, protocol.RoleRecord{Name: "admin"}))
	roleKey := role.Records[0].Key
	tenant := p.submit(t, command(t, protocol.ValueTTenant, protocol.IntentCreate, protocol.TenantRecord{TenantID: "acme"}))
	tenantKey := tenant.Records[0].Key

	tests := []struct {
		name      string
		valueType protocol.ValueType
		intent    protocol.Intent
		value     interface{}
		want      protocol.RejectionType
	}{
		{"role without name", protocol.ValueTRole, protocol.IntentCreate, protocol.RoleRecord{}, protocol.RejectionTInvalidArgument},
		{"update unknown role", protocol.ValueTRole, protocol.IntentUpdate, protocol.RoleRecord{RoleKey: 999, Name: "x"}, protocol.RejectionTNotFound},
		{"delete unknown role", protocol.ValueTRole, protocol.IntentDelete, protocol.RoleRecord{RoleKey: 999}, protocol.RejectionTNotFound},
		{"add unknown user to role", protocol.ValueTRole, protocol.IntentAddEntity, protocol.RoleRecord{RoleKey: roleKey, EntityKey: 999, EntityType: protocol.EntityTUser}, protocol.RejectionTNotFound},
		{"add mapping to role", protocol.ValueTRole, protocol.IntentAddEntity, protocol.RoleRecord{RoleKey: roleKey, EntityKey: userKey, EntityType: protocol.EntityTMapping}, protocol.RejectionTInvalidArgument},
		{"remove non member", protocol.ValueTRole, protocol.IntentRemoveEntity, protocol.RoleRecord{RoleKey: roleKey, EntityKey: userKey, EntityType: protocol.EntityTUser}, protocol.RejectionTNotFound},
		{"duplicate username", protocol.ValueTUser, protocol.IntentCreate, protocol.UserRecord{Username: "alice"}, protocol.RejectionTAlreadyExists},
		{"user without username", protocol.ValueTUser, protocol.IntentCreate, protocol.UserRecord{}, protocol.RejectionTInvalidArgument},
		{"delete unknown user", protocol.ValueTUser, protocol.IntentDelete, protocol.UserRecord{UserKey: 999}, protocol.RejectionTNotFound},
		{"authorization for unknown owner", protocol.ValueTAuthorization, protocol.IntentCreate, protocol.AuthorizationRecord{
			OwnerKey: 999, OwnerType: protocol.OwnerTUser, ResourceType: protocol.ResourceTRole, ResourceID: "*",
			Permissions: []protocol.PermissionType{protocol.PermissionTRead},
		}, protocol.RejectionTNotFound},
		{"authorization without permissions", protocol.ValueTAuthorization, protocol.IntentCreate, protocol.AuthorizationRecord{
			OwnerKey: userKey, OwnerType: protocol.OwnerTUser, ResourceType: protocol.ResourceTRole, ResourceID: "*",
		}, protocol.RejectionTInvalidArgument},
		{"delete unknown authorization", protocol.ValueTAuthorization, protocol.IntentDelete, protocol.AuthorizationRecord{AuthorizationKey: 999}, protocol.RejectionTNotFound},
		{"duplicate tenant", protocol.ValueTTenant, protocol.IntentCreate, protocol.TenantRecord{TenantID: "acme"}, protocol.RejectionTAlreadyExists},
		{"add to unknown tenant", protocol.ValueTTenant, protocol.IntentAddEntity, protocol.TenantRecord{TenantKey: 999, EntityKey: userKey, EntityType: protocol.EntityTUser}, protocol.RejectionTNotFound},
		{"add unknown user to tenant", protocol.ValueTTenant, protocol.IntentAddEntity, protocol.TenantRecord{TenantKey: tenantKey, EntityKey: 999, EntityType: protocol.EntityTUser}, protocol.RejectionTNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := p.submit(t, command(t, tt.valueType, tt.intent, tt.value))
			assertRejection(t, result, tt.want)
		})
	}
}

func TestRoleMembershipLifecycle(t *testing.T) {
	p := newTestPartition(t, 1, 1, AuthorizationConfig{})
	userKey := p.submit(t, command(t, protocol.ValueTUser, protocol.IntentCreate, protocol.UserRecord{Username: "alice"})).Records[0].Key
	roleKey := p.submit(t, command(t, protocol.ValueTRole, protocol.IntentCreate, protocol.RoleRecord{Name: "admin"})).Records[0].Key

	member := protocol.RoleRecord{RoleKey: roleKey, EntityKey: userKey, EntityType: protocol.EntityTUser}
	assertKinds(t, p.submit(t, command(t, protocol.ValueTRole, protocol.IntentAddEntity, member)).Records, "EVENT ROLE ENTITY_ADDED")
	assertRejection(t, p.submit(t, command(t, protocol.ValueTRole, protocol.IntentAddEntity, member)), protocol.RejectionTAlreadyExists)

	if err := p.state.View(func(tx db.ReadTx) error {
		user, _, err := p.state.Users.Get(tx, userKey)
		if err != nil || len(user.RoleKeys) != 1 || user.RoleKeys[0] != roleKey {
			t.Fatalf("user roles = %v, %v", user.RoleKeys, err)
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	// deleting the role removes it from the user
	deleted := p.submit(t, command(t, protocol.ValueTRole, protocol.IntentDelete, protocol.RoleRecord{RoleKey: roleKey}))
	assertKinds(t, deleted.Records, "EVENT ROLE DELETED")

	var value protocol.RoleRecord
	if err := protocol.DecodeValue(deleted.Records[0].Value, &value); err != nil || value.Name != "admin" {
		t.Fatalf("DELETED value = %+v, %v", value, err)
	}
	if err := p.state.View(func(tx db.ReadTx) error {
		user, _, err := p.state.Users.Get(tx, userKey)
		if err != nil || len(user.RoleKeys) != 0 {
			t.Fatalf("user roles after delete = %v, %v", user.RoleKeys, err)
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

// --------------------------------------------------------------------------
// Message subscriptions
// --------------------------------------------------------------------------

func TestMessageSubscriptionLifecycle(t *testing.T) {
	p := newTestPartition(t, 1, 3, AuthorizationConfig{})
	sub := protocol.MessageSubscriptionRecord{ElementInstanceKey: 7, MessageName: "order", CorrelationKey: "o-1", Interrupting: true}

	created := p.submit(t, command(t, protocol.ValueTMessageSubscription, protocol.IntentCreate, sub))
	assertKinds(t, created.Records, "EVENT MESSAGE_SUBSCRIPTION CREATED")
	if len(p.sender.distributed) != 0 {
		t.Fatal("message subscriptions must not be distributed")
	}
	assertRejection(t, p.submit(t, command(t, protocol.ValueTMessageSubscription, protocol.IntentCreate, sub)), protocol.RejectionTAlreadyExists)

	correlate := protocol.MessageSubscriptionRecord{ElementInstanceKey: 7, MessageName: "order", MessageKey: 11}
	correlated := p.submit(t, command(t, protocol.ValueTMessageSubscription, protocol.IntentCorrelate, correlate))
	assertKinds(t, correlated.Records, "EVENT MESSAGE_SUBSCRIPTION CORRELATED")
	if correlated.Records[0].Key != created.Records[0].Key {
		t.Fatalf("CORRELATED key = %d, want %d", correlated.Records[0].Key, created.Records[0].Key)
	}

	// interrupting subscriptions correlate only once
	correlate.MessageKey = 12
	assertRejection(t, p.submit(t, command(t, protocol.ValueTMessageSubscription, protocol.IntentCorrelate, correlate)), protocol.RejectionTInvalidState)

	assertKinds(t, p.submit(t, command(t, protocol.ValueTMessageSubscription, protocol.IntentDelete, correlate)).Records, "EVENT MESSAGE_SUBSCRIPTION DELETED")
	assertRejection(t, p.submit(t, command(t, protocol.ValueTMessageSubscription, protocol.IntentDelete, correlate)), protocol.RejectionTNotFound)
}

// --------------------------------------------------------------------------
// Authorization
// --------------------------------------------------------------------------

func TestAuthorizationChecks(t *testing.T) {
	p := newTestPartition(t, 1, 1, AuthorizationConfig{Enabled: true, AdminUsernames: []string{"root"}})

	asUser := func(username string, cmd *protocol.Record) *protocol.Record {
		cmd.Metadata.Username = username
		return cmd
	}

	// the admin sets up a user with a role that may create tenants
	userKey := p.submit(t, asUser("root", command(t, protocol.ValueTUser, protocol.IntentCreate, protocol.UserRecord{Username: "bob"}))).Records[0].Key
	roleKey := p.submit(t, asUser("root", command(t, protocol.ValueTRole, protocol.IntentCreate, protocol.RoleRecord{Name: "tenant-admin"}))).Records[0].Key

	denied := p.submit(t, asUser("bob", command(t, protocol.ValueTTenant, protocol.IntentCreate, protocol.TenantRecord{TenantID: "acme"})))
	assertRejection(t, denied, protocol.RejectionTForbidden)
	want := "Insufficient permissions to perform operation 'CREATE' on resource 'TENANT'"
	if got := denied.Records[0].Metadata.RejectionReason; got != want {
		t.Fatalf("reason = %q, want %q", got, want)
	}

	p.submit(t, asUser("root", command(t, protocol.ValueTAuthorization, protocol.IntentCreate, protocol.AuthorizationRecord{
		OwnerKey: roleKey, OwnerType: protocol.OwnerTRole, ResourceType: protocol.ResourceTTenant, ResourceID: protocol.WildcardResourceID,
		Permissions: []protocol.PermissionType{protocol.PermissionTCreate},
	})))
	p.submit(t, asUser("root", command(t, protocol.ValueTRole, protocol.IntentAddEntity, protocol.RoleRecord{
		RoleKey: roleKey, EntityKey: userKey, EntityType: protocol.EntityTUser,
	})))

	allowed := p.submit(t, asUser("bob", command(t, protocol.ValueTTenant, protocol.IntentCreate, protocol.TenantRecord{TenantID: "acme"})))
	assertKinds(t, allowed.Records, "EVENT TENANT CREATED")

	// specific resource ids are listed in the reason
	deniedUpdate := p.submit(t, asUser("bob", command(t, protocol.ValueTRole, protocol.IntentUpdate, protocol.RoleRecord{RoleKey: roleKey, Name: "x"})))
	assertRejection(t, deniedUpdate, protocol.RejectionTForbidden)
	if reason := deniedUpdate.Records[0].Metadata.RejectionReason; !strings.Contains(reason, "required resource identifiers are one of '[*, ") {
		t.Fatalf("reason = %q", reason)
	}

	anonymous := p.submit(t, command(t, protocol.ValueTUser, protocol.IntentCreate, protocol.UserRecord{Username: "eve"}))
	assertRejection(t, anonymous, protocol.RejectionTForbidden)
}

// --------------------------------------------------------------------------
// Dispatch
// --------------------------------------------------------------------------

func TestDispatchWithoutCapability(t *testing.T) {
	p := newTestPartition(t, 1, 2, AuthorizationConfig{})

	unknown := command(t, protocol.ValueTTenant, protocol.IntentCorrelate, protocol.TenantRecord{})
	assertRejection(t, p.submit(t, unknown), protocol.RejectionTProcessingError)

	notDistributable := command(t, protocol.ValueTMessageSubscription, protocol.IntentCreate, protocol.MessageSubscriptionRecord{ElementInstanceKey: 1, MessageName: "m"})
	notDistributable.Metadata.OriginPartitionID = 2
	assertRejection(t, p.submit(t, notDistributable), protocol.RejectionTProcessingError)

	// acknowledgements are new commands on the origin
	ack := command(t, protocol.ValueTCommandDistribution, protocol.IntentAcknowledge, protocol.CommandDistributionRecord{PartitionID: 2})
	ack.Metadata.OriginPartitionID = 2
	assertRejection(t, p.submit(t, ack), protocol.RejectionTProcessingError)
}

func TestRegisterRequiresACapability(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("register() did not panic for a processor without capabilities")
		}
	}()
	p := newTestPartition(t, 1, 1, AuthorizationConfig{})
	p.engine.register(protocol.ValueTRole, protocol.IntentCreate, struct{}{})
}

func TestProcessingErrorKeepsNoPartialRecords(t *testing.T) {
	p := newTestPartition(t, 1, 1, AuthorizationConfig{})

	broken := command(t, protocol.ValueTRole, protocol.IntentCreate, protocol.RoleRecord{Name: "x"})
	broken.Value = []byte{0xc1}
	result := p.submit(t, broken)

	assertRejection(t, result, protocol.RejectionTProcessingError)
	if len(result.Records) != 1 || len(result.SideEffects) != 0 {
		t.Fatalf("records = %v, side effects = %d", kinds(result.Records), len(result.SideEffects))
	}
}

// --------------------------------------------------------------------------
// Determinism
// --------------------------------------------------------------------------

func TestProcessingIsDeterministic(t *testing.T) {
	run := func() []byte {
		p := newTestPartition(t, 2, 3, AuthorizationConfig{})
		userKey := p.submit(t, command(t, protocol.ValueTUser, protocol.IntentCreate, protocol.UserRecord{Username: "alice"})).Records[0].Key
		roleKey := p.submit(t, command(t, protocol.ValueTRole, protocol.IntentCreate, protocol.RoleRecord{Name: "admin"})).Records[0].Key
		p.submit(t, command(t, protocol.ValueTRole, protocol.IntentAddEntity, protocol.RoleRecord{RoleKey: roleKey, EntityKey: userKey, EntityType: protocol.EntityTUser}))
		p.submit(t, command(t, protocol.ValueTAuthorization, protocol.IntentCreate, protocol.AuthorizationRecord{
			OwnerKey: roleKey, OwnerType: protocol.OwnerTRole, ResourceType: protocol.ResourceTUser, ResourceID: "*",
			Permissions: []protocol.PermissionType{protocol.PermissionTRead, protocol.PermissionTCreate},
		}))
		p.submit(t, command(t, protocol.ValueTMessageSubscription, protocol.IntentCreate, protocol.MessageSubscriptionRecord{ElementInstanceKey: 3, MessageName: "m"}))
		p.submit(t, command(t, protocol.ValueTUser, protocol.IntentDelete, protocol.UserRecord{UserKey: userKey}))
		return p.snapshot(t)
	}

	if a, b := run(), run(); !bytes.Equal(a, b) {
		t.Fatal("the same commands produced different states")
	}
}

// A replica that only applies the committed records ends in the state of the
// partition that processed the commands.
func TestReplayingEventsGivesIdenticalState(t *testing.T) {
	origin := newTestPartition(t, 1, 2, AuthorizationConfig{})
	p := newTestPartition(t, 2, 2, AuthorizationConfig{})

	// a distributed command and its acknowledgement are part of the log
	origin.submit(t, command(t, protocol.ValueTRole, protocol.IntentCreate, protocol.RoleRecord{Name: "ops"}))
	p.submit(t, origin.sender.distributed[0].command)

	userKey := p.submit(t, command(t, protocol.ValueTUser, protocol.IntentCreate, protocol.UserRecord{Username: "alice"})).Records[0].Key
	roleKey := p.submit(t, command(t, protocol.ValueTRole, protocol.IntentCreate, protocol.RoleRecord{Name: "admin"})).Records[0].Key
	p.submit(t, command(t, protocol.ValueTRole, protocol.IntentAddEntity, protocol.RoleRecord{RoleKey: roleKey, EntityKey: userKey, EntityType: protocol.EntityTUser}))
	p.submit(t, command(t, protocol.ValueTRole, protocol.IntentUpdate, protocol.RoleRecord{RoleKey: roleKey, Name: "root"}))
	p.submit(t, command(t, protocol.ValueTTenant, protocol.IntentCreate, protocol.TenantRecord{TenantID: "acme", Name: "Acme"}))
	p.submit(t, command(t, protocol.ValueTMessageSubscription, protocol.IntentCreate, protocol.MessageSubscriptionRecord{ElementInstanceKey: 3, MessageName: "m"}))
	p.submit(t, command(t, protocol.ValueTRole, protocol.IntentCreate, protocol.RoleRecord{Name: "root"})) // rejected
	p.submit(t, command(t, protocol.ValueTUser, protocol.IntentDelete, protocol.UserRecord{UserKey: userKey}))
	origin.submit(t, p.sender.distributed[0].command)
	p.submit(t, origin.sender.acks[0].command)
	want := p.snapshot(t)

	replay := func() []byte {
		st, err := state.New(2, maple.NewMapleDB(nil))
		if err != nil {
			t.Fatalf("state.New() error = %v", err)
		}
		replica := New(Config{PartitionID: 2, PartitionCount: 2}, st, &fakeSender{})
		for _, batch := range p.log {
			if err := st.Update(func(tx db.Tx) error {
				for _, record := range batch {
					if err := replica.Apply(tx, record); err != nil {
						return err
					}
				}
				return nil
			}); err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
		}
		var buf bytes.Buffer
		if err := st.DB().Save(&buf); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		return buf.Bytes()
	}

	first, second := replay(), replay()
	if !bytes.Equal(first, second) {
		t.Fatal("two replays of the same records produced different states")
	}
	if !bytes.Equal(first, want) {
		t.Fatal("the replayed state differs from the state of the processing partition")
	}
}

// --------------------------------------------------------------------------
// Distribution order
// --------------------------------------------------------------------------

// Every change of an entity travels in the identity queue, in the order the
// changes were accepted, also when the distributions are resumed.
func TestIdentityDistributionsShareOneOrderedQueue(t *testing.T) {
	p := newTestPartition(t, 1, 2, AuthorizationConfig{})

	roleKey := p.submit(t, command(t, protocol.ValueTRole, protocol.IntentCreate, protocol.RoleRecord{Name: "admin"})).Records[0].Key
	p.submit(t, command(t, protocol.ValueTRole, protocol.IntentUpdate, protocol.RoleRecord{RoleKey: roleKey, Name: "root"}))
	p.submit(t, command(t, protocol.ValueTRole, protocol.IntentDelete, protocol.RoleRecord{RoleKey: roleKey}))

	wantIntents := []protocol.Intent{protocol.IntentCreate, protocol.IntentUpdate, protocol.IntentDelete}
	check := func(name string, got []distributed) {
		t.Helper()
		if len(got) != len(wantIntents) {
			t.Fatalf("%s: %d distributions, want %d", name, len(got), len(wantIntents))
		}
		for i, d := range got {
			if d.queue != queueIdentity {
				t.Errorf("%s: distribution %d is in queue %q, want %q", name, i, d.queue, queueIdentity)
			}
			if d.command.Metadata.Intent != wantIntents[i] {
				t.Errorf("%s: distribution %d is %s, want %s", name, i, d.command.Metadata.Intent, wantIntents[i])
			}
			if i > 0 && d.key <= got[i-1].key {
				t.Errorf("%s: distribution key %d does not follow %d", name, d.key, got[i-1].key)
			}
		}
	}
	check("processed", p.sender.distributed)

	sender := &fakeSender{}
	restarted := New(Config{PartitionID: 1, PartitionCount: 2}, p.state, sender)
	if err := p.state.View(restarted.ResumeDistributions); err != nil {
		t.Fatalf("ResumeDistributions() error = %v", err)
	}
	check("resumed", sender.distributed)
}

func roleName(t *testing.T, p *testPartition, roleKey int64) (string, bool) {
	t.Helper()
	var name string
	var indexed bool
	if err := p.state.View(func(tx db.ReadTx) error {
		role, _, err := p.state.Roles.Get(tx, roleKey)
		if err != nil {
			return err
		}
		name = role.Name
		_, indexed, err = p.state.Roles.GetKeyByName(tx, "admin")
		return err
	}); err != nil {
		t.Fatal(err)
	}
	return name, indexed
}

// The appliers of a create and an update of one role do not commute: a create
// reaching a partition after the update restores the old name. This is why
// identity distributions are delivered in queue order.
func TestDistributionsOfOneRoleOutOfOrder(t *testing.T) {
	origin := newTestPartition(t, 1, 2, AuthorizationConfig{})
	roleKey := origin.submit(t, command(t, protocol.ValueTRole, protocol.IntentCreate, protocol.RoleRecord{Name: "admin"})).Records[0].Key
	origin.submit(t, command(t, protocol.ValueTRole, protocol.IntentUpdate, protocol.RoleRecord{RoleKey: roleKey, Name: "root"}))
	create, update := origin.sender.distributed[0].command, origin.sender.distributed[1].command

	tests := []struct {
		name        string
		order       []*protocol.Record
		wantName    string
		wantIndexed bool
	}{
		{name: "queue order", order: []*protocol.Record{create, update}, wantName: "root"},
		{name: "update first", order: []*protocol.Record{update, create}, wantName: "admin", wantIndexed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := newTestPartition(t, 2, 2, AuthorizationConfig{})
			for _, cmd := range tt.order {
				copied := *cmd
				remote.submit(t, &copied)
			}
			name, indexed := roleName(t, remote, roleKey)
			if name != tt.wantName || indexed != tt.wantIndexed {
				t.Errorf("role name = %q (old name indexed %t), want %q (%t)", name, indexed, tt.wantName, tt.wantIndexed)
			}
		})
	}
}

// --------------------------------------------------------------------------
// Key generation
// --------------------------------------------------------------------------

// keyDrawingRejector draws a key before it rejects the command.
type keyDrawingRejector struct {
	keys *state.KeyGenerator
}

func (r keyDrawingRejector) ProcessNewCommand(*ProcessingContext, *protocol.Record) error {
	r.keys.NextKey()
	return protocol.NewRejection(protocol.RejectionTInvalidArgument, "Expected nothing, but a key was drawn")
}

func TestRejectedCommandReleasesItsKeys(t *testing.T) {
	tests := []struct {
		name   string
		want   protocol.RejectionType
		reject func(t *testing.T, p *testPartition) *Result
	}{
		{
			name: "rejected by the processor",
			want: protocol.RejectionTInvalidArgument,
			reject: func(t *testing.T, p *testPartition) *Result {
				p.engine.register(protocol.ValueTTenant, protocol.IntentCreate, keyDrawingRejector{keys: p.state.Keys})
				return p.submit(t, command(t, protocol.ValueTTenant, protocol.IntentCreate, protocol.TenantRecord{TenantID: "acme"}))
			},
		},
		{
			name: "replaced by an oversized rejection",
			want: protocol.RejectionTProcessingError,
			reject: func(t *testing.T, p *testPartition) *Result {
				cmd := command(t, protocol.ValueTRole, protocol.IntentCreate, protocol.RoleRecord{Name: "huge"})
				if err := p.state.View(func(tx db.ReadTx) error {
					if result := p.engine.Process(tx, cmd); result.IsRejection() {
						t.Fatalf("Process() rejected the command: %v", kinds(result.Records))
					}
					return nil
				}); err != nil {
					t.Fatal(err)
				}
				return p.engine.RejectOversized(cmd)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPartition(t, 1, 1, AuthorizationConfig{})
			first := p.submit(t, command(t, protocol.ValueTUser, protocol.IntentCreate, protocol.UserRecord{Username: "alice"})).Records[0].Key
			before := p.state.Keys.CurrentKey()

			assertRejection(t, tt.reject(t, p), tt.want)
			if got := p.state.Keys.CurrentKey(); got != before {
				t.Fatalf("CurrentKey() = %d after the rejection, want %d", got, before)
			}

			next := p.submit(t, command(t, protocol.ValueTUser, protocol.IntentCreate, protocol.UserRecord{Username: "bob"})).Records[0].Key
			if next != first+1 {
				t.Errorf("key after the rejection = %d, want %d", next, first+1)
			}
		})
	}
}
