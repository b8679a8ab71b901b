package engine

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dFlow/lib/db"
	"github.com/ValentinKolb/dFlow/lib/protocol"
	"github.com/ValentinKolb/dFlow/lib/state"
)

// AuthorizationConfig configures the permission checks of new identity commands.
type AuthorizationConfig struct {
	// Enabled turns the checks on. Without it every command is authorized.
	Enabled bool

	// AdminUsernames are allowed to run every command.
	AdminUsernames []string
}

// AuthorizationCheckBehavior decides whether the user that submitted a command
// holds the permission the command needs, granted to the user directly or to
// one of its roles.
type AuthorizationCheckBehavior struct {
	cfg    AuthorizationConfig
	admins map[string]struct{}
	state  *state.State
}

func newAuthorizationCheckBehavior(cfg AuthorizationConfig, st *state.State) *AuthorizationCheckBehavior {
	admins := make(map[string]struct{}, len(cfg.AdminUsernames))
	for _, name := range cfg.AdminUsernames {
		admins[name] = struct{}{}
	}
	return &AuthorizationCheckBehavior{cfg: cfg, admins: admins, state: st}
}

// Check returns a FORBIDDEN rejection if the user of command may not perform
// permission on the resource. resourceIDs are the ids a specific
// authorization may name instead of the wildcard.
func (b *AuthorizationCheckBehavior) Check(tx db.ReadTx, command *protocol.Record, resourceType protocol.ResourceType, permission protocol.PermissionType, resourceIDs ...string) error {
	if !b.cfg.Enabled || command.IsDistributed() {
		return nil
	}

	username := command.Metadata.Username
	if _, ok := b.admins[username]; ok {
		return nil
	}

	allowed, err := b.isAuthorized(tx, username, resourceType, permission, resourceIDs)
	if err != nil {
		return err
	}
	if allowed {
		return nil
	}

	reason := fmt.Sprintf("Insufficient permissions to perform operation '%s' on resource '%s'", permission, resourceType)
	if len(resourceIDs) > 0 {
		reason += fmt.Sprintf(", required resource identifiers are one of '[%s, %s]'", protocol.WildcardResourceID, strings.Join(resourceIDs, ", "))
	}
	return &protocol.Rejection{Type: protocol.RejectionTForbidden, Reason: reason}
}

func (b *AuthorizationCheckBehavior) isAuthorized(tx db.ReadTx, username string, resourceType protocol.ResourceType, permission protocol.PermissionType, resourceIDs []string) (bool, error) {
	if username == "" {
		return false, nil
	}
	user, ok, err := b.state.Users.GetByUsername(tx, username)
	if err != nil || !ok {
		return false, err
	}

	owners := append([]int64{user.UserKey}, user.RoleKeys...)
	for _, owner := range owners {
		auths, err := b.state.Authorizations.ForOwner(tx, owner)
		if err != nil {
			return false, err
		}
		for _, auth := range auths {
			if auth.Allows(resourceType, permission, resourceIDs...) {
				return true, nil
			}
		}
	}
	return false, nil
}
