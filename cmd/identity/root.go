package identity

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dFlow/cmd/util"
	"github.com/ValentinKolb/dFlow/lib/protocol"
	"github.com/ValentinKolb/dFlow/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcClient *client.PartitionClient

	// RoleCommands represents the role command group
	RoleCommands = &cobra.Command{
		Use:                "role",
		Short:              "Manage roles and their members",
		PersistentPreRunE:  setupClient,
		PersistentPostRunE: closeClient,
	}

	// UserCommands represents the user command group
	UserCommands = &cobra.Command{
		Use:                "user",
		Short:              "Manage users",
		PersistentPreRunE:  setupClient,
		PersistentPostRunE: closeClient,
	}

	// AuthorizationCommands represents the authorization command group
	AuthorizationCommands = &cobra.Command{
		Use:                "authorization",
		Short:              "Grant and revoke permissions",
		PersistentPreRunE:  setupClient,
		PersistentPostRunE: closeClient,
	}

	// TenantCommands represents the tenant command group
	TenantCommands = &cobra.Command{
		Use:                "tenant",
		Short:              "Manage tenants and their members",
		PersistentPreRunE:  setupClient,
		PersistentPostRunE: closeClient,
	}
)

func init() {
	cobra.OnInitialize(util.InitEnv)

	for _, group := range []*cobra.Command{RoleCommands, UserCommands, AuthorizationCommands, TenantCommands} {
		util.SetupRPCClientFlags(group)
	}

	RoleCommands.AddCommand(roleCreateCmd, roleUpdateCmd, roleDeleteCmd, roleAddUserCmd, roleRemoveUserCmd)
	UserCommands.AddCommand(userCreateCmd, userDeleteCmd)
	AuthorizationCommands.AddCommand(authorizationCreateCmd, authorizationDeleteCmd)
	TenantCommands.AddCommand(tenantCreateCmd, tenantAddUserCmd)

	userCreateCmd.Flags().String("name", "", "Display name of the user")
	userCreateCmd.Flags().String("email", "", "Email address of the user")
	userCreateCmd.Flags().String("password", "", "Password of the user")

	authorizationCreateCmd.Flags().String("owner-type", "user", util.WrapString("Type of the owner (user, role)"))
	authorizationCreateCmd.Flags().String("resource-id", protocol.WildcardResourceID, util.WrapString("ID of the resource, * grants the permissions on all resources of the type"))
}

// setupClient connects the partition client used by the subcommands
func setupClient(cmd *cobra.Command, _ []string) error {
	var err error
	rpcClient, err = util.NewPartitionClient(cmd)
	return err
}

func closeClient(_ *cobra.Command, _ []string) error {
	if rpcClient == nil {
		return nil
	}
	return rpcClient.Close()
}

// --------------------------------------------------------------------------
// Enum parsing
// --------------------------------------------------------------------------

func parseOwnerType(value string) (protocol.OwnerType, error) {
	for _, t := range []protocol.OwnerType{protocol.OwnerTUser, protocol.OwnerTRole} {
		if strings.EqualFold(t.String(), value) {
			return t, nil
		}
	}
	return protocol.OwnerTUnspecified, fmt.Errorf("invalid owner type %s (expected one of: user, role)", value)
}

func parseResourceType(value string) (protocol.ResourceType, error) {
	for _, t := range []protocol.ResourceType{
		protocol.ResourceTAuthorization,
		protocol.ResourceTRole,
		protocol.ResourceTTenant,
		protocol.ResourceTUser,
		protocol.ResourceTMessage,
	} {
		if strings.EqualFold(t.String(), value) {
			return t, nil
		}
	}
	return protocol.ResourceTUnspecified, fmt.Errorf("invalid resource type %s (expected one of: authorization, role, tenant, user, message)", value)
}

// parsePermissions parses a comma separated list like "create,read"
func parsePermissions(value string) ([]protocol.PermissionType, error) {
	var permissions []protocol.PermissionType
next:
	for _, name := range strings.Split(value, ",") {
		name = strings.TrimSpace(name)
		for _, p := range []protocol.PermissionType{
			protocol.PermissionTCreate,
			protocol.PermissionTRead,
			protocol.PermissionTUpdate,
			protocol.PermissionTDelete,
		} {
			if strings.EqualFold(p.String(), name) {
				permissions = append(permissions, p)
				continue next
			}
		}
		return nil, fmt.Errorf("invalid permission %s (expected one of: create, read, update, delete)", name)
	}
	return permissions, nil
}
