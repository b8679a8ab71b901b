package identity

import (
	"fmt"

	"github.com/ValentinKolb/dFlow/cmd/util"
	"github.com/ValentinKolb/dFlow/lib/protocol"
	"github.com/spf13/cobra"
)

var (
	roleCreateCmd = &cobra.Command{
		Use:   "create [name]",
		Short: "Creates a role and distributes it to all partitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := rpcClient.CreateRole(util.GetPartitionID(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("created role %s with key %d\n", args[0], key)
			return nil
		},
	}
	roleUpdateCmd = &cobra.Command{
		Use:   "update [roleKey] [name]",
		Short: "Renames a role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			roleKey, err := util.ParseKey("roleKey", args[0])
			if err != nil {
				return err
			}
			if err := rpcClient.UpdateRole(util.GetPartitionID(), roleKey, args[1]); err != nil {
				return err
			}
			fmt.Println("updated successfully")
			return nil
		},
	}
	roleDeleteCmd = &cobra.Command{
		Use:   "delete [roleKey]",
		Short: "Deletes a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roleKey, err := util.ParseKey("roleKey", args[0])
			if err != nil {
				return err
			}
			if err := rpcClient.DeleteRole(util.GetPartitionID(), roleKey); err != nil {
				return err
			}
			fmt.Println("deleted successfully")
			return nil
		},
	}
	roleAddUserCmd = &cobra.Command{
		Use:   "add-user [roleKey] [userKey]",
		Short: "Assigns a user to a role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			roleKey, userKey, err := parseKeyPair("roleKey", args[0], args[1])
			if err != nil {
				return err
			}
			if err := rpcClient.AddUserToRole(util.GetPartitionID(), roleKey, userKey); err != nil {
				return err
			}
			fmt.Println("user added successfully")
			return nil
		},
	}
	roleRemoveUserCmd = &cobra.Command{
		Use:   "remove-user [roleKey] [userKey]",
		Short: "Removes a user from a role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			roleKey, userKey, err := parseKeyPair("roleKey", args[0], args[1])
			if err != nil {
				return err
			}
			if err := rpcClient.RemoveUserFromRole(util.GetPartitionID(), roleKey, userKey); err != nil {
				return err
			}
			fmt.Println("user removed successfully")
			return nil
		},
	}

	userCreateCmd = &cobra.Command{
		Use:   "create [username]",
		Short: "Creates a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")

			key, err := rpcClient.CreateUser(util.GetPartitionID(), protocol.UserRecord{
				Username: args[0],
				Name:     name,
				Email:    email,
				Password: password,
			})
			if err != nil {
				return err
			}
			fmt.Printf("created user %s with key %d\n", args[0], key)
			return nil
		},
	}
	userDeleteCmd = &cobra.Command{
		Use:   "delete [userKey]",
		Short: "Deletes a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userKey, err := util.ParseKey("userKey", args[0])
			if err != nil {
				return err
			}
			if err := rpcClient.DeleteUser(util.GetPartitionID(), userKey); err != nil {
				return err
			}
			fmt.Println("deleted successfully")
			return nil
		},
	}

	authorizationCreateCmd = &cobra.Command{
		Use:   "create [ownerKey] [resourceType] [permissions]",
		Short: "Grants permissions (e.g. create,read) on a resource type to a user or role",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerKey, err := util.ParseKey("ownerKey", args[0])
			if err != nil {
				return err
			}
			resourceType, err := parseResourceType(args[1])
			if err != nil {
				return err
			}
			permissions, err := parsePermissions(args[2])
			if err != nil {
				return err
			}
			ownerTypeName, _ := cmd.Flags().GetString("owner-type")
			ownerType, err := parseOwnerType(ownerTypeName)
			if err != nil {
				return err
			}
			resourceID, _ := cmd.Flags().GetString("resource-id")

			key, err := rpcClient.CreateAuthorization(util.GetPartitionID(), protocol.AuthorizationRecord{
				OwnerKey:     ownerKey,
				OwnerType:    ownerType,
				ResourceType: resourceType,
				ResourceID:   resourceID,
				Permissions:  permissions,
			})
			if err != nil {
				return err
			}
			fmt.Printf("created authorization with key %d\n", key)
			return nil
		},
	}
	authorizationDeleteCmd = &cobra.Command{
		Use:   "delete [authorizationKey]",
		Short: "Revokes an authorization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := util.ParseKey("authorizationKey", args[0])
			if err != nil {
				return err
			}
			if err := rpcClient.DeleteAuthorization(util.GetPartitionID(), key); err != nil {
				return err
			}
			fmt.Println("deleted successfully")
			return nil
		},
	}

	tenantCreateCmd = &cobra.Command{
		Use:   "create [tenantId] [name]",
		Short: "Creates a tenant and distributes it to all partitions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := rpcClient.CreateTenant(util.GetPartitionID(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("created tenant %s with key %d\n", args[0], key)
			return nil
		},
	}
	tenantAddUserCmd = &cobra.Command{
		Use:   "add-user [tenantKey] [userKey]",
		Short: "Assigns a user to a tenant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantKey, userKey, err := parseKeyPair("tenantKey", args[0], args[1])
			if err != nil {
				return err
			}
			if err := rpcClient.AddUserToTenant(util.GetPartitionID(), tenantKey, userKey); err != nil {
				return err
			}
			fmt.Println("user added successfully")
			return nil
		},
	}
)

func parseKeyPair(name, key, userKey string) (int64, int64, error) {
	k, err := util.ParseKey(name, key)
	if err != nil {
		return 0, 0, err
	}
	u, err := util.ParseKey("userKey", userKey)
	if err != nil {
		return 0, 0, err
	}
	return k, u, nil
}
