package message

import (
	"fmt"

	"github.com/ValentinKolb/dFlow/cmd/util"
	"github.com/ValentinKolb/dFlow/lib/protocol"
	"github.com/ValentinKolb/dFlow/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcClient *client.PartitionClient

	// MessageCommands represents the message subscription command group
	MessageCommands = &cobra.Command{
		Use:   "message",
		Short: "Open, correlate and close message subscriptions",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			rpcClient, err = util.NewPartitionClient(cmd)
			return err
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if rpcClient == nil {
				return nil
			}
			return rpcClient.Close()
		},
	}

	openCmd = &cobra.Command{
		Use:   "open [elementInstanceKey] [messageName] [correlationKey]",
		Short: "Opens a subscription of an element instance",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := subscription(args[0], args[1])
			if err != nil {
				return err
			}
			sub.CorrelationKey = args[2]
			sub.Interrupting, _ = cmd.Flags().GetBool("interrupting")
			if err := rpcClient.OpenMessageSubscription(util.GetPartitionID(), sub); err != nil {
				return err
			}
			fmt.Println("opened successfully")
			return nil
		},
	}
	correlateCmd = &cobra.Command{
		Use:   "correlate [elementInstanceKey] [messageName] [messageKey]",
		Short: "Correlates a message to a subscription",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := subscription(args[0], args[1])
			if err != nil {
				return err
			}
			if sub.MessageKey, err = util.ParseKey("messageKey", args[2]); err != nil {
				return err
			}
			if variables, _ := cmd.Flags().GetString("variables"); variables != "" {
				sub.Variables = []byte(variables)
			}
			if err := rpcClient.CorrelateMessage(util.GetPartitionID(), sub); err != nil {
				return err
			}
			fmt.Println("correlated successfully")
			return nil
		},
	}
	closeCmd = &cobra.Command{
		Use:   "close [elementInstanceKey] [messageName]",
		Short: "Closes a subscription",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := subscription(args[0], args[1])
			if err != nil {
				return err
			}
			if err := rpcClient.CloseMessageSubscription(util.GetPartitionID(), sub.ElementInstanceKey, sub.MessageName); err != nil {
				return err
			}
			fmt.Println("closed successfully")
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitEnv)
	util.SetupRPCClientFlags(MessageCommands)

	MessageCommands.AddCommand(openCmd, correlateCmd, closeCmd)

	openCmd.Flags().Bool("interrupting", true, util.WrapString("Whether the correlation interrupts the element instance"))
	correlateCmd.Flags().String("variables", "", util.WrapString("Variables of the message (e.g. a json document)"))
}

func subscription(elementInstanceKey, messageName string) (protocol.MessageSubscriptionRecord, error) {
	key, err := util.ParseKey("elementInstanceKey", elementInstanceKey)
	if err != nil {
		return protocol.MessageSubscriptionRecord{}, err
	}
	return protocol.MessageSubscriptionRecord{ElementInstanceKey: key, MessageName: messageName}, nil
}
