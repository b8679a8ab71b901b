package partition

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ValentinKolb/dFlow/cmd/util"
	"github.com/ValentinKolb/dFlow/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcClient *client.PartitionClient

	// PartitionCommands represents the partition command group
	PartitionCommands = &cobra.Command{
		Use:   "partition",
		Short: "Inspect and benchmark partitions",
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

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Prints the leadership and flow control state of a partition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := rpcClient.Status(util.GetPartitionID())
			if err != nil {
				return err
			}
			fmt.Printf("%-20s%d\n", "Partition", status.PartitionID)
			fmt.Printf("%-20s%t\n", "Leader", status.Leader)
			fmt.Printf("%-20s%d\n", "In-flight appends", status.InFlightAppends)
			fmt.Printf("%-20s%d\n", "In-flight bytes", status.InFlightBytes)
			fmt.Printf("%-20s%d\n", "Committed appends", status.CommittedAppends)
			fmt.Printf("%-20s%d\n", "Rejected appends", status.RejectedAppends)
			fmt.Printf("%-20s%s\n", "Commit latency", status.CommitLatencyMean)
			fmt.Printf("%-20s%s (persistent: %t)\n", "State", status.StateType, status.StatePersistent)
			fmt.Printf("%-20s%d\n", "State entries", status.StateEntries)
			fmt.Printf("%-20s%d\n", "State size (bytes)", status.StateSizeBytes)
			fmt.Printf("%-20s%s\n", "State features", strings.Join(status.StateFeatures, ", "))
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose && status.StateMetadata != nil {
				meta, err := json.MarshalIndent(status.StateMetadata, "", "  ")
				if err != nil {
					return err
				}
				fmt.Printf("%-20s%s\n", "State details", meta)
			}
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitEnv)
	util.SetupRPCClientFlags(PartitionCommands)

	PartitionCommands.AddCommand(statusCmd)
	statusCmd.Flags().Bool("verbose", false, util.WrapString("Also print the implementation specific statistics of the state"))
	PartitionCommands.AddCommand(perfTestCmd)
}
