package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dFlow/cmd/identity"
	"github.com/ValentinKolb/dFlow/cmd/message"
	"github.com/ValentinKolb/dFlow/cmd/partition"
	"github.com/ValentinKolb/dFlow/cmd/serve"
	"github.com/ValentinKolb/dFlow/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dflow",
		Short: "partitioned workflow engine",
		Long: fmt.Sprintf(`dFlow (v%s)

A partitioned, event-sourced workflow engine written in Go. Every partition
owns an append-only log, commands are processed into events and identity
changes are distributed to all partitions of the cluster.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dFlow",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dFlow v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(identity.RoleCommands)
	RootCmd.AddCommand(identity.UserCommands)
	RootCmd.AddCommand(identity.AuthorizationCommands)
	RootCmd.AddCommand(identity.TenantCommands)
	RootCmd.AddCommand(message.MessageCommands)
	RootCmd.AddCommand(partition.PartitionCommands)
	RootCmd.AddCommand(versionCmd)

	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary, msgpack)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (http, tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
