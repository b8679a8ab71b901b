// Package cmd implements the command-line interface of dFlow. It provides a
// hierarchical command structure for running a server and for submitting
// commands to its partitions as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a server hosting one or more partitions
//   - identity: Commands for roles, users, authorizations and tenants
//   - message: Commands for message subscriptions (open, correlate, close)
//   - partition: Status of a partition and a throughput benchmark
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dflow -help for a list of all commands.
package cmd
