// Package cmd implements the command-line interface of dPort. It provides
// commands to open ports, send and receive messages and manage the
// connections of running ports.
//
// The package is organized into several subpackages:
//
//   - stream: Commands that move data (read, write, rpc)
//   - admin: Commands that send administrative commands to a running port (connect, disconnect, list)
//   - serve: Command that runs a relay port with a Prometheus metrics endpoint
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dport -help for a list of all commands.
package cmd
