package transport

import (
	"context"
	"net"

	"github.com/ValentinKolb/dPort/rpc/common"
	"github.com/ValentinKolb/dPort/rpc/transport/tcp"
	"github.com/ValentinKolb/dPort/rpc/transport/unix"
)

// --------------------------------------------------------------------------
// Connector interfaces
// --------------------------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
	// Listen creates a listener for the address and returns it
	Listen(addr common.Address) (net.Listener, error)
	// UpgradeConnection applies the socket settings of the config to an accepted connection
	UpgradeConnection(conn net.Conn, config common.PortConfig) error
}

// IClientConnector defines the interface for transport-specific client operations
type IClientConnector interface {
	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
	// Connect dials the address and applies the socket settings of the config.
	// The context bounds the dial only, not the returned connection.
	Connect(ctx context.Context, addr common.Address, config common.PortConfig) (net.Conn, error)
}

// --------------------------------------------------------------------------
// Connector selection
// --------------------------------------------------------------------------

// ServerFor returns the server connector that handles the address
func ServerFor(addr common.Address) IServerConnector {
	if addr.IsUnix() {
		return &unix.ServerConnector{}
	}
	return &tcp.ServerConnector{}
}

// ClientFor returns the client connector that handles the address
func ClientFor(addr common.Address) IClientConnector {
	if addr.IsUnix() {
		return &unix.ClientConnector{}
	}
	return &tcp.ClientConnector{}
}
