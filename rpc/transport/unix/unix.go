package unix

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"

	"github.com/ValentinKolb/dPort/rpc/common"
)

// ServerConnector implements transport.IServerConnector for Unix sockets
type ServerConnector struct{}

// ClientConnector implements transport.IClientConnector for Unix sockets
type ClientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IServerConnector)
// --------------------------------------------------------------------------

func (c *ServerConnector) GetName() string {
	return "unix"
}

func (c *ServerConnector) Listen(addr common.Address) (net.Listener, error) {
	socketPath := addr.Endpoint()

	// Remove a stale socket file, but never anything else
	if info, err := os.Lstat(socketPath); err == nil {
		if info.Mode()&fs.ModeSocket == 0 {
			return nil, common.NewError(common.CodeAddress, nil, "%s exists and is not a socket", socketPath)
		}
		if err := os.Remove(socketPath); err != nil {
			return nil, common.NewError(common.CodeAddress, err, "failed to remove existing socket")
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, common.NewError(common.CodeAddress, err, "failed to inspect %s", socketPath)
	}

	// Create Unix socket listener
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, common.NewError(common.CodeAddress, err, "failed to create Unix socket")
	}

	return listener, nil
}

func (c *ServerConnector) UpgradeConnection(conn net.Conn, config common.PortConfig) error {
	return upgrade(conn, config)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IClientConnector)
// --------------------------------------------------------------------------

func (c *ClientConnector) GetName() string {
	return "unix"
}

func (c *ClientConnector) Connect(ctx context.Context, addr common.Address, config common.PortConfig) (net.Conn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", addr.Endpoint())
	if err != nil {
		return nil, err
	}
	if err := upgrade(conn, config); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// upgrade applies the socket buffer sizes from SocketConf
func upgrade(conn net.Conn, config common.PortConfig) error {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}
	if config.SocketConf.WriteBufferSize > 0 {
		if err := unixConn.SetWriteBuffer(config.SocketConf.WriteBufferSize); err != nil {
			return err
		}
	}
	if config.SocketConf.ReadBufferSize > 0 {
		if err := unixConn.SetReadBuffer(config.SocketConf.ReadBufferSize); err != nil {
			return err
		}
	}
	return nil
}
