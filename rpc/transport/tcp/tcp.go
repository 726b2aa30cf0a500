package tcp

import (
	"context"
	"net"
	"time"

	"github.com/ValentinKolb/dPort/rpc/common"
)

// ServerConnector implements transport.IServerConnector for TCP sockets
type ServerConnector struct{}

// ClientConnector implements transport.IClientConnector for TCP sockets
type ClientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IServerConnector)
// --------------------------------------------------------------------------

func (c *ServerConnector) GetName() string {
	return "tcp"
}

func (c *ServerConnector) Listen(addr common.Address) (net.Listener, error) {
	// Create TCP socket listener
	listener, err := net.Listen("tcp", addr.Endpoint())
	if err != nil {
		return nil, common.NewError(common.CodeAddress, err, "failed to create TCP socket on %s", addr.Endpoint())
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
	return "tcp"
}

func (c *ClientConnector) Connect(ctx context.Context, addr common.Address, config common.PortConfig) (net.Conn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr.Endpoint())
	if err != nil {
		return nil, err
	}
	if err := upgrade(conn, config); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// upgrade applies performance optimizations to a TCP connection
// using configuration values from TCPConf and SocketConf
func upgrade(conn net.Conn, config common.PortConfig) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}

	// Disable Nagle's algorithm (TCPNoDelay) if configured
	if err := tcpConn.SetNoDelay(config.TCPConf.TCPNoDelay); err != nil {
		return err
	}

	// Set socket write buffer size if configured
	if config.SocketConf.WriteBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(config.SocketConf.WriteBufferSize); err != nil {
			return err
		}
	}

	// Set socket read buffer size if configured
	if config.SocketConf.ReadBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(config.SocketConf.ReadBufferSize); err != nil {
			return err
		}
	}

	// Enable TCP keep-alive if configured
	if config.TCPConf.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}

		// Set keep-alive period
		keepAlivePeriod := time.Duration(config.TCPConf.TCPKeepAliveSec) * time.Second
		if err := tcpConn.SetKeepAlivePeriod(keepAlivePeriod); err != nil {
			return err
		}
	}

	// Set TCP linger option if configured
	if config.TCPConf.TCPLingerSec >= 0 {
		if err := tcpConn.SetLinger(config.TCPConf.TCPLingerSec); err != nil {
			return err
		}
	}

	return nil
}
