// Package tcp implements TCP socket connectors for ports. It provides
// concrete implementations of the transport package's connector interfaces
// and applies the TCPConf and SocketConf settings (TCP_NODELAY, keep-alive,
// linger, socket buffer sizes) to every accepted or dialed connection.
//
// Key Components:
//
//   - ClientConnector: dials TCP endpoints, bounded by a context
//
//   - ServerConnector: creates TCP listeners and upgrades accepted connections
package tcp
