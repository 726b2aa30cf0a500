// Package unix implements Unix domain socket connectors for ports running on
// the same machine. Addresses whose host starts with "/" are served by this
// package.
//
// Key Components:
//
//   - ClientConnector: Establishes connections using Unix domain sockets
//
//   - ServerConnector: Creates Unix socket listeners, replacing a stale socket
//     file left behind by a crashed process
package unix
