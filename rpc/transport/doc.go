// Package transport defines the network connectors a port uses to accept
// and open byte streams. The wire protocol on top of the stream is the
// business of the carrier and protocol packages, a connector only creates
// listeners, dials and applies socket options.
//
// Key Components:
//
//   - IServerConnector: Creates a listener for an Address and upgrades
//     accepted connections with the configured socket options.
//
//   - IClientConnector: Dials an Address with a context and applies the same
//     socket options to the new connection.
//
//   - ServerFor / ClientFor: Select the tcp or unix implementation from the
//     address (a host starting with "/" is a unix socket path).
package transport
