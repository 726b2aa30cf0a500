// Package common provides core data structures and utilities shared across
// the port packages. It defines fundamental types, configuration structures,
// the error taxonomy and protocol elements used by the other packages.
//
// The package focuses on:
//   - Routes and addresses that identify connections and ports
//   - Configuration structures for ports and outgoing connections
//   - The error classes every port operation returns
//   - Custom logging implementation integrated with the Dragonboat logger
//
// Key Components:
//
//   - Route: The (from, to, carrier) triple of one connection. Removal queries
//     use Route values as patterns where "*" matches any field value.
//
//   - Address: Network location of a port, either host:port or a unix socket
//     path. Contact strings ("tcp://localhost:10002") address a port without
//     a name service.
//
//   - MessageKind: Tag of every frame (data, rpc, admin, reply, ack).
//
//   - Admin commands: Bottles starting with a vocab code ([list], [add], ...)
//     that a port answers itself instead of passing them to the reader.
//
//   - PortConfig: Configuration of one port, including timeouts, payload
//     limits and socket settings.
//
//   - Error: Error type carrying an ErrorCode. Match the class with
//     errors.Is(err, common.ErrHandshake) and friends.
//
//   - Logger: Custom logging implementation that plugs into Dragonboat's
//     logger registry while providing consistent formatting across the application.
package common
