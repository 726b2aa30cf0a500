// Package rpc provides the communication layer of dPort: named ports that
// connect over pluggable carriers and exchange self-describing bottles.
//
// The package is organized into several subpackages:
//
//   - common: Data structures and utilities used across all packages,
//     including routes, addresses, the port configuration, the error codes,
//     the administrative commands and logging.
//
//   - serializer: Bottle serialization in binary and text form.
//
//   - carrier: The carrier abstraction, its capabilities and the registry of
//     built-in carriers (tcp, fast_tcp, text, text_ack) and delegates (zstd, snappy).
//
//   - transport: Network connectors (TCP, Unix sockets) that listen and dial.
//
//   - protocol: The per-connection handshake and message framing.
//
//   - core: The connection manager of one port (accept loop, units, broadcast).
//
//   - port: The application API on top of core.
package rpc
