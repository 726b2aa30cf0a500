// Package carrier implements the wire protocols ("carriers") a port speaks.
// A carrier decides how a connection is opened and how messages are framed,
// while the protocol package drives the sequence of handshake and framing
// steps. New wire protocols are added by registering another carrier, the
// port core and the protocol engine stay untouched.
//
// Key Components:
//
//   - ICarrier: Name, 8 byte fingerprint and immutable Capabilities.
//
//   - IStreamCarrier: Primary carriers. They implement the handshake callbacks
//     (SendHeader, ExpectSenderSpecifier, ExpectExtraHeader, ...) and the frame
//     codec. Built-ins are tcp (acknowledged), fast_tcp, text and text_ack.
//
//   - IDelegate: Byte transforming carriers (zstd, snappy). They have no
//     fingerprint and are attached to a connection as send or receive delegate,
//     never used as primary carrier.
//
//   - Registry: Lookup by name and by fingerprint, built once at startup.
//
// Fingerprints:
//
//	tcp       'Y' 'A' 0x64 0x1E 0 0 'R' 'P'
//	fast_tcp  'Y' 'A' 0x65 0x1E 0 0 'R' 'P'
//	text      "CONNECT "
//	text_ack  "CONNACK "
package carrier
