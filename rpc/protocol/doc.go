/*
Package protocol runs the handshake and the message framing of a single
connection between two ports.

The initiator writes the 8 byte fingerprint of its carrier, its name and the
carrier specific extra header; the responder selects the carrier from the
fingerprint, reads the rest and answers. Afterwards both sides exchange
frames: messages (data, rpc, admin), replies and, on carriers that need
them, acknowledgements.

Ordering on a connection with acknowledgements:

	initiator                        responder
	WriteMessage(rpc) ------------->  ReadMessage
	ExpectReply       <-------------  WriteReply
	ExpectAck         <-------------  SendAck

A Protocol is owned by one goroutine. Close may be called from any goroutine
to interrupt a blocked read.
*/
package protocol
