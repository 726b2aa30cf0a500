/*
Package names resolves port names to network addresses.

Ports address each other by name ("/camera/left"). A listening port
registers its bound address, a port that adds an output resolves the
destination. Names that are contact strings ("tcp://host:port",
"text:///run/port.sock") resolve to themselves, so two processes can talk
without a shared name service:

	table, err := names.ParseTable("/cam=tcp://10.0.0.5:10002,/log=text:///tmp/log.sock")
	addr, err := table.Resolve(ctx, "/cam")
*/
package names
