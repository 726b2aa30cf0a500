/*
Package core manages the connections of one port.

A Core listens for connections, runs one goroutine (a unit) per live
connection and broadcasts outgoing messages to all output units.

Lifecycle:

	dormant --Listen--> listening --Start--> running --Close--> closing --> finished

A dormant Core can be started without Listen. It then only connects to
other ports. A finished Core can be started again.

Broadcasting takes the state lock only to hand a Packet to every active
output unit; the units do the I/O on their own goroutines. A Packet counts
its holders and goes back to the pool when the last one releases it:

	pkt := pool.Get(kind, content, reply)  // pending = 1 (the sender)
	pkt.Retain(); unit.queue.Push(pkt)      // pending + 1 per output
	pkt.Release()                           // sender done; each unit releases after transmitting

Errors inside a unit end that unit only. Finished units are dropped from
the unit list by the accept loop, which is woken whenever a unit finishes
or is removed.

Messages sent with the admin kind ([help], [ver], [list], [add], [del]) are
answered by the Core itself and never reach the reader.
*/
package core
