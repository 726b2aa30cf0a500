/*
Package port is the application side of dPort.

A Port has a name, optionally listens on an address and keeps any number
of inputs and outputs. Everything written to a port is broadcast to all of
its outputs; everything arriving on its inputs can be read:

	p, err := port.Open(common.DefaultPortConfig("/sensor/out"), port.Options{})
	if err != nil {
		return err
	}
	defer p.Close()

	_ = p.AddOutput(ctx, "/logger/in", common.ConnectOptions{Carrier: "tcp"})
	p.Write(bottle.New(bottle.String("temperature"), bottle.Float64(21.5)))

Destinations are names looked up in the name service (names.Default() if
none is given) or contact strings such as "tcp://127.0.0.1:10002".

Messages sent with WriteRPC wait for the first reply of any output. On the
receiving side the reply is given with Reply after Read, or returned from
the callback installed with SetReader.
*/
package port
