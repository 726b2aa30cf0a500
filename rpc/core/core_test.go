package core

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dPort/lib/bottle"
	"github.com/ValentinKolb/dPort/lib/names"
	"github.com/ValentinKolb/dPort/rpc/common"
	"github.com/ValentinKolb/dPort/rpc/protocol"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const (
	testTimeout = 2 * time.Second
	waitFor     = 3 * time.Second
	tick        = 5 * time.Millisecond
)

// startCore opens a running core registered in table, closed on cleanup
func startCore(t *testing.T, table *names.Table, name string) *Core {
	return startCoreWithTimeout(t, table, name, testTimeout)
}

func startCoreWithTimeout(t *testing.T, table *names.Table, name string, timeout time.Duration) *Core {
	config := common.DefaultPortConfig(name)
	config.Timeout = timeout

	opts := Options{}
	if table != nil {
		opts.Names = table
	}
	c := New(config, opts)
	require.NoError(t, c.Listen(config.Address))
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// collect installs a reader that forwards every message to the returned channel
func collect(c *Core, reply func(Message) *bottle.Bottle) chan Message {
	ch := make(chan Message, 1024)
	c.SetReader(func(msg Message) *bottle.Bottle {
		ch <- msg
		if reply != nil {
			return reply(msg)
		}
		return nil
	})
	return ch
}

func receive(t *testing.T, ch chan Message) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(waitFor):
		t.Fatal("no message received")
		return Message{}
	}
}

func unitsOf(c *Core, dir Direction) []UnitReport {
	var units []UnitReport
	for _, u := range c.Describe().Units {
		if u.Direction == dir {
			units = append(units, u)
		}
	}
	return units
}

// TestLifecycle tests the phases and that Close leaves nothing behind
func TestLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	table := names.NewTable()
	config := common.DefaultPortConfig("/life")
	c := New(config, Options{Names: table})
	require.Equal(t, PhaseDormant, c.Phase())
	require.NoError(t, c.Close())

	require.NoError(t, c.Listen(config.Address))
	require.Equal(t, PhaseListening, c.Phase())
	require.NotZero(t, c.Address().Port)
	require.ErrorIs(t, c.Listen(config.Address), common.ErrConfiguration)

	registered, err := table.Resolve(context.Background(), "/life")
	require.NoError(t, err)
	require.Equal(t, c.Address(), registered)

	require.NoError(t, c.Start())
	require.Equal(t, PhaseRunning, c.Phase())
	require.ErrorIs(t, c.Start(), common.ErrConfiguration)

	// one inbound and one outbound connection
	peer := startCore(t, table, "/peer")
	require.NoError(t, c.AddOutput(context.Background(), "/peer", common.ConnectOptions{}))
	require.NoError(t, peer.AddOutput(context.Background(), "/life", common.ConnectOptions{}))
	require.Eventually(t, func() bool { return len(c.Describe().Units) == 2 }, waitFor, tick)

	require.NoError(t, c.Close())
	require.Equal(t, PhaseFinished, c.Phase())
	require.Empty(t, c.units)
	require.Empty(t, c.Describe().Units)
	_, err = table.Resolve(context.Background(), "/life")
	require.ErrorIs(t, err, common.ErrAddress)

	require.NoError(t, c.Close())
	require.Equal(t, PhaseFinished, c.Phase())

	// the input of the peer ends with the connection
	require.Eventually(t, func() bool { return len(unitsOf(peer, DirectionInput)) == 0 }, waitFor, tick)
	require.NoError(t, peer.Close())
}

// TestListenErrors tests bad listen addresses
func TestListenErrors(t *testing.T) {
	c := New(common.DefaultPortConfig("/bad"), Options{})
	require.ErrorIs(t, c.Listen(common.Address{}), common.ErrAddress)
	require.ErrorIs(t, c.Listen(common.Address{Host: "127.0.0.1", Carrier: "zstd"}), common.ErrConfiguration)

	other := startCore(t, nil, "/other")
	require.ErrorIs(t, c.Listen(other.Address()), common.ErrAddress)
	require.Equal(t, PhaseDormant, c.Phase())
}

// TestUnknownFingerprint tests the diagnostic for a peer speaking something else
func TestUnknownFingerprint(t *testing.T) {
	c := startCore(t, nil, "/target")

	conn, err := net.Dial("tcp", c.Address().Endpoint())
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(waitFor))

	_, err = conn.Write([]byte("HELLO?\r\n"))
	require.NoError(t, err)
	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Contains(t, string(data), "Protocol not found")

	// the core keeps serving
	ch := collect(c, nil)
	sender := startCore(t, nil, "/sender")
	require.NoError(t, sender.AddOutput(context.Background(), c.Address().Contact(), common.ConnectOptions{}))
	require.True(t, sender.Send(bottle.New(bottle.String("still here")), nil))
	require.Equal(t, "still here", receive(t, ch).Content.Get(0).AsString())
}

// TestBroadcast tests that one Send reaches every output exactly once and
// that removing an output while sending leaves the others unaffected
func TestBroadcast(t *testing.T) {
	table := names.NewTable()
	sender := startCore(t, table, "/sender")
	r1 := startCore(t, table, "/r1")
	r2 := startCore(t, table, "/r2")
	ch1, ch2 := collect(r1, nil), collect(r2, nil)

	ctx := context.Background()
	require.NoError(t, sender.AddOutput(ctx, "/r1", common.ConnectOptions{}))
	require.NoError(t, sender.AddOutput(ctx, "/r2", common.ConnectOptions{Carrier: "fast_tcp"}))

	require.True(t, sender.Send(bottle.New(bottle.Int32(0)), nil))
	require.Equal(t, int32(0), receive(t, ch1).Content.Get(0).AsInt32())
	msg := receive(t, ch2)
	require.Equal(t, int32(0), msg.Content.Get(0).AsInt32())
	require.Equal(t, common.NewRoute("/sender", "/r2", "fast_tcp"), msg.Route)

	require.Eventually(t, func() bool {
		for _, u := range sender.Describe().Units {
			if u.Sent != 1 {
				return false
			}
		}
		return true
	}, waitFor, tick)

	// remove /r1 while broadcasting
	const count = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= count; i++ {
			sender.Send(bottle.New(bottle.Int32(int32(i))), nil)
		}
	}()
	time.Sleep(time.Millisecond)
	require.Equal(t, 1, sender.RemoveUnit(common.NewRoute("/sender", "/r1", "tcp"), false))
	<-done

	for i := 1; i <= count; i++ {
		require.Equal(t, int32(i), receive(t, ch2).Content.Get(0).AsInt32())
	}
	require.Eventually(t, func() bool { return len(sender.Describe().Units) == 1 }, waitFor, tick)
	require.Eventually(t, func() bool {
		inFlight, _ := sender.pool.Stats()
		return inFlight == 0
	}, waitFor, tick)
}

// TestSendWithoutOutputs tests that a fan-out without subscribers is not an error
func TestSendWithoutOutputs(t *testing.T) {
	c := startCore(t, nil, "/lonely")
	require.False(t, c.Send(bottle.New(bottle.Int32(1)), nil))

	sink := NewReplySink()
	require.False(t, c.Send(bottle.New(bottle.Int32(1)), sink))
	_, err := sink.Wait(context.Background())
	require.ErrorIs(t, err, common.ErrStream)

	dormant := New(common.DefaultPortConfig("/dormant"), Options{})
	require.False(t, dormant.Send(bottle.New(), nil))
}

// TestOutputOnly tests a core that runs without listener
func TestOutputOnly(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	receiver := New(common.DefaultPortConfig("/receiver"), Options{})
	require.NoError(t, receiver.Listen(common.Address{Host: "127.0.0.1"}))
	require.NoError(t, receiver.Start())
	ch := collect(receiver, nil)

	c := New(common.DefaultPortConfig("/writer"), Options{})
	require.NoError(t, c.Start())
	require.False(t, c.Address().Valid())

	require.NoError(t, c.AddOutput(context.Background(), receiver.Address().Contact(), common.ConnectOptions{}))
	require.True(t, c.Send(bottle.New(bottle.Int32(5)), nil))
	require.Equal(t, int32(5), receive(t, ch).Content.Get(0).AsInt32())

	require.NoError(t, c.Close())
	require.NoError(t, receiver.Close())
}

// TestRemoveUnitStructuralRoute tests that routes match by value
func TestRemoveUnitStructuralRoute(t *testing.T) {
	table := names.NewTable()
	sender := startCore(t, table, "/sender")
	startCore(t, table, "/a")
	startCore(t, table, "/b")

	ctx := context.Background()
	require.NoError(t, sender.AddOutput(ctx, "/a", common.ConnectOptions{}))
	require.NoError(t, sender.AddOutput(ctx, "/b", common.ConnectOptions{}))
	require.NoError(t, sender.AddOutput(ctx, "/b", common.ConnectOptions{}), "connecting twice is a no-op")
	require.Len(t, sender.Describe().Units, 2)

	route := sender.Describe().Units[0].Route
	rebuilt := common.NewRoute(route.From, route.To, route.Carrier)
	require.Equal(t, 1, sender.RemoveUnit(rebuilt, true))
	require.Equal(t, 0, sender.RemoveUnit(rebuilt, true))
	require.Len(t, sender.Describe().Units, 1)

	require.Equal(t, 0, sender.RemoveUnit(common.NewRoute("*", "/nobody", "*"), true))
	require.Equal(t, 1, sender.RemoveUnit(common.NewRoute("/sender", "*", "*"), true))
	require.Empty(t, sender.Describe().Units)
}

// TestAckBackpressure tests that an output does not frame the next message
// before the previous one was acknowledged
func TestAckBackpressure(t *testing.T) {
	sender := startCore(t, nil, "/sender")

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	peerCh := make(chan *protocol.Protocol, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		p := protocol.New(conn, protocol.Options{LocalName: "/raw"})
		if p.Accept() == nil {
			peerCh <- p
		}
	}()

	contact := "tcp://" + l.Addr().String()
	require.NoError(t, sender.AddOutput(context.Background(), contact, common.ConnectOptions{Carrier: "tcp"}))
	peer := <-peerCh
	defer peer.Close()

	require.True(t, sender.Send(bottle.New(bottle.Int32(1)), nil))
	require.True(t, sender.Send(bottle.New(bottle.Int32(2)), nil))

	_, first, err := peer.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, int32(1), first.Get(0).AsInt32())

	var second atomic.Pointer[bottle.Bottle]
	go func() {
		if _, b, err := peer.ReadMessage(); err == nil {
			second.Store(b)
		}
	}()

	// without ack the second message is not framed
	require.Never(t, func() bool { return second.Load() != nil }, 200*time.Millisecond, tick)
	require.Equal(t, 1, sender.Describe().Units[0].Queued)

	require.NoError(t, peer.SendAck())
	require.Eventually(t, func() bool { return second.Load() != nil }, waitFor, tick)
	require.Equal(t, int32(2), second.Load().Get(0).AsInt32())
}

// TestRPC tests replies from several outputs, the first one wins
func TestRPC(t *testing.T) {
	table := names.NewTable()
	sender := startCore(t, table, "/client")
	for _, name := range []string{"/s1", "/s2"} {
		server := startCore(t, table, name)
		collect(server, func(msg Message) *bottle.Bottle {
			return msg.Content.Copy().AddString(server.Name())
		})
		require.NoError(t, sender.AddOutput(context.Background(), name, common.ConnectOptions{}))
	}

	sink := NewReplySink()
	require.True(t, sender.Send(bottle.New(bottle.String("ping")), sink))
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	reply, err := sink.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, "ping", reply.Get(0).AsString())
	require.Contains(t, []string{"/s1", "/s2"}, reply.Get(1).AsString())

	select {
	case <-sink.Done():
	case <-time.After(waitFor):
		t.Fatal("reply sink not completed")
	}
}

// TestReverse tests an input opened by the receiving side
func TestReverse(t *testing.T) {
	table := names.NewTable()
	source := startCore(t, table, "/source")
	sink := startCore(t, table, "/sink")
	ch := collect(sink, nil)

	require.NoError(t, sink.AddInput(context.Background(), "/source", common.ConnectOptions{}))
	require.Len(t, unitsOf(sink, DirectionInput), 1)
	require.Eventually(t, func() bool { return len(unitsOf(source, DirectionOutput)) == 1 }, waitFor, tick)

	require.Equal(t, common.NewRoute("/source", "/sink", "tcp"), unitsOf(source, DirectionOutput)[0].Route)
	require.True(t, source.Send(bottle.New(bottle.String("down")), nil))
	msg := receive(t, ch)
	require.Equal(t, "down", msg.Content.Get(0).AsString())
	require.Equal(t, common.NewRoute("/source", "/sink", "tcp"), msg.Route)
}

// TestAddOutputErrors tests that failed connects leave no unit behind
func TestAddOutputErrors(t *testing.T) {
	table := names.NewTable()
	c := startCore(t, table, "/c")
	target := startCore(t, table, "/target")
	ctx := context.Background()

	err := c.AddOutput(ctx, "/unknown", common.ConnectOptions{})
	require.ErrorIs(t, err, common.ErrConnect)
	require.ErrorIs(t, err, common.ErrAddress)

	err = c.AddOutput(ctx, "/target", common.ConnectOptions{Carrier: "snappy"})
	require.ErrorIs(t, err, common.ErrConnect)
	require.ErrorIs(t, err, common.ErrConfiguration)

	err = c.AddOutput(ctx, "/target", common.ConnectOptions{Carrier: "text", SendDelegate: "zstd"})
	require.ErrorIs(t, err, common.ErrConfiguration)

	// nothing listens here anymore
	closed := startCore(t, nil, "/closed")
	contact := closed.Address().Contact()
	require.NoError(t, closed.Close())
	err = c.AddOutput(ctx, contact, common.ConnectOptions{})
	require.ErrorIs(t, err, common.ErrConnect)

	require.Empty(t, c.Describe().Units)
	require.Empty(t, unitsOf(target, DirectionInput))

	dormant := New(common.DefaultPortConfig("/dormant"), Options{Names: table})
	require.ErrorIs(t, dormant.AddOutput(ctx, "/target", common.ConnectOptions{}), common.ErrConfiguration)
}

// TestDelegatesEndToEnd tests compressed connections between two cores
func TestDelegatesEndToEnd(t *testing.T) {
	table := names.NewTable()
	client := startCore(t, table, "/client")
	server := startCore(t, table, "/server")
	collect(server, func(msg Message) *bottle.Bottle { return msg.Content })

	opts := common.ConnectOptions{SendDelegate: "zstd", RecvDelegate: "snappy"}
	require.NoError(t, client.AddOutput(context.Background(), "/server", opts))

	payload := strings.Repeat("abc", 10000)
	sink := NewReplySink()
	require.True(t, client.Send(bottle.New(bottle.String(payload)), sink))
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	reply, err := sink.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, payload, reply.Get(0).AsString())

	// compressed on the wire
	require.Less(t, client.Describe().Units[0].MaxPayload, int64(len(payload)))
}

// TestTextSession tests a human talking to a port over a raw socket
func TestTextSession(t *testing.T) {
	c := startCore(t, nil, "/port")
	ch := collect(c, func(msg Message) *bottle.Bottle { return bottle.New(bottle.String("pong")) })

	conn, err := net.Dial("tcp", c.Address().Endpoint())
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(waitFor))
	r := bufio.NewReader(conn)
	line := func() string {
		l, err := r.ReadString('\n')
		require.NoError(t, err)
		return strings.TrimSpace(l)
	}

	_, err = conn.Write([]byte("CONNECT /human\n"))
	require.NoError(t, err)
	require.Equal(t, "Welcome /port", line())

	_, err = conn.Write([]byte("1 2 \"three\"\n"))
	require.NoError(t, err)
	msg := receive(t, ch)
	require.Equal(t, common.KindData, msg.Kind)
	require.Equal(t, common.NewRoute("/human", "/port", "text"), msg.Route)

	_, err = conn.Write([]byte("r\nping\n"))
	require.NoError(t, err)
	require.Equal(t, "pong", line())

	_, err = conn.Write([]byte("a\n[ver]\n"))
	require.NoError(t, err)
	require.Equal(t, "[ver] 1 0 0", line())

	// nesting beyond the decoder limit fails the message, not the connection
	_, err = conn.Write([]byte("r\n" + strings.Repeat("(", 100000) + "\n"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line(), "[fail]"))

	_, err = conn.Write([]byte("r\nping\n"))
	require.NoError(t, err)
	require.Equal(t, "pong", line())
}

// TestIdleConnections tests that connections without traffic outlast the timeout
func TestIdleConnections(t *testing.T) {
	const short = 300 * time.Millisecond
	table := names.NewTable()
	sender := startCoreWithTimeout(t, table, "/sender", short)
	receiver := startCoreWithTimeout(t, table, "/receiver", short)
	ch := collect(receiver, nil)
	require.NoError(t, sender.AddOutput(context.Background(), "/receiver", common.ConnectOptions{}))

	require.True(t, sender.Send(bottle.New(bottle.Int32(1)), nil))
	require.Equal(t, int32(1), receive(t, ch).Content.Get(0).AsInt32())

	time.Sleep(3 * short)
	require.Len(t, unitsOf(receiver, DirectionInput), 1)
	require.Len(t, unitsOf(sender, DirectionOutput), 1)

	require.True(t, sender.Send(bottle.New(bottle.Int32(2)), nil))
	require.Equal(t, int32(2), receive(t, ch).Content.Get(0).AsInt32())
}

// TestTimeoutEndsOnlyThatUnit tests that a peer which never acknowledges
// loses its connection while the other outputs keep working
func TestTimeoutEndsOnlyThatUnit(t *testing.T) {
	const short = 300 * time.Millisecond
	table := names.NewTable()
	sender := startCoreWithTimeout(t, table, "/sender", short)
	receiver := startCoreWithTimeout(t, table, "/receiver", short)
	ch := collect(receiver, nil)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	peerCh := make(chan *protocol.Protocol, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		p := protocol.New(conn, protocol.Options{LocalName: "/mute"})
		if p.Accept() == nil {
			peerCh <- p
		}
	}()

	ctx := context.Background()
	require.NoError(t, sender.AddOutput(ctx, "tcp://"+l.Addr().String(), common.ConnectOptions{Carrier: "tcp"}))
	peer := <-peerCh
	defer peer.Close()
	require.NoError(t, sender.AddOutput(ctx, "/receiver", common.ConnectOptions{}))
	require.Len(t, unitsOf(sender, DirectionOutput), 2)

	require.True(t, sender.Send(bottle.New(bottle.Int32(1)), nil))
	_, _, err = peer.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, int32(1), receive(t, ch).Content.Get(0).AsInt32())

	// the ack never comes
	require.Eventually(t, func() bool { return len(unitsOf(sender, DirectionOutput)) == 1 }, waitFor, tick)
	require.Equal(t, "/receiver", unitsOf(sender, DirectionOutput)[0].Route.To)

	require.True(t, sender.Send(bottle.New(bottle.Int32(2)), nil))
	require.Equal(t, int32(2), receive(t, ch).Content.Get(0).AsInt32())
}
