package protocol

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dPort/lib/bottle"
	"github.com/ValentinKolb/dPort/rpc/common"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

// pair returns both ends of an in-memory connection, closed on cleanup
func pair(t *testing.T, respOpts Options) (initiator, responder *Protocol) {
	a, b := net.Pipe()
	initiator = New(a, Options{LocalName: "/client", Timeout: testTimeout})
	if respOpts.LocalName == "" {
		respOpts.LocalName = "/server"
	}
	if respOpts.Timeout == 0 {
		respOpts.Timeout = testTimeout
	}
	responder = New(b, respOpts)
	t.Cleanup(func() {
		_ = initiator.Close()
		_ = responder.Close()
	})
	return initiator, responder
}

// connect runs both sides of the handshake
func connect(t *testing.T, opts common.ConnectOptions, reverse bool) (*Protocol, *Protocol) {
	initiator, responder := pair(t, Options{})

	errCh := make(chan error, 1)
	go func() { errCh <- responder.Accept() }()

	require.NoError(t, initiator.Open("/server", opts, reverse))
	require.NoError(t, <-errCh)
	return initiator, responder
}

// serve answers messages like an input unit until the connection fails
func serve(p *Protocol, handler func(kind common.MessageKind, b *bottle.Bottle) *bottle.Bottle) chan error {
	done := make(chan error, 1)
	go func() {
		for {
			kind, b, err := p.ReadMessage()
			if err != nil {
				done <- err
				return
			}
			if common.WantsReply(kind) {
				if err := p.WriteReply(handler(kind, b)); err != nil {
					done <- err
					return
				}
			}
			if err := p.SendAck(); err != nil {
				done <- err
				return
			}
		}
	}()
	return done
}

func echo(_ common.MessageKind, b *bottle.Bottle) *bottle.Bottle {
	return b.Copy().AddString("echo")
}

// TestHandshakeAllCarriers tests handshake, routes and an rpc round trip on every stream carrier
func TestHandshakeAllCarriers(t *testing.T) {
	for _, name := range []string{"tcp", "fast_tcp", "text", "text_ack"} {
		t.Run(name, func(t *testing.T) {
			initiator, responder := connect(t, common.ConnectOptions{Carrier: name}, false)

			require.Equal(t, name, initiator.Carrier().Name())
			require.Equal(t, name, responder.Carrier().Name())
			require.Equal(t, common.NewRoute("/client", "/server", name), initiator.Route())
			require.Equal(t, common.NewRoute("/client", "/server", name), responder.Route())
			require.True(t, initiator.IsInitiator())
			require.False(t, responder.IsInitiator())
			require.Equal(t, "/server", initiator.Header().Receiver)

			done := serve(responder, echo)

			msg := bottle.New(bottle.Int32(7), bottle.String("hello world"), bottle.Float64(1.5))
			require.NoError(t, initiator.WriteMessage(common.KindRPC, msg))
			reply, err := initiator.ExpectReply()
			require.NoError(t, err)
			require.NoError(t, initiator.ExpectAck())
			require.True(t, msg.Copy().AddString("echo").Equal(reply), "got %s", reply)

			// a one way message in between does not disturb the next rpc
			require.NoError(t, initiator.WriteMessage(common.KindData, bottle.New(bottle.Int32(1))))
			require.NoError(t, initiator.ExpectAck())
			require.NoError(t, initiator.WriteMessage(common.KindRPC, bottle.New(bottle.Int32(2))))
			reply, err = initiator.ExpectReply()
			require.NoError(t, err)
			require.NoError(t, initiator.ExpectAck())
			require.Equal(t, int32(2), reply.Get(0).AsInt32())

			require.NoError(t, initiator.Close())
			require.True(t, IsClosed(<-done))
		})
	}
}

// TestReverse tests that the responder can send on a reversed connection
func TestReverse(t *testing.T) {
	initiator, responder := connect(t, common.ConnectOptions{Carrier: "tcp"}, true)

	require.True(t, initiator.IsReverse())
	require.True(t, responder.IsReverse())
	require.Equal(t, common.NewRoute("/server", "/client", "tcp"), initiator.Route())
	require.Equal(t, initiator.Route(), responder.Route())

	done := serve(initiator, echo)
	require.NoError(t, responder.WriteMessage(common.KindRPC, bottle.New(bottle.String("up"))))
	reply, err := responder.ExpectReply()
	require.NoError(t, err)
	require.NoError(t, responder.ExpectAck())
	require.Equal(t, 2, reply.Size())

	require.NoError(t, responder.Close())
	<-done
}

// TestDelegates tests compressed payloads in both directions
func TestDelegates(t *testing.T) {
	for _, tc := range []struct{ send, recv string }{
		{"zstd", "snappy"},
		{"snappy", "zstd"},
		{"zstd", ""},
	} {
		t.Run(tc.send+"/"+tc.recv, func(t *testing.T) {
			opts := common.ConnectOptions{Carrier: "tcp", SendDelegate: tc.send, RecvDelegate: tc.recv}
			initiator, responder := connect(t, opts, false)
			require.Equal(t, tc.send, responder.Header().SendDelegate)
			require.Equal(t, tc.recv, responder.Header().RecvDelegate)

			done := serve(responder, echo)

			msg := bottle.New(bottle.String(strings.Repeat("compress me ", 1000)))
			require.NoError(t, initiator.WriteMessage(common.KindRPC, msg))
			reply, err := initiator.ExpectReply()
			require.NoError(t, err)
			require.NoError(t, initiator.ExpectAck())
			require.Equal(t, msg.Get(0).AsString(), reply.Get(0).AsString())

			require.NoError(t, initiator.Close())
			<-done
		})
	}
}

// TestUnknownDelegate tests that an unknown delegate fails on first use and stays failed
func TestUnknownDelegate(t *testing.T) {
	initiator, responder := connect(t, common.ConnectOptions{Carrier: "tcp", SendDelegate: "nope"}, false)
	require.True(t, initiator.IsOk())

	done := serve(responder, echo)

	err := initiator.WriteMessage(common.KindData, bottle.New(bottle.Int32(1)))
	require.ErrorIs(t, err, common.ErrHandshake)
	require.False(t, initiator.IsOk())

	err = initiator.WriteMessage(common.KindData, bottle.New(bottle.Int32(1)))
	require.Error(t, err)
	require.False(t, initiator.IsOk())

	// the connection was closed, the responder sees the end of the stream
	require.True(t, IsClosed(<-done))
}

// TestOpenConfigurationErrors tests that bad connect options fail before any I/O
func TestOpenConfigurationErrors(t *testing.T) {
	cases := []struct {
		name string
		opts common.ConnectOptions
		rev  bool
		want error
	}{
		{"unknown carrier", common.ConnectOptions{Carrier: "carrier-pigeon"}, false, common.ErrUnknownCarrier},
		{"delegate as primary", common.ConnectOptions{Carrier: "zstd"}, false, common.ErrConfiguration},
		{"text with delegate", common.ConnectOptions{Carrier: "text", SendDelegate: "zstd"}, false, common.ErrConfiguration},
		{"text reversed", common.ConnectOptions{Carrier: "text_ack"}, true, common.ErrConfiguration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, b := net.Pipe()
			defer b.Close()
			p := New(a, Options{LocalName: "/client"})
			defer p.Close()

			err := p.Prepare("/server", tc.opts, tc.rev)
			require.ErrorIs(t, err, tc.want)
			require.False(t, p.IsOk())
		})
	}
}

// TestUnknownFingerprint tests the banner written to a peer speaking something else
func TestUnknownFingerprint(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	responder := New(b, Options{LocalName: "/server", Timeout: testTimeout})

	out := make(chan string, 1)
	go func() {
		_, _ = a.Write([]byte("GET / HTTP/1.0\r\n\r\n"))
		data, _ := io.ReadAll(a)
		out <- string(data)
	}()

	err := responder.Accept()
	require.ErrorIs(t, err, common.ErrUnknownCarrier)
	require.False(t, responder.IsOk())
	require.NoError(t, responder.Close())

	banner := <-out
	require.Contains(t, banner, "Protocol not found")
	require.Contains(t, banner, "CONNECT /your/name")
	require.Contains(t, banner, "tcp, text, text_ack")
}

// TestTextByHand tests a human typing into the text carrier
func TestTextByHand(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	_ = a.SetDeadline(time.Now().Add(testTimeout))
	responder := New(b, Options{LocalName: "/server", Timeout: testTimeout})
	defer responder.Close()

	r := bufio.NewReader(a)
	send := func(s string) {
		_, err := a.Write([]byte(s))
		require.NoError(t, err)
	}
	line := func() string {
		l, err := r.ReadString('\n')
		require.NoError(t, err)
		return strings.TrimRight(l, "\r\n")
	}

	accepted := make(chan error, 1)
	go func() { accepted <- responder.Accept() }()
	send("CONNECT /human\n")
	require.Equal(t, "Welcome /server", line())
	require.NoError(t, <-accepted)
	require.Equal(t, common.NewRoute("/human", "/server", "text"), responder.Route())

	type message struct {
		kind common.MessageKind
		b    *bottle.Bottle
	}
	received := make(chan message, 4)
	done := serve(responder, func(kind common.MessageKind, b *bottle.Bottle) *bottle.Bottle {
		received <- message{kind, b}
		return bottle.New(bottle.String("got it"))
	})

	// a bare line is a data message
	send("1 2 3\n")
	m := <-received
	require.Equal(t, common.KindData, m.kind)
	require.Equal(t, 3, m.b.Size())

	// rpc with kind line, the reply is a single text line
	send("r\n\"hello\" [list]\n")
	m = <-received
	require.Equal(t, common.KindRPC, m.kind)
	require.Equal(t, "hello", m.b.Get(0).AsString())
	require.Equal(t, `"got it"`, line())

	// q ends the session
	send("q\n")
	require.True(t, IsClosed(<-done))
}

// TestIdleInput tests that waiting for the next message outlasts the timeout
func TestIdleInput(t *testing.T) {
	const short = 100 * time.Millisecond
	initiator, responder := pair(t, Options{Timeout: short})

	errCh := make(chan error, 1)
	go func() { errCh <- responder.Accept() }()
	require.NoError(t, initiator.Open("/server", common.ConnectOptions{}, false))
	require.NoError(t, <-errCh)

	type message struct {
		b   *bottle.Bottle
		err error
	}
	received := make(chan message, 1)
	go func() {
		_, b, err := responder.ReadMessage()
		received <- message{b, err}
	}()

	time.Sleep(3 * short)
	require.True(t, responder.IsOk())
	require.NoError(t, initiator.WriteMessage(common.KindData, bottle.New(bottle.Int32(7))))

	m := <-received
	require.NoError(t, m.err)
	require.Equal(t, int32(7), m.b.Get(0).AsInt32())
}

// TestStalledMessage tests that a message which began but does not complete
// in time ends the connection
func TestStalledMessage(t *testing.T) {
	const short = 100 * time.Millisecond
	a, b := net.Pipe()
	defer a.Close()
	responder := New(b, Options{LocalName: "/server", Timeout: short})
	defer responder.Close()

	go func() {
		r := bufio.NewReader(a)
		_, _ = a.Write([]byte("CONNECT /human\n"))
		_, _ = r.ReadString('\n')
		_, _ = a.Write([]byte("1 2"))
	}()
	require.NoError(t, responder.Accept())

	_, _, err := responder.ReadMessage()
	require.ErrorIs(t, err, common.ErrStream)
	require.False(t, responder.IsOk())
}
