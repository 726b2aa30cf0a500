package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dPort/rpc/common"
)

// TestConnectors opens a listener with each connector and exchanges bytes
func TestConnectors(t *testing.T) {
	testCases := map[string]common.Address{
		"tcp":  {Host: "127.0.0.1", Port: 0},
		"unix": {Host: filepath.Join(t.TempDir(), "port.sock")},
	}
	config := common.DefaultPortConfig("/test")
	config.SocketConf.ReadBufferSize = 64 * 1024
	config.TCPConf.TCPKeepAliveSec = 5

	for name, addr := range testCases {
		t.Run(name, func(t *testing.T) {
			server := ServerFor(addr)
			client := ClientFor(addr)
			if server.GetName() != name || client.GetName() != name {
				t.Fatalf("wrong connectors selected: %s/%s", server.GetName(), client.GetName())
			}

			listener, err := server.Listen(addr)
			if err != nil {
				t.Fatalf("Listen failed: %v", err)
			}
			defer listener.Close()

			// dial the actual address (port 0 was replaced by the OS)
			if !addr.IsUnix() {
				addr.Port = listener.Addr().(*net.TCPAddr).Port
			}

			accepted := make(chan []byte, 1)
			go func() {
				conn, err := listener.Accept()
				if err != nil {
					accepted <- nil
					return
				}
				defer conn.Close()
				if err := server.UpgradeConnection(conn, config); err != nil {
					accepted <- nil
					return
				}
				buf := make([]byte, 4)
				_, _ = io.ReadFull(conn, buf)
				accepted <- buf
			}()

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			conn, err := client.Connect(ctx, addr, config)
			if err != nil {
				t.Fatalf("Connect failed: %v", err)
			}
			defer conn.Close()
			_, _ = conn.Write([]byte("ping"))

			select {
			case got := <-accepted:
				if string(got) != "ping" {
					t.Errorf("expected ping, got %q", got)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("timeout waiting for server side")
			}
		})
	}
}

// TestListenErrors tests that bind failures are reported as address errors
func TestListenErrors(t *testing.T) {
	addr := common.Address{Host: "127.0.0.1", Port: 0}
	first, err := ServerFor(addr).Listen(addr)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer first.Close()

	addr.Port = first.Addr().(*net.TCPAddr).Port
	if _, err := ServerFor(addr).Listen(addr); !errors.Is(err, common.ErrAddress) {
		t.Errorf("expected AddressError for a bound port, got %v", err)
	}

	// a regular file is never replaced by a socket
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("data"), 0o600); err != nil {
		t.Fatal(err)
	}
	unixAddr := common.Address{Host: file}
	if _, err := ServerFor(unixAddr).Listen(unixAddr); !errors.Is(err, common.ErrAddress) {
		t.Errorf("expected AddressError for a regular file, got %v", err)
	}
}
