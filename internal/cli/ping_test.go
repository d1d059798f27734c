package cli

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/portal-project/portal/internal/config"
	"github.com/portal-project/portal/internal/network"
	"github.com/portal-project/portal/internal/protocol"
)

func startProxy(t *testing.T) string {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Proxy.ConnectionsPerSecond = 0
	cfg.Proxy.ShutdownGraceSec = 1
	cfg.Proxy.Status.MOTD = "Ping me"
	srv, err := network.NewServer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

func TestPingProxy(t *testing.T) {
	addr := startProxy(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := Ping(ctx, addr, protocol.Protocol1_21_4)
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if res.Status.Description.Text != "Ping me" || res.Status.Version.Protocol != protocol.Protocol1_21_4 {
		t.Fatalf("status = %+v", res.Status)
	}

	var out bytes.Buffer
	RenderStatus(&out, res)
	for _, want := range []string{"Ping me", "0/100", addr} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("table missing %q:\n%s", want, out.String())
		}
	}
}

func TestPingRejectsBadAddress(t *testing.T) {
	if _, err := Ping(context.Background(), "no-port", protocol.MaxProtocol); err == nil {
		t.Fatal("Ping accepted an address without a port")
	}
}

func TestRenderConnections(t *testing.T) {
	var out bytes.Buffer
	RenderConnections(&out, []network.Info{
		{ID: 1, Remote: "10.0.0.1:5000", State: "CONFIG", Version: "1.21.4", Username: "Alice", ConnectedAt: time.Now()},
		{ID: 2, Remote: "10.0.0.2:5000", State: "STATUS", FromTransfer: true, ConnectedAt: time.Now()},
	})
	text := out.String()
	if !strings.Contains(text, "Alice") || !strings.Contains(text, "inbound") || !strings.Contains(text, "STATUS") {
		t.Fatalf("table:\n%s", text)
	}
}
