package network

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/portal-project/portal/internal/protocol"
)

func TestFetchCookieIsIdempotent(t *testing.T) {
	c := newTestConn(t, newTestServer(t, nil), protocol.StateConfig, protocol.Protocol1_21_2)

	first, err := c.FetchCookie("ns:key")
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.FetchCookie("ns:key")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatal("second FetchCookie returned a different future")
	}
	if n := queued(c); n != 1 {
		t.Fatalf("%d requests sent, want 1", n)
	}

	id, body := nextQueued(t, c)
	if id != protocol.IDConfigCookieRequest {
		t.Fatalf("CONFIG request id = 0x%02X", id)
	}
	p, err := protocol.DecodeCookieRequest(protocol.StateConfig)(body, c.Protocol())
	if err != nil {
		t.Fatal(err)
	}
	if key := p.(*protocol.CookieRequest).Key.String(); key != "ns:key" {
		t.Fatalf("requested key = %s", key)
	}
}

func TestFetchCookieInLoginUsesLoginID(t *testing.T) {
	c := newTestConn(t, newTestServer(t, nil), protocol.StateLogin, protocol.Protocol1_20_5)
	if _, err := c.FetchCookie("ns:key"); err != nil {
		t.Fatal(err)
	}
	if id, _ := nextQueued(t, c); id != protocol.IDLoginCookieRequest {
		t.Fatalf("LOGIN request id = 0x%02X", id)
	}
}

func TestFetchCookieValidation(t *testing.T) {
	srv := newTestServer(t, nil)

	// The key is checked before the state.
	status := newTestConn(t, srv, protocol.StateStatus, protocol.Protocol1_21_2)
	if _, err := status.FetchCookie("no-namespace"); !errors.Is(err, protocol.ErrInvalidIdentifier) {
		t.Fatalf("bad key = %v, want ErrInvalidIdentifier", err)
	}
	var ise *IllegalStateError
	if _, err := status.FetchCookie("ns:key"); !errors.As(err, &ise) {
		t.Fatalf("FetchCookie in STATUS = %v", err)
	}

	old := newTestConn(t, srv, protocol.StateConfig, protocol.Protocol1_20_3)
	if _, err := old.FetchCookie("ns:key"); !errors.Is(err, ErrUnsupportedByClient) {
		t.Fatalf("FetchCookie on 765 = %v", err)
	}
	if queued(status)+queued(old) != 0 {
		t.Fatal("rejected fetches sent requests")
	}
}

func TestCookieResponseResolvesOnce(t *testing.T) {
	c := newTestConn(t, newTestServer(t, nil), protocol.StateConfig, protocol.Protocol1_21_2)
	key := protocol.MustIdentifier("ns:key")

	if c.HandleCookieResponse(key, []byte("x"), true) {
		t.Fatal("response without a request was accepted")
	}

	f, err := c.FetchCookie("ns:key")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := f.Payload(); ok {
		t.Fatal("pending future reported a payload")
	}
	if !c.HandleCookieResponse(key, []byte("hello"), true) {
		t.Fatal("matching response ignored")
	}
	if c.HandleCookieResponse(key, []byte("again"), true) {
		t.Fatal("repeated response accepted")
	}

	select {
	case <-f.Done():
	default:
		t.Fatal("future not done")
	}
	payload, ok := f.Payload()
	if !ok || !bytes.Equal(payload, []byte("hello")) {
		t.Fatalf("Payload() = %q, %v", payload, ok)
	}
}

func TestCookieAbsentResponse(t *testing.T) {
	c := newTestConn(t, newTestServer(t, nil), protocol.StateLogin, protocol.Protocol1_21_2)
	f, err := c.FetchCookie("ns:missing")
	if err != nil {
		t.Fatal(err)
	}
	c.HandleCookieResponse(f.Key(), nil, false)

	payload, present, err := f.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if present || payload != nil {
		t.Fatalf("absent cookie resolved as %q, %v", payload, present)
	}
}

func TestCookieWaitHonoursContext(t *testing.T) {
	f := newCookieFuture(protocol.MustIdentifier("ns:key"))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want deadline exceeded", err)
	}
}

func TestStoreCookie(t *testing.T) {
	srv := newTestServer(t, nil)

	var ise *IllegalStateError
	login := newTestConn(t, srv, protocol.StateLogin, protocol.Protocol1_21_2)
	if err := login.StoreCookie("ns:key", []byte("v")); !errors.As(err, &ise) {
		t.Fatalf("StoreCookie in LOGIN = %v", err)
	}

	c := newTestConn(t, srv, protocol.StateConfig, protocol.Protocol1_21_2)
	if err := c.StoreCookie("bad key", nil); !errors.Is(err, protocol.ErrInvalidIdentifier) {
		t.Fatalf("bad key = %v", err)
	}
	if err := c.StoreCookie("ns:key", make([]byte, protocol.MaxCookieSize+1)); !errors.Is(err, protocol.ErrFieldTooLarge) {
		t.Fatalf("oversized payload = %v", err)
	}
	if queued(c) != 0 {
		t.Fatal("rejected stores sent packets")
	}

	payload := bytes.Repeat([]byte{7}, protocol.MaxCookieSize)
	if err := c.StoreCookie("ns:key", payload); err != nil {
		t.Fatalf("max-size payload: %v", err)
	}
	id, body := nextQueued(t, c)
	if id != protocol.IDConfigStoreCookie {
		t.Fatalf("store id = 0x%02X", id)
	}
	p, err := protocol.DecodeStoreCookie(body, c.Protocol())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(p.(*protocol.StoreCookie).Payload, payload) {
		t.Fatal("stored payload differs")
	}
}
