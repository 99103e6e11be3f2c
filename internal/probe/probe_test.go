//go:build !windows

package probe

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/ferrost/warden/internal/session"
)

// fakeStatusServer answers the newline-framed JSON status protocol.
func fakeStatusServer(t *testing.T, reply statusReply) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer func() { _ = c.Close() }()
				if _, err := bufio.NewReader(c).ReadBytes('\n'); err != nil {
					return
				}
				b, _ := json.Marshal(reply)
				_, _ = c.Write(append(b, '\n'))
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestPing(t *testing.T) {
	addr := fakeStatusServer(t, statusReply{
		ProtocolVersion: 7, MOTD: "hello", OnlinePlayers: 3, MaxPlayers: 20,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := Ping(ctx, addr)
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if res.ProtocolVersion != 7 || res.MOTD != "hello" || res.OnlinePlayers != 3 || res.MaxPlayers != 20 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPingUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := Ping(ctx, "127.0.0.1:1"); err == nil {
		t.Fatalf("expected error pinging closed port")
	}
}

func TestSampleOnceDeadServer(t *testing.T) {
	ctl := session.NewController(t.TempDir())
	p := NewProber(ctl, 50*time.Millisecond, time.Second)
	s := p.SampleOnce(context.Background(), "ghost")
	if s.Alive {
		t.Fatalf("expected not alive for unknown server")
	}
	if s.Name != "ghost" {
		t.Fatalf("sample name=%q", s.Name)
	}
}

func TestStreamDeliversAndClosesOnCancel(t *testing.T) {
	ctl := session.NewController(t.TempDir())
	if _, err := ctl.StartSession(session.Spec{Name: "live", Command: "sleep 5"}); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	defer func() { _ = ctl.KillServer("live") }()

	p := NewProber(ctl, 30*time.Millisecond, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	ch := p.Stream(ctx, "live")

	var got int
	deadline := time.After(2 * time.Second)
	for got < 3 {
		select {
		case s, ok := <-ch:
			if !ok {
				t.Fatalf("stream closed early after %d samples", got)
			}
			if !s.Alive {
				t.Fatalf("expected alive sample, got %+v", s)
			}
			got++
		case <-deadline:
			t.Fatalf("timed out waiting for samples (got %d)", got)
		}
	}
	cancel()
	deadline2 := time.Now().Add(time.Second)
	for {
		if _, ok := <-ch; !ok {
			return
		}
		if time.Now().After(deadline2) {
			t.Fatalf("stream not closed after cancel")
		}
	}
}

func TestSampleIncludesPing(t *testing.T) {
	addr := fakeStatusServer(t, statusReply{ProtocolVersion: 2, MOTD: "up", MaxPlayers: 8})
	ctl := session.NewController(t.TempDir())
	if _, err := ctl.StartSession(session.Spec{Name: "pinged", Command: "sleep 5", PingAddress: addr}); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	defer func() { _ = ctl.KillServer("pinged") }()

	p := NewProber(ctl, 50*time.Millisecond, time.Second)
	s := p.SampleOnce(context.Background(), "pinged")
	if !s.Alive {
		t.Fatalf("expected alive")
	}
	if s.Ping == nil || s.Ping.MOTD != "up" {
		t.Fatalf("expected ping result, got %+v (err=%q)", s.Ping, s.PingErr)
	}
}
