package kvstore

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/r2kv/kvserver/pkg/protocol"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	var c Config
	if err := c.UnmarshalEnv(nil); err != nil {
		t.Fatalf("UnmarshalEnv: %v", err)
	}
	c.Addr = "127.0.0.1:0"
	c.AOFPath = filepath.Join(t.TempDir(), "appendonly.aof")
	c.LogStdout = false
	return &c
}

func startTestServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	c := testConfig(t)
	c.Addr = freeAddr(t)
	s, err := NewServer(c)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// Wait for the listener to come up.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("tcp", c.Addr); err == nil {
			conn.Close()
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	return c.Addr, func() {
		cancel()
		<-done
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func sendFrame(t *testing.T, conn net.Conn, args ...string) protocol.Reply {
	t.Helper()
	buf := protocol.EncodeFrame(nil, args)
	if _, err := conn.Write(buf); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	readBuf := make([]byte, 4096)
	n, err := conn.Read(readBuf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	rep, consumed, ok, err := protocol.DecodeReply(readBuf[:n])
	if err != nil || !ok {
		t.Fatalf("decode reply: ok=%v err=%v", ok, err)
	}
	if consumed != n {
		t.Fatalf("consumed %d, want %d", consumed, n)
	}
	return rep
}

func TestServerEndToEnd(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if rep := sendFrame(t, conn, "SET", "a", "1"); rep.Status != protocol.StatusOK {
		t.Fatalf("SET = %+v", rep)
	}
	if rep := sendFrame(t, conn, "GET", "a"); rep.Status != protocol.StatusOK || rep.Payload != "1" {
		t.Fatalf("GET = %+v", rep)
	}
	if rep := sendFrame(t, conn, "DEL", "a"); rep.Status != protocol.StatusOK {
		t.Fatalf("DEL = %+v", rep)
	}
	if rep := sendFrame(t, conn, "GET", "a"); rep.Status != protocol.StatusNX {
		t.Fatalf("GET after delete = %+v", rep)
	}
}

func TestServerPipelinedRequests(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var buf []byte
	buf = protocol.EncodeFrame(buf, []string{"SET", "a", "1"})
	buf = protocol.EncodeFrame(buf, []string{"SET", "b", "2"})
	buf = protocol.EncodeFrame(buf, []string{"GET", "a"})
	if _, err := conn.Write(buf); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got []protocol.Reply
	readBuf := make([]byte, 4096)
	var acc []byte
	for len(got) < 3 {
		n, err := conn.Read(readBuf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		acc = append(acc, readBuf[:n]...)
		for {
			rep, consumed, ok, err := protocol.DecodeReply(acc)
			if err != nil {
				t.Fatalf("decode reply: %v", err)
			}
			if !ok {
				break
			}
			got = append(got, rep)
			acc = acc[consumed:]
		}
	}
	for i, rep := range got {
		if rep.Status != protocol.StatusOK {
			t.Fatalf("reply %d = %+v, want OK", i, rep)
		}
	}
	if got[2].Payload != "1" {
		t.Fatalf("GET a reply = %+v, want payload 1", got[2])
	}
}

func TestServerClosesConnectionOnProtocolError(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// An oversized NArgs is a protocol violation: the connection must close
	// instead of replying.
	bad := make([]byte, 4)
	bad[0], bad[1], bad[2], bad[3] = 0xff, 0xff, 0xff, 0xff
	if _, err := conn.Write(bad); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	readBuf := make([]byte, 16)
	n, err := conn.Read(readBuf)
	if n != 0 && err == nil {
		t.Fatalf("expected connection close, got %d bytes", n)
	}
}
