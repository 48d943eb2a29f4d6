package transport

import (
	"net"
	"testing"
	"time"
)

func TestIPOfStripsPort(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:5555": "127.0.0.1",
		"127.0.0.1":      "127.0.0.1",
		"10.0.0.9:1":     "10.0.0.9",
	}
	for in, want := range cases {
		if got := IPOf(in); got != want {
			t.Errorf("IPOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDrainReturnsImmediatelyWhenEmpty(t *testing.T) {
	ep, err := Listen(Config{ListenPort: 0})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ep.Close()

	done := make(chan struct{})
	go func() {
		ep.Drain()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drain blocked on an empty socket")
	}
}

func TestDrainCollectsBurstedDatagrams(t *testing.T) {
	ep, err := Listen(Config{ListenPort: 0})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ep.Close()

	listenAddr := ep.conn.LocalAddr().(*net.UDPAddr)

	sender, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: listenAddr.Port})
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer sender.Close()

	payloads := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, p := range payloads {
		if _, err := sender.Write(p); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	var packets []Packet
	deadline := time.Now().Add(2 * time.Second)
	for len(packets) < len(payloads) && time.Now().Before(deadline) {
		packets = append(packets, ep.Drain()...)
		if len(packets) < len(payloads) {
			time.Sleep(5 * time.Millisecond)
		}
	}

	if len(packets) != len(payloads) {
		t.Fatalf("expected %d packets, got %d", len(payloads), len(packets))
	}
	for _, pkt := range packets {
		if IPOf(pkt.Addr) != "127.0.0.1" {
			t.Errorf("unexpected source ip %q", pkt.Addr)
		}
	}
}

func TestSendDeliversToFixedReplyPort(t *testing.T) {
	reply, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer reply.Close()
	replyPort := reply.LocalAddr().(*net.UDPAddr).Port

	ep, err := Listen(Config{ListenPort: 0, SendPort: replyPort})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ep.Close()

	// Send to a source address whose port is deliberately wrong; only the
	// IP should be honored, replies always land on SendPort.
	ep.Send("127.0.0.1:59999", []byte("action"))

	buf := make([]byte, 64)
	reply.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := reply.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	if string(buf[:n]) != "action" {
		t.Errorf("unexpected reply payload: %q", buf[:n])
	}
}
