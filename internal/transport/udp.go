// Package transport implements the non-blocking UDP endpoint the
// orchestrator drains every cycle: datagrams in from many game-client
// instances, ACTION/DONE-adjacent replies out to each instance's fixed
// reply port.
package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"fateinfer/logging"
	networklog "fateinfer/logging/network"
)

// maxDatagram is sized well above any STATE packet the wire protocol
// produces (header + GlobalState + 12 UnitState + events + three grid
// planes), with headroom for future fields.
const maxDatagram = 8192

// recvBufferBytes is the socket receive buffer size. Bursts across several
// game-client instances can arrive faster than one cycle drains them, so
// the buffer is sized generously to avoid kernel-level drops.
const recvBufferBytes = 16 * 1024 * 1024

// Config configures a new Endpoint.
type Config struct {
	// ListenPort is the UDP port STATE/DONE packets arrive on.
	ListenPort int
	// SendPort is the fixed port every reply is sent to; the source
	// datagram's ephemeral port is always ignored.
	SendPort int
	// Logger receives send-failure diagnostics. May be nil.
	Logger Logger
	// Publisher receives structured send-failure events. May be nil.
	Publisher logging.Publisher
}

// Logger is the minimal logging surface Endpoint needs.
type Logger interface {
	Printf(format string, args ...any)
}

// Packet is one drained datagram paired with its source address string in
// "ip:port" form.
type Packet struct {
	Addr string
	Data []byte
}

// Endpoint owns the bound UDP socket. It is safe for the orchestrator's
// single-threaded loop to call Drain and Send from the same goroutine;
// nothing here is synchronized beyond what the underlying net.UDPConn
// already guarantees.
type Endpoint struct {
	conn      *net.UDPConn
	sendPort  int
	logger    Logger
	publisher logging.Publisher
}

// Listen binds a UDP socket on cfg.ListenPort and configures it for the
// burst-tolerant, non-blocking drain pattern the orchestrator depends on.
func Listen(cfg Config) (*Endpoint, error) {
	addr := &net.UDPAddr{Port: cfg.ListenPort}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on port %d: %w", cfg.ListenPort, err)
	}
	if err := conn.SetReadBuffer(recvBufferBytes); err != nil {
		// Not fatal: the OS may clamp the requested size under
		// net.core.rmem_max. The socket still works, just with more
		// risk of drops under heavy multi-instance load.
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Endpoint{conn: conn, sendPort: cfg.SendPort, logger: logger, publisher: cfg.Publisher}, nil
}

// Close releases the underlying socket.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}

// Drain returns every datagram already queued on the socket. Each read
// waits at most one millisecond, so once the queue is empty Drain returns
// within about a millisecond with what it has collected so far (possibly
// none).
func (e *Endpoint) Drain() []Packet {
	var packets []Packet
	buf := make([]byte, maxDatagram)
	for {
		// An already-expired deadline makes Go report a timeout before it
		// attempts the read, so the deadline must lie slightly ahead.
		if err := e.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
			break
		}
		n, from, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				break
			}
			// A transient peer-reset style error on one datagram should
			// not stop draining the rest of the queue.
			continue
		}
		if n <= 0 {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		packets = append(packets, Packet{Addr: from.String(), Data: data})
	}
	return packets
}

// Send transmits data to addr's IP on the endpoint's fixed reply port,
// ignoring whatever ephemeral port addr carried — the client listens on a
// well-known port, not the one it sent from.
func (e *Endpoint) Send(addr string, data []byte) {
	ip := IPOf(addr)
	dest := &net.UDPAddr{IP: net.ParseIP(ip), Port: e.sendPort}
	if dest.IP == nil {
		e.logger.Printf("transport: invalid destination ip %q", ip)
		networklog.SendFailed(context.Background(), e.publisher, networklog.SendFailedPayload{
			Destination: addr,
			Err:         fmt.Sprintf("invalid destination ip %q", ip),
		})
		return
	}
	if _, err := e.conn.WriteToUDP(data, dest); err != nil {
		e.logger.Printf("transport: send to %s failed: %v", dest, err)
		networklog.SendFailed(context.Background(), e.publisher, networklog.SendFailedPayload{
			Destination: dest.String(),
			Err:         err.Error(),
		})
	}
}

// IPOf strips the port from an "ip:port" address string, returning addr
// unchanged if it carries no port. Used both by Send and by the
// orchestrator to canonicalize an instance key to IP only.
func IPOf(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		return addr[:idx]
	}
	return addr
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}
