// Package transport implements the Transport Loop: one UDP socket, a
// background receive goroutine draining into a bounded queue, and a
// foreground pacer that transmits to each server on a ~1Hz schedule and
// drains the queue into server rings between transmits.
package transport

import (
	"context"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/clockwatch/ntpmon/pkg/clock"
	"github.com/clockwatch/ntpmon/pkg/ntptime"
	"github.com/clockwatch/ntpmon/pkg/sample"
	"github.com/clockwatch/ntpmon/pkg/server"
	"github.com/clockwatch/ntpmon/pkg/wire"
)

// recvBufferSize is deliberately larger than a basic NTPv4 packet (48
// bytes); 128 leaves headroom without inviting a large per-read allocation.
const recvBufferSize = 128

// pollInterval is the pacer's tick rate: one poll of every server every
// second.
const pollInterval = 1 * time.Second

// Arrival is one datagram the receive goroutine has decoded, published for
// the pacer to apply to the matching server.
type Arrival struct {
	T4     clock.Index
	Src    net.Addr
	Packet *wire.Packet
}

// Loop owns the socket and the servers it polls. The receive goroutine
// exclusively owns the read half; the pacer exclusively owns the write half
// and all server state, so neither side needs a lock on the socket itself.
type Loop struct {
	conn   net.PacketConn
	source clock.Source

	servers    []*server.State
	serverByIP map[string]*server.State

	queue chan Arrival

	// OnTick, if set, is invoked once per pacing tick after the transmit
	// burst, with every server's current state. It is the Transport Loop's
	// only connection to the Output Adapter.
	OnTick func(servers []*server.State, counterFrequencyHz float64)

	wg sync.WaitGroup
}

// New builds a loop over an already-bound socket and counter source, for
// the given set of servers. Queue capacity follows the spec's
// max_servers*8 sizing guidance.
func New(conn net.PacketConn, source clock.Source, servers []*server.State) *Loop {
	byIP := make(map[string]*server.State, len(servers))
	for _, s := range servers {
		byIP[s.Addr.String()] = s
	}

	capacity := len(servers) * 8
	if capacity < 8 {
		capacity = 8
	}

	return &Loop{
		conn:       conn,
		source:     source,
		servers:    servers,
		serverByIP: byIP,
		queue:      make(chan Arrival, capacity),
	}
}

// Run starts the receive goroutine and then blocks running the pacer loop
// until ctx is cancelled. On return, both goroutines have been joined and
// the socket has been closed.
func (l *Loop) Run(ctx context.Context) {
	recvCtx, cancelRecv := context.WithCancel(ctx)
	defer cancelRecv()

	l.wg.Add(1)
	go l.receiveLoop(recvCtx)

	l.pace(ctx)

	cancelRecv()
	l.conn.Close()
	l.wg.Wait()
}

// receiveLoop is the Transport Loop's receive thread: it blocks in
// ReadFrom, records T4 immediately on return (before any parsing), decodes,
// and publishes. A read or decode error is logged and the datagram dropped,
// never propagated past this loop. Unmatched sources are dropped later, by
// the pacer in apply.
func (l *Loop) receiveLoop(ctx context.Context) {
	defer l.wg.Done()

	buf := make([]byte, recvBufferSize)
	for {
		n, addr, err := l.conn.ReadFrom(buf)
		t4 := l.source.Now()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.WithError(err).Warn("ntpmon: transport: receive failed")
				continue
			}
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])

		pkt, err := wire.Decode(raw)
		if err != nil {
			log.WithError(err).Warn("ntpmon: transport: decode failed")
			continue
		}
		if !pkt.ValidSettingsFormat() {
			log.Warn("ntpmon: transport: reply failed settings-format guard")
			continue
		}

		arrival := Arrival{T4: t4, Src: addr, Packet: pkt}
		select {
		case l.queue <- arrival:
		default:
			log.Warn("ntpmon: transport: queue full, dropping arrival")
		}
	}
}

// pace is the pacer thread: once per tick it drains the queue, applies each
// arrival to its server, transmits a fresh request to every server, then
// emits one output row. It never blocks on the queue; an empty queue simply
// means no packets arrived this tick.
func (l *Loop) pace(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *Loop) tick() {
	for _, s := range l.servers {
		s.ResetTick()
	}

	l.drain()

	for _, s := range l.servers {
		l.transmit(s)
	}

	if l.OnTick != nil {
		counterFrequencyHz := 0.0
		if len(l.servers) > 0 {
			counterFrequencyHz = l.servers[0].Clock.Frequency()
		}
		l.OnTick(l.servers, counterFrequencyHz)
	}
}

func (l *Loop) drain() {
	for {
		select {
		case arrival := <-l.queue:
			l.apply(arrival)
		default:
			return
		}
	}
}

func (l *Loop) apply(a Arrival) {
	s, ok := l.serverByIP[a.Src.String()]
	if !ok {
		log.WithField("src", a.Src.String()).Warn("ntpmon: transport: unmatched source, dropping")
		return
	}

	smp := sample.Sample{
		T1: clock.Index(a.Packet.OriginateTime),
		T2: ntptime.Time(a.Packet.ReceiveTime),
		T3: ntptime.Time(a.Packet.TransmitTime),
		T4: a.T4,
	}
	s.Update(smp)

	s.SetReference(a.Packet.Stratum, a.Packet.RefIDDisplay(), a.Packet.RootDelaySeconds(), a.Packet.RootDispersionSeconds())
}

// transmit sends a fresh request to s. The counter read for T1 must be the
// last thing done before the write syscall, so the round trip it opens
// measures as little host-side overhead as possible.
func (l *Loop) transmit(s *server.State) {
	t1 := l.source.Now()
	req := wire.EncodeRequest(uint64(t1))
	if _, err := l.conn.WriteTo(req, s.Addr); err != nil {
		log.WithError(err).WithField("server", s.Hostname).Warn("ntpmon: transport: transmit failed")
	}
}

