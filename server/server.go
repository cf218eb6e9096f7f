package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"gamenet/metrics"
	"gamenet/physics"
	"gamenet/protocol"
)

// tickSnapshot is the tick loop's own view of its state, published once
// per tick via an atomic.Value so the admin HTTP surface can read it
// without synchronizing against the tick loop goroutine, per SPEC_FULL.md
// §6's "never touches game state" contract.
type tickSnapshot struct {
	clientCount int
	tick        uint32
}

// Server is the authoritative tick loop: it owns the UDP socket, every
// connected client's bookkeeping, and the single WorldState mutated once
// per tick. Nothing outside Run touches game state, per the
// single-mutator concurrency model.
type Server struct {
	cfg  Config
	conn *net.UDPConn
	sim  *protocol.Simulator

	// broadcastLimiter bounds the aggregate outbound byte rate of the
	// broadcast phase; nil when BroadcastBytesPerSec is unset.
	broadcastLimiter *rate.Limiter

	clients *ClientManager
	world   *WorldState
	metrics *metrics.Logger

	// adminState holds the latest published tickSnapshot. Only Run
	// writes it, once per tick; any goroutine may read it.
	adminState atomic.Value

	// OnReliableEvent, if set, is invoked for every RELIABLE_EVENT
	// datagram received from a connected client. Duplicates are not
	// filtered: a retransmitted payload whose earlier copy already
	// arrived is delivered again. The application layer
	// (outside the core) decides what it means; the core only guarantees
	// delivery semantics, not content.
	OnReliableEvent func(clientID uint8, payload []byte)

	recvBuf      []byte
	lastBWSample time.Time
	sentSinceBW  int64
	recvSinceBW  int64
}

// NewServer binds the UDP socket and returns a ready-to-run Server. A
// bind failure is the one fatal-at-startup SocketError named in §7.
func NewServer(cfg Config) (*Server, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(cfg.Host), Port: cfg.Port}
	if addr.IP == nil {
		addr.IP = net.IPv4zero
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: bind %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	s := &Server{
		cfg:          cfg,
		conn:         conn,
		clients:      NewClientManager(),
		world:        NewWorldState(),
		metrics:      metrics.NewLogger(),
		recvBuf:      make([]byte, 65535),
		lastBWSample: time.Now(),
	}
	if cfg.Loss > 0 || cfg.Latency > 0 || cfg.Jitter > 0 || cfg.Bandwidth > 0 {
		s.sim = protocol.NewSimulator(conn, cfg.Loss, cfg.Latency, cfg.Jitter, cfg.Bandwidth)
	}
	if cfg.BroadcastBytesPerSec > 0 {
		s.broadcastLimiter = rate.NewLimiter(rate.Limit(cfg.BroadcastBytesPerSec), cfg.BroadcastBytesPerSec)
	}
	s.adminState.Store(tickSnapshot{})
	return s, nil
}

// Metrics exposes the running Logger, read-only, for the admin surface.
func (s *Server) Metrics() *metrics.Logger { return s.metrics }

// ClientCount reports how many clients were connected as of the most
// recently completed tick. Safe to call from any goroutine; it reads the
// published tickSnapshot rather than the live, tick-loop-owned
// ClientManager.
func (s *Server) ClientCount() int {
	snap, _ := s.adminState.Load().(tickSnapshot)
	return snap.clientCount
}

// Tick reports the most recently completed tick number. Safe to call
// from any goroutine, for the same reason as ClientCount.
func (s *Server) Tick() uint32 {
	snap, _ := s.adminState.Load().(tickSnapshot)
	return snap.tick
}

// Run drives the fixed-rate tick loop until ctx is cancelled. It never
// returns on a peer-induced error; only ctx cancellation or a fatal local
// fault (none expected post-bind) ends it.
func (s *Server) Run(ctx context.Context) error {
	dt := s.cfg.Dt()
	dtSeconds := float32(dt.Seconds())
	nextTickAt := time.Now().Add(dt)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		default:
		}

		tickStart := time.Now()
		s.drainInbound()
		s.applyInputs(dtSeconds)
		s.world.Tick++
		s.broadcastSnapshot()
		s.expireTimedOut()
		s.sampleBandwidth()
		s.adminState.Store(tickSnapshot{clientCount: s.clients.Count(), tick: s.world.Tick})

		elapsed := time.Since(tickStart)
		s.metrics.LogTickTime(elapsed)
		if elapsed > dt {
			Log.Warnw("tick overrun", "tick", s.world.Tick, "took", elapsed, "budget", dt)
			// No spiral-of-death catch-up: the next tick fires immediately.
			nextTickAt = time.Now()
			continue
		}

		nextTickAt = nextTickAt.Add(dt)
		sleepFor := time.Until(nextTickAt)
		if sleepFor < 0 {
			nextTickAt = time.Now()
			continue
		}
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-time.After(sleepFor):
		}
	}
}

// drainInbound reads up to MaxDatagramsPerTick datagrams without
// blocking the tick, dispatching each by packet type. The live-lock
// guard: a flood of datagrams in one tick cannot starve the physics step
// and broadcast phases below.
func (s *Server) drainInbound() {
	cap := s.cfg.MaxDatagramsPerTick
	if cap <= 0 {
		cap = 1024
	}
	for i := 0; i < cap; i++ {
		if err := s.conn.SetReadDeadline(time.Now()); err != nil {
			return
		}
		n, addr, err := s.conn.ReadFromUDP(s.recvBuf)
		if err != nil {
			return // deadline expired: queue drained for this tick
		}
		s.recvSinceBW += int64(n)
		s.handleDatagram(s.recvBuf[:n], addr)
	}
}

func (s *Server) handleDatagram(data []byte, addr *net.UDPAddr) {
	header, payload, err := protocol.Decode(data, false)
	if err != nil {
		Log.Debugw("malformed packet dropped", "from", addr, "err", err)
		return
	}

	rec, known := s.clients.ByAddr(addr)
	if known {
		rec.Touch()
		rec.Acks.OnReceive(header.Seq)
		acked := rec.Acks.AckedByPeer(header.Ack, header.AckBits)
		rec.Reliable.Discard(acked)
	}

	switch header.Type {
	case protocol.ConnectReq:
		s.handleConnectReq(addr)
	case protocol.Input:
		if known {
			s.handleInput(rec, payload)
		}
	case protocol.Ping:
		if known {
			s.handlePing(rec, payload)
		}
	case protocol.Disconnect:
		if known {
			s.handleDisconnect(rec)
		}
	case protocol.Heartbeat:
		// Touch already ran above; nothing else to do.
	case protocol.ReliableEvent:
		if known && s.OnReliableEvent != nil {
			s.OnReliableEvent(rec.ID, payload)
		}
	default:
		Log.Debugw("unknown packet type dropped", "from", addr, "type", header.Type)
	}
}

func (s *Server) handleConnectReq(addr *net.UDPAddr) {
	if rec, already := s.clients.ByAddr(addr); already {
		// Re-send the ack in case the first one was lost: a peer still
		// retrying CONNECT_REQ has not seen it, and resending costs
		// nothing since the handshake is idempotent.
		s.sendTo(rec, protocol.ConnectAck, protocol.EncodeConnectAck(rec.ID))
		return
	}
	rec, err := s.clients.Add(addr)
	if err != nil {
		// CapacityExhausted: ignore silently, no negative ack, per §4.5.
		Log.Debugw("connect rejected: capacity exhausted", "from", addr)
		return
	}
	s.world.Spawn(rec.ID, s.cfg.Physics)
	Log.Infow("client connected", "id", rec.ID, "addr", addr)
	s.sendTo(rec, protocol.ConnectAck, protocol.EncodeConnectAck(rec.ID))
}

func (s *Server) handleInput(rec *ClientRecord, payload []byte) {
	records, err := protocol.DecodeInputs(payload)
	if err != nil {
		Log.Debugw("malformed input payload dropped", "client", rec.ID, "err", err)
		return
	}
	for _, r := range records {
		rec.EnqueueInput(r)
	}
}

func (s *Server) handlePing(rec *ClientRecord, payload []byte) {
	// PONG must go out the same tick it is received, echoing the
	// timestamp verbatim — no re-encoding, so any caller-chosen format
	// survives the round trip untouched.
	s.sendTo(rec, protocol.Pong, payload)
}

func (s *Server) handleDisconnect(rec *ClientRecord) {
	Log.Infow("client disconnected", "id", rec.ID)
	s.world.Remove(rec.ID)
	s.clients.Remove(rec.ID)
}

// applyInputs steps every client's entity by the newest queued input,
// in (client id, then seq) order per §5's determinism requirement.
func (s *Server) applyInputs(dtSeconds float32) {
	for _, rec := range s.clients.All() {
		input, ok := rec.ApplyNewest()
		if !ok {
			continue
		}
		s.world.ApplyInput(s.cfg.Physics, rec.ID, input.MoveX, input.MoveY, dtSeconds)
	}
}

// broadcastSnapshot builds one snapshot for the current tick, appends
// the per-client ack trailer, and sends a copy to every connected client
// stamped with that client's own outbound seq/ack/ackBits.
func (s *Server) broadcastSnapshot() {
	clients := s.clients.All()
	if len(clients) == 0 {
		return
	}

	snap := s.world.BuildSnapshot()
	trailer := make([]physics.AckEntry, len(clients))
	for i, rec := range clients {
		trailer[i] = physics.AckEntry{ClientID: rec.ID, LastProcessedInputSeq: rec.highestAppliedInputSeq}
	}
	payload, err := physics.EncodeSnapshot(snap, trailer)
	if err != nil {
		Log.Errorw("snapshot encode failed", "err", err)
		return
	}

	for _, rec := range clients {
		s.sendTo(rec, protocol.Snapshot, payload)

		lost := rec.Acks.InferredLost()
		for _, resend := range rec.Reliable.Resend(lost) {
			newSeq := s.sendTo(rec, protocol.ReliableEvent, resend)
			rec.Reliable.Track(newSeq, resend)
		}
	}
}

// sendTo stamps ptype+payload with rec's outbound ack-tracker state,
// writes it through the network simulator if one is configured, and
// returns the outbound sequence it was stamped with, so reliable-event
// retransmissions can be re-tracked under their new sequence.
func (s *Server) sendTo(rec *ClientRecord, ptype protocol.PacketType, payload []byte) uint16 {
	seq := rec.Acks.NextOutbound()
	rec.Acks.OnPacketSent(seq)
	datagram := protocol.Encode(ptype, seq, rec.Acks.RemoteSeq(), rec.Acks.AckBits(), payload)

	if s.broadcastLimiter != nil && !s.broadcastLimiter.AllowN(time.Now(), len(datagram)) {
		return seq // over the configured broadcast-phase rate: drop rather than stall the tick
	}

	if s.sim != nil {
		s.sim.SendTo(datagram, rec.Addr)
	} else if _, err := s.conn.WriteTo(datagram, rec.Addr); err != nil {
		Log.Debugw("send failed, will retry next tick", "client", rec.ID, "err", err)
		return seq
	}
	rec.BytesSent += int64(len(datagram))
	s.sentSinceBW += int64(len(datagram))
	return seq
}

// SendReliableEvent hands an application-layer payload to the reliable
// sublayer for delivery to one client, retried on inferred loss until
// acked.
func (s *Server) SendReliableEvent(clientID uint8, payload []byte) {
	rec, ok := s.clients.byID[clientID]
	if !ok {
		return
	}
	seq := rec.Acks.NextOutbound()
	rec.Acks.OnPacketSent(seq)
	rec.Reliable.Track(seq, payload)
	datagram := protocol.Encode(protocol.ReliableEvent, seq, rec.Acks.RemoteSeq(), rec.Acks.AckBits(), payload)
	if s.sim != nil {
		s.sim.SendTo(datagram, rec.Addr)
	} else {
		_, _ = s.conn.WriteTo(datagram, rec.Addr)
	}
}

func (s *Server) expireTimedOut() {
	for _, rec := range s.clients.ExpireTimedOut(s.cfg.ClientTimeout) {
		Log.Infow("client timed out", "id", rec.ID, "silentFor", time.Since(rec.LastHeardAt))
		s.world.Remove(rec.ID)
	}
}

func (s *Server) sampleBandwidth() {
	interval := time.Since(s.lastBWSample)
	if interval < time.Second {
		return
	}
	s.metrics.LogBandwidth(int(s.sentSinceBW), int(s.recvSinceBW), interval)
	Log.Debugw("bandwidth", "out", humanize.Bytes(uint64(s.sentSinceBW)), "in", humanize.Bytes(uint64(s.recvSinceBW)))
	s.sentSinceBW, s.recvSinceBW = 0, 0
	s.lastBWSample = time.Now()
}

// shutdown sends a best-effort DISCONNECT to every client and closes the
// socket, per §5's "best-effort, unreliable" shutdown contract.
func (s *Server) shutdown() {
	var errs error
	for _, rec := range s.clients.All() {
		s.sendTo(rec, protocol.Disconnect, nil)
	}
	if s.sim != nil {
		s.sim.Close()
	}
	if err := s.conn.Close(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		Log.Warnw("errors during shutdown", "err", errs)
	}
}
