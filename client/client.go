// Package client implements the predicting-client side of the engine:
// local prediction, server-reconciliation, and buffered interpolation of
// remote entities, driven by its own fixed-rate tick loop exactly as
// §4.6 specifies. It consumes input as abstract (moveX, moveY, actions)
// triples and exposes renderable entity states; it neither knows nor
// cares how either crosses the process boundary.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"gamenet/metrics"
	"gamenet/physics"
	"gamenet/protocol"
)

// InputFunc is how the caller feeds abstract input into the client loop
// each tick, per §1's "external collaborator" boundary.
type InputFunc func() (moveX, moveY float32, actions uint8)

// ErrConnectTimeout is returned by Run if no CONNECT_ACK arrives within
// the configured ConnectTimeout.
var ErrConnectTimeout = errors.New("client: connect timed out")

// pendingSnapshot is a decoded SNAPSHOT paired with this client's own
// trailer row, queued at receipt time and processed once per tick in
// Run, per §4.6 step 4 ("amortize cost").
type pendingSnapshot struct {
	snap              physics.Snapshot
	lastProcessedSeq  uint32
	haveTrailer       bool
}

// Client is the client-side tick loop: it owns the UDP socket, the
// prediction/reconciliation state, the remote-entity interpolator, and
// the piggybacked ack overlay to the one server it talks to.
type Client struct {
	cfg        Config
	conn       *net.UDPConn
	serverAddr *net.UDPAddr
	sim        *protocol.Simulator

	acks     *protocol.AckTracker
	reliable *protocol.ReliableOutbox
	metrics  *metrics.Logger

	world  *ClientWorld
	interp *Interpolator

	connected  bool
	assignedID uint8

	InputFunc       InputFunc
	OnReliableEvent func(payload []byte)
	OnDisconnected  func()

	pendingSnapshots []pendingSnapshot
	recvBuf          []byte

	// snapshotsReceived counts every SNAPSHOT decoded off the wire. It is
	// written only from the tick loop but read from any goroutine (e.g. a
	// load-test harness polling progress), hence atomic.
	snapshotsReceived uint64

	lastBWSample  time.Time
	sentSinceBW   int64
	recvSinceBW   int64
	sentSinceLoss int64

	lastPingAt time.Time
}

// NewClient resolves the server address and binds an ephemeral local UDP
// socket. A bind failure is the client-side analogue of the server's
// fatal-at-startup SocketError.
func NewClient(cfg Config) (*Client, error) {
	serverAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("client: resolve %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("client: bind local socket: %w", err)
	}
	c := &Client{
		cfg:          cfg,
		conn:         conn,
		serverAddr:   serverAddr,
		acks:         protocol.NewAckTracker(),
		reliable:     protocol.NewReliableOutbox(),
		metrics:      metrics.NewLogger(),
		interp:       &Interpolator{},
		recvBuf:      make([]byte, 65535),
		lastBWSample: time.Now(),
		InputFunc:    func() (float32, float32, uint8) { return 0, 0, 0 },
	}
	if cfg.Loss > 0 || cfg.Latency > 0 || cfg.Jitter > 0 || cfg.Bandwidth > 0 {
		c.sim = protocol.NewSimulator(conn, cfg.Loss, cfg.Latency, cfg.Jitter, cfg.Bandwidth)
	}
	return c, nil
}

// Metrics exposes the running Logger, read-only.
func (c *Client) Metrics() *metrics.Logger { return c.metrics }

// AssignedID returns the id the server assigned on connect, valid only
// after Run has completed its handshake.
func (c *Client) AssignedID() uint8 { return c.assignedID }

// Connected reports whether the handshake has completed and no
// DISCONNECT has since been received from the server or sent by
// Disconnect. Silence from the server does not clear it.
func (c *Client) Connected() bool { return c.connected }

// Self returns the self entity's smoothed render state, for a headless
// or graphical caller to draw.
func (c *Client) Self() physics.EntityState {
	if c.world == nil {
		return physics.EntityState{}
	}
	return c.world.Render()
}

// Remotes returns the interpolated positions of every other known
// entity, per §4.6's interpolation algorithm.
func (c *Client) Remotes() []RemoteEntity {
	if c.world == nil {
		return nil
	}
	return c.interp.Render(c.assignedID)
}

// Run performs the connect handshake, then drives the fixed-rate client
// tick loop until ctx is cancelled. A server that stops responding is not
// detected; the loop keeps running until cancellation.
func (c *Client) Run(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		return err
	}
	if !c.connected {
		return nil // ctx was cancelled before the handshake completed
	}

	dt := c.cfg.Dt()
	dtSeconds := float32(dt.Seconds())
	nextTickAt := time.Now().Add(dt)

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		default:
		}

		tickStart := time.Now()
		c.drainInbound()
		c.predictAndSend(dtSeconds)
		c.processSnapshots(dtSeconds)
		c.world.Smooth(dtSeconds, float32(c.cfg.SmoothingTau.Seconds()))
		c.maybePing()
		c.sampleBandwidthAndLoss()

		elapsed := time.Since(tickStart)
		c.metrics.LogTickTime(elapsed)
		if elapsed > dt {
			Log.Warnw("client tick overrun", "took", elapsed, "budget", dt)
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
			c.shutdown()
			return nil
		case <-time.After(sleepFor):
		}
	}
}

// connect sends CONNECT_REQ at a short interval until CONNECT_ACK
// arrives or ConnectTimeout elapses.
func (c *Client) connect(ctx context.Context) error {
	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	retry := time.NewTicker(200 * time.Millisecond)
	defer retry.Stop()

	c.send(protocol.ConnectReq, nil)

	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond)); err != nil {
			return fmt.Errorf("client: set read deadline: %w", err)
		}
		n, _, err := c.conn.ReadFromUDP(c.recvBuf)
		if err == nil {
			header, payload, derr := protocol.Decode(c.recvBuf[:n], false)
			if derr == nil && header.Type == protocol.ConnectAck {
				id, derr2 := protocol.DecodeConnectAck(payload)
				if derr2 == nil {
					c.assignedID = id
					c.connected = true
					c.world = newClientWorld(id, c.cfg.Physics)
					Log.Infow("connected", "id", id)
					return nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-retry.C:
			if time.Now().After(deadline) {
				return ErrConnectTimeout
			}
			c.send(protocol.ConnectReq, nil)
		default:
		}
	}
}

// drainInbound reads every currently-available datagram without
// blocking the tick, dispatching by type. SNAPSHOT payloads are decoded
// and queued for processSnapshots rather than acted on immediately, per
// §4.6 step 4.
func (c *Client) drainInbound() {
	for {
		if err := c.conn.SetReadDeadline(time.Now()); err != nil {
			return
		}
		n, addr, err := c.conn.ReadFromUDP(c.recvBuf)
		if err != nil {
			return
		}
		if !addrEqual(addr, c.serverAddr) {
			continue
		}
		c.recvSinceBW += int64(n)
		c.handleDatagram(c.recvBuf[:n])
	}
}

func (c *Client) handleDatagram(data []byte) {
	header, payload, err := protocol.Decode(data, false)
	if err != nil {
		Log.Debugw("malformed packet dropped", "err", err)
		return
	}

	c.acks.OnReceive(header.Seq)
	// Read send times before AckedByPeer removes the confirmed sequences
	// from the tracker's outstanding set.
	sentTimes := make(map[uint16]time.Time)
	if sentAt, ok := c.acks.SentAt(header.Ack); ok {
		sentTimes[header.Ack] = sentAt
	}
	for i := uint16(0); i < 32; i++ {
		if header.AckBits&(uint32(1)<<i) == 0 {
			continue
		}
		if sentAt, ok := c.acks.SentAt(header.Ack - 1 - i); ok {
			sentTimes[header.Ack-1-i] = sentAt
		}
	}
	acked := c.acks.AckedByPeer(header.Ack, header.AckBits)
	c.reliable.Discard(acked)
	for _, seq := range acked {
		if sentAt, ok := sentTimes[seq]; ok {
			c.metrics.LogRTT(float64(time.Since(sentAt).Milliseconds()))
		}
	}

	switch header.Type {
	case protocol.Snapshot:
		c.handleSnapshot(payload)
	case protocol.Pong:
		c.handlePong(payload)
	case protocol.Disconnect:
		c.handleServerDisconnect()
	case protocol.ReliableEvent:
		if c.OnReliableEvent != nil {
			c.OnReliableEvent(payload)
		}
	default:
		Log.Debugw("unexpected packet type from server", "type", header.Type)
	}
}

func (c *Client) handleSnapshot(payload []byte) {
	snap, err := physics.DecodeSnapshot(payload)
	if err != nil {
		Log.Debugw("malformed snapshot dropped", "err", err)
		return
	}
	atomic.AddUint64(&c.snapshotsReceived, 1)
	entry, ok := physics.DecodeTrailer(payload, physics.SnapshotDataLen(snap), c.assignedID)
	c.pendingSnapshots = append(c.pendingSnapshots, pendingSnapshot{
		snap: snap, lastProcessedSeq: entry.LastProcessedInputSeq, haveTrailer: ok,
	})
}

// SnapshotsReceived reports how many SNAPSHOT packets this client has
// decoded so far. Safe to call from any goroutine while Run is active,
// for load-test harnesses polling progress without stopping the loop.
func (c *Client) SnapshotsReceived() uint64 {
	return atomic.LoadUint64(&c.snapshotsReceived)
}

func (c *Client) handlePong(payload []byte) {
	ts, err := protocol.DecodePingPayload(payload)
	if err != nil {
		return
	}
	sentAt := time.Unix(0, int64(ts))
	c.metrics.LogRTT(float64(time.Since(sentAt).Milliseconds()))
}

func (c *Client) handleServerDisconnect() {
	Log.Infow("server sent disconnect")
	c.connected = false
	if c.OnDisconnected != nil {
		c.OnDisconnected()
	}
}

// predictAndSend implements §4.6 steps 1-3: read input, predict locally,
// and emit an INPUT datagram carrying the last Redundancy inputs.
func (c *Client) predictAndSend(dtSeconds float32) {
	if !c.connected {
		return
	}
	moveX, moveY, actions := c.InputFunc()
	c.world.Apply(c.cfg.Physics, moveX, moveY, actions, dtSeconds)

	k := c.cfg.Redundancy
	if k <= 0 {
		k = 3
	}
	payload := protocol.EncodeInputs(c.world.RecentInputs(k))
	c.send(protocol.Input, payload)
}

// processSnapshots implements §4.6 step 4: feed every queued snapshot to
// the interpolator, and reconcile against whichever is newer than the
// last one already reconciled.
func (c *Client) processSnapshots(dtSeconds float32) {
	for _, ps := range c.pendingSnapshots {
		c.interp.Add(ps.snap)

		if c.world.haveReconciled && !protocol.SeqGreater32(ps.snap.Tick, c.world.lastReconciledTick) {
			continue
		}
		if !ps.haveTrailer {
			continue
		}
		self, ok := findEntity(ps.snap, c.assignedID)
		if !ok {
			continue
		}
		c.world.Reconcile(c.cfg.Physics, self, ps.lastProcessedSeq, dtSeconds)
		c.world.lastReconciledTick = ps.snap.Tick
		c.world.haveReconciled = true
	}
	c.pendingSnapshots = c.pendingSnapshots[:0]
}

func findEntity(snap physics.Snapshot, id uint8) (physics.EntityState, bool) {
	for _, e := range snap.Entities {
		if e.ID == id {
			return e, true
		}
	}
	return physics.EntityState{}, false
}

// maybePing sends a PING carrying the current wall-clock time, on
// PingInterval, used by the metrics logger for RTT.
func (c *Client) maybePing() {
	if !c.connected {
		return
	}
	interval := c.cfg.PingInterval
	if interval <= 0 {
		interval = time.Second
	}
	if time.Since(c.lastPingAt) < interval {
		return
	}
	c.lastPingAt = time.Now()
	c.send(protocol.Ping, protocol.EncodePingPayload(uint64(time.Now().UnixNano())))
}

// SendReliableEvent hands an application-layer payload to the reliable
// sublayer, retried on inferred loss until the server acks it.
func (c *Client) SendReliableEvent(payload []byte) {
	seq := c.acks.NextOutbound()
	c.acks.OnPacketSent(seq)
	c.reliable.Track(seq, payload)
	datagram := protocol.Encode(protocol.ReliableEvent, seq, c.acks.RemoteSeq(), c.acks.AckBits(), payload)
	if c.sim != nil {
		c.sim.SendTo(datagram, c.serverAddr)
	} else {
		_, _ = c.conn.WriteTo(datagram, c.serverAddr)
	}
	c.sentSinceBW += int64(len(datagram))
	c.sentSinceLoss++
}

// send stamps ptype+payload with this client's outbound ack-tracker
// state, writes it through the network simulator if configured, and
// returns the outbound sequence it was stamped with, so reliable-event
// retransmissions can be re-tracked under their new sequence.
func (c *Client) send(ptype protocol.PacketType, payload []byte) uint16 {
	seq := c.acks.NextOutbound()
	c.acks.OnPacketSent(seq)
	datagram := protocol.Encode(ptype, seq, c.acks.RemoteSeq(), c.acks.AckBits(), payload)

	if c.sim != nil {
		c.sim.SendTo(datagram, c.serverAddr)
	} else if _, err := c.conn.WriteTo(datagram, c.serverAddr); err != nil {
		Log.Debugw("send failed, will retry next tick", "err", err)
		return seq
	}
	c.sentSinceBW += int64(len(datagram))
	c.sentSinceLoss++
	return seq
}

func (c *Client) sampleBandwidthAndLoss() {
	interval := time.Since(c.lastBWSample)
	if interval < time.Second {
		return
	}
	c.metrics.LogBandwidth(int(c.sentSinceBW), int(c.recvSinceBW), interval)

	lost := c.acks.InferredLost()
	if c.sentSinceLoss > 0 {
		c.metrics.LogLoss(float64(len(lost)) / float64(c.sentSinceLoss))
	}
	for _, resend := range c.reliable.Resend(lost) {
		newSeq := c.send(protocol.ReliableEvent, resend)
		c.reliable.Track(newSeq, resend)
	}

	c.sentSinceBW, c.recvSinceBW, c.sentSinceLoss = 0, 0, 0
	c.lastBWSample = time.Now()
}

// Disconnect sends a best-effort DISCONNECT to the server, per §5's
// unreliable-shutdown contract, without closing the socket.
func (c *Client) Disconnect() {
	if !c.connected {
		return
	}
	c.send(protocol.Disconnect, nil)
	c.connected = false
}

func (c *Client) shutdown() {
	c.Disconnect()
	if c.sim != nil {
		c.sim.Close()
	}
	_ = c.conn.Close()
}

func addrEqual(a, b *net.UDPAddr) bool {
	return a.IP.Equal(b.IP) && a.Port == b.Port
}
