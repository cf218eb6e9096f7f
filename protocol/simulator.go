package protocol

import (
	"container/heap"
	"math/rand"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxQueuedDelayed bounds how many datagrams a Simulator may be holding
// for delayed delivery at once. Pathological -latency settings combined
// with a high send rate would otherwise grow the queue without limit.
const maxQueuedDelayed = 512

// Sender is the minimal contract a Simulator needs from the underlying
// transport: a single best-effort write to a fixed peer.
type Sender interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

// delayedPacket is one datagram waiting in the delivery queue. seq breaks
// ties between packets with identical deliverAt so delivery among them is
// FIFO in send order, per spec.md's ordering requirement for the
// simulated link.
type delayedPacket struct {
	deliverAt time.Time
	seq       uint64
	data      []byte
	addr      net.Addr
}

// delayedQueue is a container/heap min-heap on (deliverAt, seq), giving
// O(log n) insertion and always-earliest-first delivery, with send-order
// as the tiebreak.
type delayedQueue []*delayedPacket

func (q delayedQueue) Len() int { return len(q) }

func (q delayedQueue) Less(i, j int) bool {
	if q[i].deliverAt.Equal(q[j].deliverAt) {
		return q[i].seq < q[j].seq
	}
	return q[i].deliverAt.Before(q[j].deliverAt)
}

func (q delayedQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *delayedQueue) Push(x interface{}) { *q = append(*q, x.(*delayedPacket)) }

func (q *delayedQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Simulator wraps an outbound send path with injected loss and latency,
// for exercising the protocol's tolerance to a lossy, jittery link. It is
// symmetric: the same type is used on the server's per-client send path
// and the client's send path to the server.
//
// Delayed datagrams are not handed to one goroutine each — they are
// pushed onto a single time-ordered queue drained by one delivery
// goroutine, so two datagrams queued with the same delay come out in the
// order they were sent, the way original_source/common/net.py's
// NetworkSimulator.flush() walks its delayed_packets list in insertion
// order.
type Simulator struct {
	sender Sender

	loss        float64
	baseLatency time.Duration
	jitter      time.Duration

	limiter *rate.Limiter
	rng     *rand.Rand

	mu      sync.Mutex
	queue   delayedQueue
	nextSeq uint64

	wake      chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// NewSimulator builds a Simulator and starts its delivery goroutine.
// bandwidthBytesPerSec <= 0 disables the token-bucket throttle and leaves
// only loss/latency in effect.
func NewSimulator(sender Sender, loss float64, baseLatency, jitter time.Duration, bandwidthBytesPerSec int) *Simulator {
	s := &Simulator{
		sender:      sender,
		loss:        loss,
		baseLatency: baseLatency,
		jitter:      jitter,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		wake:        make(chan struct{}, 1),
		closed:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	if bandwidthBytesPerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(bandwidthBytesPerSec), bandwidthBytesPerSec)
	}
	go s.deliverLoop()
	return s
}

// SendTo delivers data to addr, subject to simulated loss and delay. It
// never blocks the caller's tick: a delayed send is enqueued for the
// single delivery goroutine, and a full queue degrades to dropping the
// datagram rather than stalling.
func (s *Simulator) SendTo(data []byte, addr net.Addr) {
	if s.loss > 0 && s.rng.Float64() < s.loss {
		return
	}

	if s.limiter != nil && !s.limiter.AllowN(time.Now(), len(data)) {
		return
	}

	delay := s.baseLatency
	if s.jitter > 0 {
		delay += time.Duration(s.rng.Int63n(int64(s.jitter)))
	}
	if delay <= 0 {
		s.sender.WriteTo(data, addr)
		return
	}

	s.mu.Lock()
	if len(s.queue) >= maxQueuedDelayed {
		s.mu.Unlock()
		return // queue saturated: drop rather than stall the caller
	}
	item := &delayedPacket{deliverAt: time.Now().Add(delay), seq: s.nextSeq, data: data, addr: addr}
	s.nextSeq++
	heap.Push(&s.queue, item)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// deliverLoop is the single goroutine that owns the delayed-delivery
// queue. It sleeps until the earliest-due packet's deadline, or until
// woken by a fresher SendTo that might be due sooner.
func (s *Simulator) deliverLoop() {
	defer close(s.done)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		wait := time.Hour
		if len(s.queue) > 0 {
			wait = time.Until(s.queue[0].deliverAt)
			if wait < 0 {
				wait = 0
			}
		}
		s.mu.Unlock()
		timer.Reset(wait)

		select {
		case <-s.closed:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
			continue
		case <-timer.C:
		}
		s.deliverDue()
	}
}

// deliverDue sends every queued packet whose deadline has passed, in
// queue (deliverAt, seq) order.
func (s *Simulator) deliverDue() {
	now := time.Now()
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.queue[0].deliverAt.After(now) {
			s.mu.Unlock()
			return
		}
		item := heap.Pop(&s.queue).(*delayedPacket)
		s.mu.Unlock()
		s.sender.WriteTo(item.data, item.addr)
	}
}

// Close stops the delivery goroutine, dropping any packets still
// waiting in the queue. Used by the server/client shutdown path so a
// Simulator goroutine doesn't outlive the socket it writes to.
func (s *Simulator) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
	<-s.done
}
