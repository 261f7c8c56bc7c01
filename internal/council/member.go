// Package council implements the shared CouncilMember lifecycle and the
// two concrete Paxos role state machines (Acceptor, Proposer) that sit on
// top of it.
package council

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/paxoscouncil/council/internal/config"
	"github.com/paxoscouncil/council/internal/message"
	"github.com/paxoscouncil/council/internal/transport"
)

// Member is the capability the orchestrator needs from any council
// participant, independent of its role.
type Member interface {
	ID() string
	AddPeers(peers []Peer)
	Start() error
	Shutdown()
}

// shutdownGrace bounds how long Shutdown waits for the dispatch worker to
// notice stopCh before giving up; the worker is daemon-like so this is a
// courtesy, not a correctness requirement.
const shutdownGrace = 250 * time.Millisecond

// base is the shared core: peer registry, inbound queue, dispatch loop,
// and shutdown coordination via a shared completion flag. Acceptor and
// Proposer embed it and supply their own processMessage.
type base struct {
	id            string
	role          config.Role
	addr          string
	responseDelay time.Duration

	peers []Peer

	completed *atomic.Bool
	onDone    func()

	log *logrus.Entry

	listener     *transport.Listener
	inbox        chan message.Message
	stopCh       chan struct{}
	dispatchDone chan struct{}
	shutdownOnce sync.Once
}

func newBase(id string, role config.Role, addr string, responseDelay time.Duration, completed *atomic.Bool, onDone func(), log *logrus.Entry) *base {
	return &base{
		id:            id,
		role:          role,
		addr:          addr,
		responseDelay: responseDelay,
		completed:     completed,
		onDone:        onDone,
		log:           log,
		inbox:         make(chan message.Message, 256),
		stopCh:        make(chan struct{}),
		dispatchDone:  make(chan struct{}),
	}
}

// ID returns the member's configured id.
func (b *base) ID() string { return b.id }

// AddPeers populates the peer registry. Must be called before Start; the
// registry may include a record for self (self is simply never chosen as
// a send/broadcast target, by id comparison).
func (b *base) AddPeers(peers []Peer) {
	b.peers = peers
}

// findPeerByID does a linear lookup of the peer registry. Callers
// tolerate a missing peer — a reply with no addressable sender is simply
// dropped, as if the message never arrived.
func (b *base) findPeerByID(id string) (Peer, bool) {
	for _, p := range b.peers {
		if p.ID == id {
			return p, true
		}
	}
	return Peer{}, false
}

// start binds the listener and launches the accept/dispatch goroutines.
// process is the role's processMessage.
func (b *base) start(process func(message.Message)) error {
	ln, err := transport.Listen(b.addr, b.log)
	if err != nil {
		return err
	}
	b.listener = ln
	go ln.Serve(b.enqueue)
	go b.dispatchLoop(process)
	return nil
}

func (b *base) enqueue(msg message.Message) {
	select {
	case b.inbox <- msg:
	case <-b.stopCh:
	}
}

// dispatchLoop is the single consumer of inbox; every state field on the
// embedding role is therefore only ever touched from this one goroutine,
// and no intra-member locking is needed.
func (b *base) dispatchLoop(process func(message.Message)) {
	defer close(b.dispatchDone)
	for {
		select {
		case <-b.stopCh:
			return
		case msg := <-b.inbox:
			if b.responseDelay > 0 {
				select {
				case <-time.After(b.responseDelay):
				case <-b.stopCh:
					return
				}
			}
			process(msg)
		}
	}
}

// send delivers msg to peer unless the process-wide completion flag is
// set, peer is self, or the sender is a proposer addressing a
// non-acceptor (proposers may never send directly to other proposers).
func (b *base) send(msg message.Message, peer Peer) {
	if b.completed.Load() {
		return
	}
	if peer.ID == b.id {
		return
	}
	if b.role == config.Proposer && !peer.IsAcceptor {
		return
	}
	if err := transport.Deliver(peer.Addr, msg); err != nil {
		b.log.WithError(err).WithField("peer", peer.ID).Warn("send failed, dropping")
	}
}

// broadcast delivers msg to peer unless the completion flag is set or
// peer is the message's own sender (self-delivery prevention). Used for
// LEARN fan-out, which — unlike send — is not restricted to acceptors:
// every peer, including other proposers, must learn the outcome.
func (b *base) broadcast(msg message.Message, peer Peer) {
	if b.completed.Load() {
		return
	}
	if msg.SenderID == peer.ID {
		return
	}
	if err := transport.Deliver(peer.Addr, msg); err != nil {
		b.log.WithError(err).WithField("peer", peer.ID).Warn("broadcast failed, dropping")
	}
}

func (b *base) sendToAll(msg message.Message) {
	for _, p := range b.peers {
		b.send(msg, p)
	}
}

func (b *base) broadcastToAll(msg message.Message) {
	for _, p := range b.peers {
		b.broadcast(msg, p)
	}
}

// Shutdown sets the process-wide completion flag, stops this member's
// listener and dispatch worker, and decrements the orchestrator's
// completion barrier. Idempotent: the barrier is decremented at most once
// per member no matter how many times Shutdown is called.
func (b *base) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.completed.Store(true)
		close(b.stopCh)
		if b.listener != nil {
			b.listener.Close()
		}
		select {
		case <-b.dispatchDone:
		case <-time.After(shutdownGrace):
			b.log.Warn("dispatch worker did not exit within grace period")
		}
		if b.onDone != nil {
			b.onDone()
		}
	})
}
