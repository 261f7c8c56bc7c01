package council

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/paxoscouncil/council/internal/message"
	"github.com/paxoscouncil/council/internal/transport"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.Out = io.Discard
	return logrus.NewEntry(l)
}

// fakePeer listens on loopback and hands every decoded message to a
// channel, standing in for a remote council member in unit tests.
type fakePeer struct {
	ln   *transport.Listener
	recv chan message.Message
}

func newFakePeer(t *testing.T) *fakePeer {
	t.Helper()
	ln, err := transport.Listen("127.0.0.1:0", testLog())
	require.NoError(t, err)
	fp := &fakePeer{ln: ln, recv: make(chan message.Message, 16)}
	go ln.Serve(func(m message.Message) { fp.recv <- m })
	t.Cleanup(func() { ln.Close() })
	return fp
}

func (fp *fakePeer) next(t *testing.T) message.Message {
	t.Helper()
	select {
	case m := <-fp.recv:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
		return message.Message{}
	}
}

func newTestAcceptor(t *testing.T, peers []Peer) (*Acceptor, *atomic.Bool) {
	t.Helper()
	completed := atomic.NewBool(false)
	a := NewAcceptor("ACC", "127.0.0.1:0", 0, completed, func() {}, testLog())
	a.AddPeers(peers)

	ln, err := transport.Listen("127.0.0.1:0", testLog())
	require.NoError(t, err)
	a.listener = ln
	go ln.Serve(a.enqueue)
	go a.dispatchLoop(a.processMessage)
	t.Cleanup(func() { a.Shutdown() })

	return a, completed
}

func TestAcceptorPromisesHigherProposal(t *testing.T) {
	proposer := newFakePeer(t)
	a, _ := newTestAcceptor(t, []Peer{{ID: "P1", Addr: proposer.ln.Addr()}})

	require.NoError(t, transport.Deliver(a.listener.Addr(), message.Message{
		Type: message.Prepare, Value: "", ProposalNumber: 5, SenderID: "P1",
	}))

	reply := proposer.next(t)
	assert.Equal(t, message.Promise, reply.Type)
	assert.Equal(t, 5, a.PromisedProposalNumber())
}

func TestAcceptorRejectsLowerOrEqualProposal(t *testing.T) {
	proposer := newFakePeer(t)
	a, _ := newTestAcceptor(t, []Peer{{ID: "P1", Addr: proposer.ln.Addr()}})

	require.NoError(t, transport.Deliver(a.listener.Addr(), message.Message{
		Type: message.Prepare, ProposalNumber: 5, SenderID: "P1",
	}))
	_ = proposer.next(t) // PROMISE

	require.NoError(t, transport.Deliver(a.listener.Addr(), message.Message{
		Type: message.Prepare, ProposalNumber: 3, SenderID: "P1",
	}))
	reject := proposer.next(t)
	assert.Equal(t, message.Reject, reject.Type)
	assert.Equal(t, 5, reject.ProposalNumber)
}

func TestAcceptorAcceptsAtOrAbovePromise(t *testing.T) {
	proposer := newFakePeer(t)
	a, _ := newTestAcceptor(t, []Peer{{ID: "P1", Addr: proposer.ln.Addr()}})

	require.NoError(t, transport.Deliver(a.listener.Addr(), message.Message{
		Type: message.Prepare, ProposalNumber: 5, SenderID: "P1",
	}))
	_ = proposer.next(t) // PROMISE

	require.NoError(t, transport.Deliver(a.listener.Addr(), message.Message{
		Type: message.AcceptRequest, Value: "P1", ProposalNumber: 5, SenderID: "P1",
	}))
	accepted := proposer.next(t)
	assert.Equal(t, message.Accepted, accepted.Type)
	assert.Equal(t, "P1", a.AcceptedValue())
	assert.LessOrEqual(t, a.AcceptedProposalNumber(), a.PromisedProposalNumber())
}

func TestAcceptorIgnoresAcceptRequestBelowPromise(t *testing.T) {
	proposer := newFakePeer(t)
	a, _ := newTestAcceptor(t, []Peer{{ID: "P1", Addr: proposer.ln.Addr()}})

	require.NoError(t, transport.Deliver(a.listener.Addr(), message.Message{
		Type: message.Prepare, ProposalNumber: 10, SenderID: "P1",
	}))
	_ = proposer.next(t) // PROMISE

	require.NoError(t, transport.Deliver(a.listener.Addr(), message.Message{
		Type: message.AcceptRequest, Value: "stale", ProposalNumber: 3, SenderID: "P1",
	}))

	select {
	case m := <-proposer.recv:
		t.Fatalf("expected no reply for a stale ACCEPT_REQUEST, got %+v", m)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, -1, a.AcceptedProposalNumber())
}

func TestAcceptorLearnRecordsWinnerAndShutsDown(t *testing.T) {
	a, completed := newTestAcceptor(t, nil)

	require.NoError(t, transport.Deliver(a.listener.Addr(), message.Message{
		Type: message.Learn, Value: "P1", ProposalNumber: 7, SenderID: "P1",
	}))

	require.Eventually(t, func() bool { return completed.Load() }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "P1", a.ElectionWinner())
}
