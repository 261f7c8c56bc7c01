package council

import (
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/paxoscouncil/council/internal/config"
	"github.com/paxoscouncil/council/internal/message"
)

// Acceptor is the voter in the protocol: it responds to PREPARE and
// ACCEPT_REQUEST with PROMISE/REJECT/ACCEPTED, and shuts down on LEARN.
type Acceptor struct {
	*base

	promisedProposalNumber int
	acceptedProposalNumber int
	acceptedValue          string
	electionWinner         string
}

// NewAcceptor builds an acceptor. Call AddPeers before Start.
func NewAcceptor(id, addr string, responseDelay time.Duration, completed *atomic.Bool, onDone func(), log *logrus.Entry) *Acceptor {
	return &Acceptor{
		base:                    newBase(id, config.Acceptor, addr, responseDelay, completed, onDone, log),
		promisedProposalNumber:  -1,
		acceptedProposalNumber:  -1,
	}
}

// Start binds the listener and begins consuming the inbound queue.
func (a *Acceptor) Start() error {
	return a.base.start(a.processMessage)
}

func (a *Acceptor) processMessage(msg message.Message) {
	switch msg.Type {
	case message.Prepare:
		a.handlePrepare(msg)
	case message.AcceptRequest:
		a.handleAcceptRequest(msg)
	case message.Learn:
		a.handleLearn(msg)
	default:
		a.log.WithField("type", msg.Type).Debug("acceptor ignoring unexpected message type")
	}
}

// handlePrepare implements the promise rule: never promise a proposal
// number less than or equal to the current promise.
func (a *Acceptor) handlePrepare(msg message.Message) {
	sender, ok := a.findPeerByID(msg.SenderID)
	if !ok {
		return
	}
	if msg.ProposalNumber > a.promisedProposalNumber {
		a.promisedProposalNumber = msg.ProposalNumber
		a.send(message.Message{
			Type:           message.Promise,
			Value:          a.acceptedValue,
			ProposalNumber: a.acceptedProposalNumber,
			SenderID:       a.id,
		}, sender)
		return
	}
	a.send(message.Message{
		Type:           message.Reject,
		Value:          "",
		ProposalNumber: a.promisedProposalNumber,
		SenderID:       a.id,
	}, sender)
}

// handleAcceptRequest accepts at N if N is at least the promised number
// (not strictly greater: a proposer that was promised at exactly N is
// entitled to have its ACCEPT_REQUEST at that same N honored). Anything
// lower is silently ignored; there is no REJECT on this path.
func (a *Acceptor) handleAcceptRequest(msg message.Message) {
	sender, ok := a.findPeerByID(msg.SenderID)
	if !ok {
		return
	}
	if msg.ProposalNumber < a.promisedProposalNumber {
		return
	}
	a.acceptedProposalNumber = msg.ProposalNumber
	a.acceptedValue = msg.Value
	a.send(message.Message{
		Type:           message.Accepted,
		Value:          a.acceptedValue,
		ProposalNumber: a.acceptedProposalNumber,
		SenderID:       a.id,
	}, sender)
}

func (a *Acceptor) handleLearn(msg message.Message) {
	a.electionWinner = msg.SenderID
	a.log.WithField("winner", msg.SenderID).Info("election outcome learned")
	a.Shutdown()
}

// PromisedProposalNumber reports the acceptor's current promise. Exposed
// for tests asserting the acceptedProposalNumber <= promisedProposalNumber
// invariant.
func (a *Acceptor) PromisedProposalNumber() int { return a.promisedProposalNumber }

// AcceptedProposalNumber reports the last proposal number this acceptor
// accepted, or -1 if it has never accepted one.
func (a *Acceptor) AcceptedProposalNumber() int { return a.acceptedProposalNumber }

// AcceptedValue reports the value last accepted by this acceptor.
func (a *Acceptor) AcceptedValue() string { return a.acceptedValue }

// ElectionWinner reports the id this acceptor learned as the winner, or
// "" if it has not yet received a LEARN.
func (a *Acceptor) ElectionWinner() string { return a.electionWinner }
