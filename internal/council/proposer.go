package council

import (
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/paxoscouncil/council/internal/config"
	"github.com/paxoscouncil/council/internal/message"
)

// rejectionBackoff is the pause a proposer takes after a majority of
// acceptors reject its current proposal number, before renumbering and
// retrying. It deliberately blocks the dispatch worker.
const rejectionBackoff = 1000 * time.Millisecond

// Proposer drives PREPARE -> quorum of PROMISE -> ACCEPT_REQUEST ->
// quorum of ACCEPTED -> LEARN, retrying with a renumbered proposal on
// REJECT. A proposer configured with the silent-proposer sentinel
// response delay emits its first PREPARE and then ignores every inbound
// message except LEARN.
type Proposer struct {
	*base

	proposalNumber       int
	promisedSet          map[string]struct{}
	acceptedSet          map[string]struct{}
	receivedPromisesFlag bool
	numRejections        int
	responsive           bool
}

// NewProposer builds a proposer. Call AddPeers before Start.
// responseDelay is the raw configured value; config.SilentProposerDelay
// puts the proposer into permanently-silent mode and the dispatch loop's
// per-message sleep is skipped for it (there is nothing left to process).
func NewProposer(id, addr string, responseDelay int, completed *atomic.Bool, onDone func(), log *logrus.Entry) *Proposer {
	responsive := responseDelay != config.SilentProposerDelay
	effectiveDelay := time.Duration(responseDelay) * time.Millisecond
	if !responsive {
		effectiveDelay = 0
	}
	return &Proposer{
		base:       newBase(id, config.Proposer, addr, effectiveDelay, completed, onDone, log),
		responsive: responsive,
	}
}

// Start binds the listener, begins consuming the inbound queue, and
// kicks off the first round. The first PREPARE is emitted from its own
// goroutine so Start returns promptly; every subsequent round (triggered
// by REJECT back-off) runs inline on the dispatch worker.
func (p *Proposer) Start() error {
	if err := p.base.start(p.processMessage); err != nil {
		return err
	}
	go p.initiateRound()
	return nil
}

func (p *Proposer) initiateRound() {
	p.proposalNumber++
	p.promisedSet = make(map[string]struct{})
	p.acceptedSet = make(map[string]struct{})
	p.receivedPromisesFlag = false
	p.numRejections = 0

	p.log.WithField("proposal_number", p.proposalNumber).Info("initiating round")
	p.sendToAll(message.Message{
		Type:           message.Prepare,
		Value:          p.id,
		ProposalNumber: p.proposalNumber,
		SenderID:       p.id,
	})
}

func (p *Proposer) quorum() int {
	return len(p.peers) / 2
}

// processMessage is the single entry point from the dispatch worker.
// LEARN is always honored, responsive or not — it is how a silent
// proposer eventually shuts down (glossary: "ignores all inbound
// messages until it receives a LEARN").
func (p *Proposer) processMessage(msg message.Message) {
	if msg.Type == message.Learn {
		p.handleLearn(msg)
		return
	}
	if !p.responsive {
		return
	}
	switch msg.Type {
	case message.Promise:
		p.handlePromise(msg)
	case message.Reject:
		p.handleReject(msg)
	case message.Accepted:
		p.handleAccepted(msg)
	default:
		p.log.WithField("type", msg.Type).Debug("proposer ignoring unexpected message type")
	}
}

func (p *Proposer) handlePromise(msg message.Message) {
	p.promisedSet[msg.SenderID] = struct{}{}
	if p.receivedPromisesFlag {
		// Quorum already crossed this round; extra promises are absorbed
		// without triggering a second ACCEPT_REQUEST broadcast.
		return
	}
	if len(p.promisedSet) >= p.quorum() {
		p.receivedPromisesFlag = true
		p.sendToAll(message.Message{
			Type:           message.AcceptRequest,
			Value:          p.id,
			ProposalNumber: p.proposalNumber,
			SenderID:       p.id,
		})
	}
}

func (p *Proposer) handleReject(msg message.Message) {
	p.numRejections++
	if msg.ProposalNumber+1 > p.proposalNumber {
		p.proposalNumber = msg.ProposalNumber + 1
	}
	if p.numRejections >= p.quorum() {
		p.numRejections = 0
		time.Sleep(rejectionBackoff)
		p.initiateRound()
	}
}

func (p *Proposer) handleAccepted(msg message.Message) {
	p.acceptedSet[msg.SenderID] = struct{}{}
	if len(p.acceptedSet) < p.quorum() {
		return
	}
	// Clear before broadcasting: a redundant quorum crossing from a late
	// ACCEPTED arrival must not re-broadcast LEARN.
	p.acceptedSet = make(map[string]struct{})
	p.log.WithField("proposal_number", p.proposalNumber).Info("Consensus Achieved")
	p.broadcastToAll(message.Message{
		Type:           message.Learn,
		Value:          p.id,
		ProposalNumber: p.proposalNumber,
		SenderID:       p.id,
	})
	p.Shutdown()
}

func (p *Proposer) handleLearn(msg message.Message) {
	p.log.WithField("winner", msg.SenderID).Info("election outcome learned")
	p.Shutdown()
}
