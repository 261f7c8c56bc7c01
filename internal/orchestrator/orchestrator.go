// Package orchestrator builds a council from a list of member descriptors,
// wires every member's peer set, starts each member concurrently, and
// waits on a completion barrier that drains as members shut down.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/paxoscouncil/council/internal/config"
	"github.com/paxoscouncil/council/internal/council"
)

// Orchestrator owns the process-wide completion flag and the completion
// barrier shared by every member it builds. A fresh Orchestrator can be
// created per run, which is why the flag is a field here rather than a
// package-level global — multiple orchestrations can coexist, e.g. across
// parallel tests.
type Orchestrator struct {
	runID     string
	log       *logrus.Entry
	completed *atomic.Bool
}

// New creates an Orchestrator. log may be nil, in which case a default
// logrus logger writing to stdout is used.
func New(log *logrus.Logger) *Orchestrator {
	if log == nil {
		log = logrus.New()
		log.SetOutput(os.Stdout)
	}
	runID := uuid.NewString()
	return &Orchestrator{
		runID:     runID,
		log:       log.WithField("run_id", runID),
		completed: atomic.NewBool(false),
	}
}

// Run builds the council described by members, starts every member, and
// blocks until every member has shut down. ctx bounds the wait so a
// pathological no-quorum configuration cannot hang forever; config.Load
// already rejects that configuration up front, so this is a second line
// of defense.
func (o *Orchestrator) Run(ctx context.Context, members []config.Member) error {
	if len(members) == 0 {
		return errors.New("no members to orchestrate")
	}

	var wg sync.WaitGroup
	wg.Add(len(members))

	built := make([]council.Member, 0, len(members))
	peers := make([]council.Peer, 0, len(members))

	// Peers must be known to every member before any member starts
	// (forward references are unavoidable: a member may need to address
	// a peer built after it), so construction happens in two passes.
	for _, m := range members {
		addr := fmt.Sprintf("127.0.0.1:%d", m.Port)
		peers = append(peers, council.Peer{ID: m.ID, Addr: addr, IsAcceptor: m.Role == config.Acceptor})

		memberLog := o.log.WithFields(logrus.Fields{"member_id": m.ID, "role": string(m.Role)})
		onDone := wg.Done

		switch m.Role {
		case config.Proposer:
			built = append(built, council.NewProposer(m.ID, addr, m.ResponseDelay, o.completed, onDone, memberLog))
		case config.Acceptor:
			built = append(built, council.NewAcceptor(m.ID, addr, time.Duration(m.ResponseDelay)*time.Millisecond, o.completed, onDone, memberLog))
		default:
			return errors.Errorf("member %q: unsupported role %q", m.ID, m.Role)
		}
	}

	for _, m := range built {
		m.AddPeers(peers)
	}

	for _, m := range built {
		if err := m.Start(); err != nil {
			return errors.Wrapf(err, "starting member %q", m.ID())
		}
	}

	barrierDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(barrierDone)
	}()

	select {
	case <-barrierDone:
		o.log.Info("ELECTION COMPLETE")
		return nil
	case <-ctx.Done():
		for _, m := range built {
			m.Shutdown()
		}
		return errors.Wrap(ctx.Err(), "orchestration did not complete before context was done")
	}
}
