// Package transport is the role-agnostic TCP substrate: it dials loopback
// addresses to deliver one framed message per connection, and listens for
// inbound connections, decoding exactly one message off each before handing
// it to a caller-supplied sink. It holds no knowledge of proposer/acceptor
// roles — that capability lives on the peer record one layer up, in
// internal/council.
package transport

import (
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/paxoscouncil/council/internal/message"
)

// dialTimeout bounds how long a single outbound delivery will block on a
// connection attempt before giving up; Paxos tolerates the loss.
const dialTimeout = 2 * time.Second

// Deliver opens a fresh TCP connection to addr, writes exactly one framed
// message, and closes the connection. Failures are the caller's to log and
// swallow — a lost message is recovered by the protocol's retry path, not
// by the transport.
func Deliver(addr string, msg message.Message) error {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	return msg.Encode(conn)
}

// Listener accepts one connection per inbound message and hands each
// decoded message to a caller-supplied sink. Accept runs serially on its own goroutine; each accepted
// connection is handed to a short-lived worker goroutine that reads
// exactly one message.
type Listener struct {
	ln  net.Listener
	log *logrus.Entry
}

// Listen binds addr and returns a Listener ready to Serve.
func Listen(addr string, log *logrus.Entry) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln, log: log}, nil
}

// Addr reports the bound address, useful when addr was ":0" in tests.
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

// Close stops the listener; a subsequent Accept in Serve will return an
// error, which Serve treats as an orderly shutdown signal rather than a
// failure.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Serve accepts connections until Close is called, decoding one message
// from each and handing it to sink. Serve blocks; call it from its own
// goroutine.
func (l *Listener) Serve(sink func(message.Message)) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			// A closed listener surfaces here as a net.Error; this is how
			// shutdown propagates to the accept loop, not a failure.
			l.log.WithError(err).Debug("listener closed, accept loop exiting")
			return
		}
		go l.handleConn(conn, sink)
	}
}

func (l *Listener) handleConn(conn net.Conn, sink func(message.Message)) {
	defer conn.Close()
	traceID := uuid.NewString()
	msg, err := message.Decode(conn)
	if err != nil {
		l.log.WithError(err).WithField("trace_id", traceID).Warn("dropping undecodable connection")
		return
	}
	sink(msg)
}
