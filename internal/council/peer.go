package council

// Peer is a lightweight handle other members use to reach a member: just
// enough to address it over TCP and to know whether a proposer is allowed
// to address it directly, so the transport package itself never has to
// know about roles.
type Peer struct {
	ID         string
	Addr       string
	IsAcceptor bool
}
