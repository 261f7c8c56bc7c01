// Package config loads and validates the council's member descriptor file.
// The file is parsed with encoding/json directly rather than through a
// config library (viper, hcl, toml, ...), since no example repo in the
// pack grounds one; validation failures are wrapped with
// github.com/pkg/errors.
package config

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Role is a member's part in the protocol.
type Role string

const (
	Proposer Role = "PROPOSER"
	Acceptor Role = "ACCEPTOR"
)

// SilentProposerDelay is the sentinel responseDelay that marks a proposer
// as permanently silent after its first PREPARE.
const SilentProposerDelay = 12345

// Member is one entry of the configuration file.
type Member struct {
	ID            string `json:"id"`
	Role          Role   `json:"role"`
	ResponseDelay int    `json:"responseDelay"`
	Port          int    `json:"port"`
}

// rawMember mirrors Member but keeps Role as a string so it can be
// normalized (case-insensitively) before validation.
type rawMember struct {
	ID            string `json:"id"`
	Role          string `json:"role"`
	ResponseDelay int    `json:"responseDelay"`
	Port          int    `json:"port"`
}

// Load reads, parses and validates the member descriptor file at path.
// Any problem here is a configuration error: fatal, reported before any
// member starts.
func Load(path string) ([]Member, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file %q", path)
	}

	var raw []rawMember
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "parsing config file %q", path)
	}

	members := make([]Member, 0, len(raw))
	ids := make(map[string]struct{}, len(raw))
	ports := make(map[int]struct{}, len(raw))

	for i, m := range raw {
		role, err := normalizeRole(m.Role)
		if err != nil {
			return nil, errors.Wrapf(err, "member %d (%q)", i, m.ID)
		}
		if m.ID == "" {
			return nil, errors.Errorf("member %d: id must not be empty", i)
		}
		if _, dup := ids[m.ID]; dup {
			return nil, errors.Errorf("member %d: duplicate id %q", i, m.ID)
		}
		if m.Port < 1 || m.Port > 65535 {
			return nil, errors.Errorf("member %d (%q): port %d out of range", i, m.ID, m.Port)
		}
		if _, dup := ports[m.Port]; dup {
			return nil, errors.Errorf("member %d (%q): duplicate port %d", i, m.ID, m.Port)
		}
		if m.ResponseDelay < 0 {
			return nil, errors.Errorf("member %d (%q): responseDelay must be >= 0", i, m.ID)
		}
		ids[m.ID] = struct{}{}
		ports[m.Port] = struct{}{}
		members = append(members, Member{ID: m.ID, Role: role, ResponseDelay: m.ResponseDelay, Port: m.Port})
	}

	if err := validateQuorum(members); err != nil {
		return nil, err
	}

	return members, nil
}

func normalizeRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(Proposer):
		return Proposer, nil
	case string(Acceptor):
		return Acceptor, nil
	default:
		// Catches "LEARNER" too: the role enum is exactly
		// {PROPOSER, ACCEPTOR}, so any other value, including a real
		// Learner, is a fatal configuration error rather than a silent
		// downgrade to Acceptor.
		return "", errors.Errorf("unknown role %q", s)
	}
}

// validateQuorum rejects configurations where a strict majority of the
// peer list is not acceptors, i.e. acceptors < floor(len(members)/2)+1.
// This configuration contract is stricter than the runtime quorum
// threshold of floor(len(peers)/2) responses, so some rejected councils
// (e.g. 5 members with 2 acceptors) could still reach that threshold.
func validateQuorum(members []Member) error {
	if len(members) == 0 {
		return errors.New("configuration must list at least one member")
	}
	acceptors := 0
	for _, m := range members {
		if m.Role == Acceptor {
			acceptors++
		}
	}
	required := len(members)/2 + 1
	if acceptors < required {
		return errors.Errorf("configuration requires at least %d acceptors for a %d-member council, got %d", required, len(members), acceptors)
	}
	return nil
}
