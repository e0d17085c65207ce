// Package dispatch decides which bot handles an inbound message and
// spawns fire-and-forget specialist invocations.
package dispatch

import (
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/goflock/internal/store"
)

// Dispatch targets.
const (
	TargetDM          = "dm"
	TargetDirect      = "direct"
	TargetLeaderFirst = "leader_first"
)

// Decision is the dispatcher's output.
type Decision struct {
	Target        string
	PrimaryBot    string
	SecondaryBots []string
	Reason        string
}

// mentions are a contiguous @ followed by word characters or dashes.
var mentionRe = regexp.MustCompile(`@([\w-]+)`)

// ParseMentions extracts mentions in order, deduplicated.
func ParseMentions(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		name := strings.ToLower(m[1])
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// Dispatcher maps messages to handling bots. Pure and deterministic:
// same inputs, same decision.
type Dispatcher struct {
	leader string
	bots   map[string]bool
}

func NewDispatcher(leader string, bots []string) *Dispatcher {
	known := make(map[string]bool, len(bots))
	for _, b := range bots {
		known[strings.ToLower(b)] = true
	}
	return &Dispatcher{leader: leader, bots: known}
}

// Dispatch decides the handler set for a message.
func (d *Dispatcher) Dispatch(text string, room *store.Room, isDM bool, dmTarget string) Decision {
	if isDM && dmTarget != "" {
		return Decision{
			Target:     TargetDM,
			PrimaryBot: dmTarget,
			Reason:     "direct message to " + dmTarget,
		}
	}

	var known []string
	broadcast := false
	for _, m := range ParseMentions(text) {
		switch m {
		case "all", "team":
			broadcast = true
		default:
			// Unknown mentions are ignored.
			if d.bots[m] {
				known = append(known, m)
			}
		}
	}

	if broadcast {
		return Decision{
			Target:        TargetLeaderFirst,
			PrimaryBot:    d.leader,
			SecondaryBots: d.participantsExcept(room, d.leader),
			Reason:        "broadcast mention",
		}
	}
	if len(known) == 1 {
		return Decision{
			Target:     TargetDirect,
			PrimaryBot: known[0],
			Reason:     "mentioned @" + known[0],
		}
	}

	return Decision{
		Target:        TargetLeaderFirst,
		PrimaryBot:    d.leader,
		SecondaryBots: d.participantsExcept(room, d.leader),
		Reason:        "no direct mention, leader first",
	}
}

// participantsExcept lists the room's registered bots minus one.
func (d *Dispatcher) participantsExcept(room *store.Room, except string) []string {
	if room == nil {
		return nil
	}
	var out []string
	for _, p := range room.Participants {
		if p != except && d.bots[strings.ToLower(p)] {
			out = append(out, p)
		}
	}
	return out
}
