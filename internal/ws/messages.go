package ws

import (
	"encoding/json"
	"fmt"

	"github.com/rbignon/er-fog-vizu/internal/game"
)

const (
	typeAuth            = "auth"
	typeAuthOK          = "auth_ok"
	typeAuthError       = "auth_error"
	typeError           = "error"
	typeGameState       = "game_state"
	typeDiscovery       = "discovery"
	typeDiscoveryAck    = "discovery_ack"
	typeVisualState     = "visual_state"
	typePositionsUpdate = "positions_update"
	typeTagUpdate       = "tag_update"
	typeManualDiscovery = "manual_discovery"
	typeWaiting         = "waiting"
	typePing            = "ping"
	typePong            = "pong"
)

// inbound is the decoded form of one client frame. Exactly one payload field
// is set, matching Type; Raw keeps the original bytes for verbatim fan-out.
type inbound struct {
	Type string
	Raw  []byte

	Auth      *authMsg
	Discovery *discoveryMsg
	Positions *positionsMsg
	Tag       *tagMsg
}

type authMsg struct {
	Token string `json:"token"`
}

type discoveryMsg struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

type positionsMsg struct {
	Positions map[string]game.Point `json:"positions"`
}

type tagMsg struct {
	Zone string   `json:"zone"`
	Tags []string `json:"tags"`
}

// decode parses one frame into its typed variant. Unknown types and malformed
// JSON are protocol errors; the connection survives them, the frame does not.
func decode(raw []byte) (inbound, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return inbound{}, fmt.Errorf("malformed frame: %w", err)
	}

	in := inbound{Type: env.Type, Raw: raw}
	switch env.Type {
	case typeAuth:
		in.Auth = &authMsg{}
		if err := json.Unmarshal(raw, in.Auth); err != nil {
			return inbound{}, fmt.Errorf("auth: %w", err)
		}
	case typeDiscovery, typeManualDiscovery:
		in.Discovery = &discoveryMsg{}
		if err := json.Unmarshal(raw, in.Discovery); err != nil {
			return inbound{}, fmt.Errorf("%s: %w", env.Type, err)
		}
	case typePositionsUpdate:
		in.Positions = &positionsMsg{}
		if err := json.Unmarshal(raw, in.Positions); err != nil {
			return inbound{}, fmt.Errorf("positions_update: %w", err)
		}
	case typeTagUpdate:
		in.Tag = &tagMsg{}
		if err := json.Unmarshal(raw, in.Tag); err != nil {
			return inbound{}, fmt.Errorf("tag_update: %w", err)
		}
	case typeVisualState, typePong:
		// visual_state is rebroadcast verbatim, pong carries nothing
	default:
		return inbound{}, fmt.Errorf("unknown message type %q", env.Type)
	}
	return in, nil
}

// envelope is the minimal outbound frame: a type plus an optional message.
type envelope struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

func errorFrame(msg string) envelope     { return envelope{Type: typeError, Message: msg} }
func authErrorFrame(msg string) envelope { return envelope{Type: typeAuthError, Message: msg} }

var pingFrame = envelope{Type: typePing}

type gameStateMsg struct {
	Type  string        `json:"type"`
	State gameStateBody `json:"state"`
}

type gameStateBody struct {
	DiscoveredLinks []game.Link           `json:"discovered_links"`
	NodePositions   map[string]game.Point `json:"node_positions"`
	Tags            map[string][]string   `json:"tags"`
}

// discoveryResult serves both the sender ack and the room broadcast; the two
// differ only in Type.
type discoveryResult struct {
	Type       string      `json:"type"`
	Propagated []game.Link `json:"propagated"`
}

// wireLinks strips discovery metadata for broadcast payloads. Always returns
// a non-nil slice so empty results marshal as [].
func wireLinks(links []game.DiscoveredLink) []game.Link {
	out := make([]game.Link, 0, len(links))
	for _, l := range links {
		out = append(out, game.Link{Source: l.Source, Target: l.Target})
	}
	return out
}
