package types

import (
	"encoding/json"
	"fmt"
)

// ClientMessage is the decoded form of one inbound frame. Every frame the
// protocol accepts has its own payload struct; anything else fails DecodeClient.
type ClientMessage interface{ isClientMsg() }

type CreateRoom struct {
	Name       string       `json:"name"`
	RoomType   string       `json:"roomType"`
	MaxPlayers int          `json:"maxPlayers"`
	Settings   GameSettings `json:"gameSettings"`
}

type JoinRoom struct {
	RoomID     string `json:"roomId"`
	InviteCode string `json:"inviteCode,omitempty"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId"`
}

type ToggleReady struct {
	RoomID string `json:"roomId"`
	Ready  bool   `json:"ready"`
}

type GameEvent struct {
	RoomID    string          `json:"roomId"`
	EventType string          `json:"eventType"`
	EventData json.RawMessage `json:"eventData,omitempty"`
}

// ScoreEventData is the payload of a "score-update" GameEvent.
type ScoreEventData struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

// TimerEventData is advisory only; the server keeps its own deadline.
type TimerEventData struct {
	RemainingSec int `json:"remainingSec"`
}

type QuickMatch struct {
	SkillLevel int          `json:"skillLevel"`
	Settings   GameSettings `json:"gameSettings"`
}

type CancelMatchmaking struct{}

type GetAvailableRooms struct {
	Limit    int    `json:"limit,omitempty"`
	RoomType string `json:"roomType,omitempty"`
}

type UpdatePresence struct {
	Status string `json:"status"`
}

type GetLeaderboard struct {
	GameType  string `json:"gameType"`
	Timeframe string `json:"timeframe,omitempty"`
	SortBy    string `json:"sortBy,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type GetMyPosition struct {
	GameType string `json:"gameType"`
}

func (CreateRoom) isClientMsg()        {}
func (JoinRoom) isClientMsg()          {}
func (LeaveRoom) isClientMsg()         {}
func (ToggleReady) isClientMsg()       {}
func (GameEvent) isClientMsg()         {}
func (QuickMatch) isClientMsg()        {}
func (CancelMatchmaking) isClientMsg() {}
func (GetAvailableRooms) isClientMsg() {}
func (UpdatePresence) isClientMsg()    {}
func (GetLeaderboard) isClientMsg()    {}
func (GetMyPosition) isClientMsg()     {}

// GameSettings travels with create-room and quick-match and is echoed back in
// room views. ChallengeID references the content catalog; TimeLimitSec is the
// server-enforced game duration.
type GameSettings struct {
	Mode         string `json:"mode"`
	ChallengeID  string `json:"challengeId,omitempty"`
	TimeLimitSec int    `json:"timeLimit,omitempty"`
}

// DecodeClient parses one wire frame into its typed message, validating the
// payload at the boundary so handlers never see a malformed one.
func DecodeClient(data []byte) (ClientMessage, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("bad frame: %w", err)
	}

	switch env.Type {
	case "create-room":
		var m CreateRoom
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.Name == "" {
			return nil, fmt.Errorf("create-room: missing name")
		}
		if m.RoomType != "public" && m.RoomType != "private" {
			return nil, fmt.Errorf("create-room: bad room type %q", m.RoomType)
		}
		if m.MaxPlayers < 2 {
			return nil, fmt.Errorf("create-room: maxPlayers must be >= 2")
		}
		if m.Settings.Mode == "" {
			return nil, fmt.Errorf("create-room: missing gameSettings.mode")
		}
		return m, nil
	case "join-room":
		var m JoinRoom
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.RoomID == "" {
			return nil, fmt.Errorf("join-room: missing roomId")
		}
		return m, nil
	case "leave-room":
		var m LeaveRoom
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.RoomID == "" {
			return nil, fmt.Errorf("leave-room: missing roomId")
		}
		return m, nil
	case "toggle-ready":
		var m ToggleReady
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.RoomID == "" {
			return nil, fmt.Errorf("toggle-ready: missing roomId")
		}
		return m, nil
	case "game-event":
		var m GameEvent
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.RoomID == "" || m.EventType == "" {
			return nil, fmt.Errorf("game-event: missing roomId or eventType")
		}
		switch m.EventType {
		case "score-update":
			var d ScoreEventData
			if err := json.Unmarshal(m.EventData, &d); err != nil {
				return nil, fmt.Errorf("score-update: %w", err)
			}
		case "timer-update", "hint-used", "player-surrender", "game-finished":
		default:
			return nil, fmt.Errorf("game-event: unknown eventType %q", m.EventType)
		}
		return m, nil
	case "quick-match":
		var m QuickMatch
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.Settings.Mode == "" {
			return nil, fmt.Errorf("quick-match: missing gameSettings.mode")
		}
		return m, nil
	case "cancel-matchmaking":
		return CancelMatchmaking{}, nil
	case "get-available-rooms":
		var m GetAvailableRooms
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "update-presence":
		var m UpdatePresence
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		switch m.Status {
		case "online", "idle", "away":
		default:
			return nil, fmt.Errorf("update-presence: bad status %q", m.Status)
		}
		return m, nil
	case "get-leaderboard":
		var m GetLeaderboard
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.GameType == "" {
			return nil, fmt.Errorf("get-leaderboard: missing gameType")
		}
		return m, nil
	case "get-my-position":
		var m GetMyPosition
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.GameType == "" {
			return nil, fmt.Errorf("get-my-position: missing gameType")
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}
