package game

import (
	"errors"
	"time"
)

var ErrRoomFull = errors.New("room is full")
var ErrRoomNotWaiting = errors.New("room is not accepting players")
var ErrAlreadyJoined = errors.New("already in room")
var ErrNotParticipant = errors.New("not a participant of this room")
var ErrNotPlaying = errors.New("game is not in progress")
var ErrRoomTerminal = errors.New("room is finished")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
	StatusDeleted  Status = "deleted"
)

type RoomType string

const (
	RoomPublic  RoomType = "public"
	RoomPrivate RoomType = "private"
)

type Settings struct {
	Mode         string
	ChallengeID  string
	TimeLimitSec int
}

type Participant struct {
	UserID      string
	Username    string
	JoinedAt    time.Time
	Ready       bool
	Score       int
	Completed   bool
	Surrendered bool
}

// State is the full room record. It is only ever mutated through Apply, which
// returns a fresh copy; the room actor owns the single live instance.
type State struct {
	Status       Status
	Name         string
	Type         RoomType
	MaxPlayers   int
	Settings     Settings
	CreatedBy    string
	CreatedAt    time.Time
	Participants []Participant
	CountdownOn  bool
}

func NewState(name string, roomType RoomType, maxPlayers int, settings Settings, createdBy string, now time.Time) State {
	return State{
		Status:     StatusWaiting,
		Name:       name,
		Type:       roomType,
		MaxPlayers: maxPlayers,
		Settings:   settings,
		CreatedBy:  createdBy,
		CreatedAt:  now,
	}
}

type CommandType string

const (
	CmdJoin            CommandType = "Join"
	CmdLeave           CommandType = "Leave"
	CmdSetReady        CommandType = "SetReady"
	CmdScore           CommandType = "Score"
	CmdUseHint         CommandType = "UseHint"
	CmdSurrender       CommandType = "Surrender"
	CmdFinishRequest   CommandType = "FinishRequest"
	CmdCountdownDone   CommandType = "CountdownDone"
	CmdDeadlineExpired CommandType = "DeadlineExpired"
	CmdGraceExpired    CommandType = "GraceExpired"
)

type Command struct {
	Type     CommandType
	UserID   string
	Username string
	Ready    bool
	Delta    int
	Reason   string
	At       time.Time
}

type EventType string

const (
	EvtPlayerJoined       EventType = "PlayerJoined"
	EvtPlayerLeft         EventType = "PlayerLeft"
	EvtReadyChanged       EventType = "ReadyChanged"
	EvtCountdownStarted   EventType = "CountdownStarted"
	EvtCountdownCancelled EventType = "CountdownCancelled"
	EvtGameStarted        EventType = "GameStarted"
	EvtScoreUpdated       EventType = "ScoreUpdated"
	EvtHintUsed           EventType = "HintUsed"
	EvtPlayerSurrendered  EventType = "PlayerSurrendered"
	EvtGameFinished       EventType = "GameFinished"
	EvtRoomDeleted        EventType = "RoomDeleted"
)

type Event struct {
	Type   EventType
	UserID string
	Ready  bool
	Delta  int
	Score  int
	Reason string
	Result *Result
}

// Apply validates cmd against s and returns the events it produces plus the
// next state. On error the returned state is s unchanged and no events are
// produced. Server-driven commands (CountdownDone, DeadlineExpired,
// GraceExpired) come from the room actor's timers, never from clients.
func Apply(s State, cmd Command) ([]Event, State, error) {
	if s.Status == StatusFinished || s.Status == StatusDeleted {
		if cmd.Type == CmdCountdownDone || cmd.Type == CmdDeadlineExpired || cmd.Type == CmdGraceExpired {
			return nil, s, nil // stale timer, ignore
		}
		return nil, s, ErrRoomTerminal
	}

	switch cmd.Type {
	case CmdJoin:
		if s.Status != StatusWaiting {
			return nil, s, ErrRoomNotWaiting
		}
		if len(s.Participants) >= s.MaxPlayers {
			return nil, s, ErrRoomFull
		}
		if s.indexOf(cmd.UserID) >= 0 {
			return nil, s, ErrAlreadyJoined
		}
		ns := s.clone()
		ns.Participants = append(ns.Participants, Participant{
			UserID:   cmd.UserID,
			Username: cmd.Username,
			JoinedAt: cmd.At,
		})
		// A join breaks all-ready, so any running countdown dies with it.
		events := []Event{{Type: EvtPlayerJoined, UserID: cmd.UserID}}
		if ns.CountdownOn {
			ns.CountdownOn = false
			events = append(events, Event{Type: EvtCountdownCancelled})
		}
		return events, ns, nil

	case CmdLeave:
		i := s.indexOf(cmd.UserID)
		if i < 0 {
			return nil, s, ErrNotParticipant
		}
		if s.Status == StatusPlaying {
			// Leaving mid-game is a surrender; the seat stays so scoring and
			// ranking remain consistent for everyone else.
			return surrender(s, cmd.UserID)
		}
		ns := s.clone()
		ns.Participants = append(ns.Participants[:i:i], ns.Participants[i+1:]...)
		events := []Event{{Type: EvtPlayerLeft, UserID: cmd.UserID}}
		if len(ns.Participants) == 0 {
			ns.Status = StatusDeleted
			events = append(events, Event{Type: EvtRoomDeleted})
			return events, ns, nil
		}
		if ns.CountdownOn {
			ns.CountdownOn = false
			events = append(events, Event{Type: EvtCountdownCancelled})
		}
		return events, ns, nil

	case CmdSetReady:
		if s.Status != StatusWaiting {
			return nil, s, ErrRoomNotWaiting
		}
		i := s.indexOf(cmd.UserID)
		if i < 0 {
			return nil, s, ErrNotParticipant
		}
		ns := s.clone()
		ns.Participants[i].Ready = cmd.Ready
		events := []Event{{Type: EvtReadyChanged, UserID: cmd.UserID, Ready: cmd.Ready}}
		if !cmd.Ready && ns.CountdownOn {
			ns.CountdownOn = false
			events = append(events, Event{Type: EvtCountdownCancelled})
		}
		if cmd.Ready && !ns.CountdownOn && len(ns.Participants) >= 2 && ns.allReady() {
			ns.CountdownOn = true
			events = append(events, Event{Type: EvtCountdownStarted})
		}
		return events, ns, nil

	case CmdCountdownDone:
		if s.Status != StatusWaiting || !s.CountdownOn {
			return nil, s, nil // stale fire
		}
		if len(s.Participants) < 2 || !s.allReady() {
			ns := s.clone()
			ns.CountdownOn = false
			return []Event{{Type: EvtCountdownCancelled}}, ns, nil
		}
		ns := s.clone()
		ns.CountdownOn = false
		ns.Status = StatusPlaying
		return []Event{{Type: EvtGameStarted}}, ns, nil

	case CmdScore:
		if s.Status != StatusPlaying {
			return nil, s, ErrNotPlaying
		}
		i := s.indexOf(cmd.UserID)
		if i < 0 {
			return nil, s, ErrNotParticipant
		}
		if s.Participants[i].Surrendered {
			return nil, s, ErrNotPlaying
		}
		ns := s.clone()
		ns.Participants[i].Score += cmd.Delta
		return []Event{{
			Type:   EvtScoreUpdated,
			UserID: cmd.UserID,
			Delta:  cmd.Delta,
			Score:  ns.Participants[i].Score,
			Reason: cmd.Reason,
		}}, ns, nil

	case CmdUseHint:
		if s.Status != StatusPlaying {
			return nil, s, ErrNotPlaying
		}
		if s.indexOf(cmd.UserID) < 0 {
			return nil, s, ErrNotParticipant
		}
		return []Event{{Type: EvtHintUsed, UserID: cmd.UserID}}, s.clone(), nil

	case CmdSurrender:
		i := s.indexOf(cmd.UserID)
		if i < 0 {
			return nil, s, ErrNotParticipant
		}
		if s.Status == StatusWaiting {
			// Nothing to concede before the game starts; treat it as a leave.
			return Apply(s, Command{Type: CmdLeave, UserID: cmd.UserID})
		}
		return surrender(s, cmd.UserID)

	case CmdGraceExpired:
		i := s.indexOf(cmd.UserID)
		if i < 0 {
			return nil, s, nil // already gone, stale timer
		}
		if s.Status == StatusWaiting {
			return Apply(s, Command{Type: CmdLeave, UserID: cmd.UserID})
		}
		if s.Participants[i].Surrendered {
			return nil, s, nil // surrender is recorded at most once
		}
		return surrender(s, cmd.UserID)

	case CmdFinishRequest:
		if s.Status != StatusPlaying {
			return nil, s, ErrNotPlaying
		}
		i := s.indexOf(cmd.UserID)
		if i < 0 {
			return nil, s, ErrNotParticipant
		}
		ns := s.clone()
		ns.Participants[i].Completed = true
		if ns.allDone() {
			return finish(ns, cmd.At), ns.finished(), nil
		}
		return nil, ns, nil

	case CmdDeadlineExpired:
		if s.Status != StatusPlaying {
			return nil, s, nil // stale fire
		}
		ns := s.clone()
		return finish(ns, cmd.At), ns.finished(), nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func surrender(s State, userID string) ([]Event, State, error) {
	i := s.indexOf(userID)
	ns := s.clone()
	if ns.Participants[i].Surrendered {
		return nil, s, nil
	}
	ns.Participants[i].Surrendered = true
	events := []Event{{Type: EvtPlayerSurrendered, UserID: userID}}
	if ns.allDone() {
		events = append(events, finish(ns, time.Time{})...)
		return events, ns.finished(), nil
	}
	return events, ns, nil
}

func finish(s State, at time.Time) []Event {
	res := Rank(s, at)
	return []Event{{Type: EvtGameFinished, Result: &res}}
}

func (s State) finished() State {
	s.Status = StatusFinished
	s.CountdownOn = false
	return s
}

func (s State) indexOf(userID string) int {
	for i, p := range s.Participants {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

func (s State) allReady() bool {
	for _, p := range s.Participants {
		if !p.Ready {
			return false
		}
	}
	return true
}

// allDone reports whether every non-surrendered participant has completed.
func (s State) allDone() bool {
	for _, p := range s.Participants {
		if !p.Surrendered && !p.Completed {
			return false
		}
	}
	return true
}

func (s State) clone() State {
	ns := s
	ns.Participants = append([]Participant(nil), s.Participants...)
	return ns
}
