package types

import "time"

// ServerMessage is one outbound frame. Each concrete message carries its own
// constant "type" field so the write pump can marshal it directly; build them
// through the New* constructors so the field is never left empty.
type ServerMessage interface{ isServerMsg() }

// RoomView is the client-facing snapshot of a room.
type RoomView struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Type           string            `json:"type"`
	MaxPlayers     int               `json:"maxPlayers"`
	CurrentPlayers int               `json:"currentPlayers"`
	Status         string            `json:"status"`
	Settings       GameSettings      `json:"gameSettings"`
	CreatedBy      string            `json:"createdBy"`
	CreatedAt      time.Time         `json:"createdAt"`
	Participants   []ParticipantView `json:"participantDetails"`
}

type ParticipantView struct {
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	JoinedAt    time.Time `json:"joinedAt"`
	IsReady     bool      `json:"isReady"`
	Score       int       `json:"score"`
	Surrendered bool      `json:"surrendered"`
}

type PlayerResult struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	FinalScore  int    `json:"finalScore"`
	Placement   int    `json:"placement"`
	Completed   bool   `json:"completed"`
	Surrendered bool   `json:"surrendered"`
}

type RoomCreated struct {
	Type       string   `json:"type"`
	Room       RoomView `json:"room"`
	InviteCode string   `json:"inviteCode,omitempty"`
}

type RoomJoined struct {
	Type string   `json:"type"`
	Room RoomView `json:"room"`
}

type RoomLeft struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

type UserLeftRoom struct {
	Type   string `json:"type"`
	Seq    uint64 `json:"seq,omitempty"`
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type RoomError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type MatchmakingError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ProtocolError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type PlayerReadyStatusChanged struct {
	Type    string `json:"type"`
	Seq     uint64 `json:"seq,omitempty"`
	RoomID  string `json:"roomId"`
	UserID  string `json:"userId"`
	IsReady bool   `json:"isReady"`
}

type GameStartingCountdown struct {
	Type      string `json:"type"`
	Seq       uint64 `json:"seq,omitempty"`
	RoomID    string `json:"roomId"`
	Countdown int    `json:"countdown"`
}

type CountdownCancelled struct {
	Type   string `json:"type"`
	Seq    uint64 `json:"seq,omitempty"`
	RoomID string `json:"roomId"`
}

type GameStarted struct {
	Type         string `json:"type"`
	Seq          uint64 `json:"seq,omitempty"`
	RoomID       string `json:"roomId"`
	TimeLimitSec int    `json:"timeLimit"`
}

type ScoreUpdated struct {
	Type   string `json:"type"`
	Seq    uint64 `json:"seq,omitempty"`
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Delta  int    `json:"delta"`
	Score  int    `json:"score"`
	Reason string `json:"reason,omitempty"`
}

type PlayerSurrendered struct {
	Type   string `json:"type"`
	Seq    uint64 `json:"seq,omitempty"`
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type HintUsedNotification struct {
	Type   string `json:"type"`
	Seq    uint64 `json:"seq,omitempty"`
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type GameFinished struct {
	Type             string         `json:"type"`
	Seq              uint64         `json:"seq,omitempty"`
	RoomID           string         `json:"roomId"`
	AllPlayerResults []PlayerResult `json:"allPlayerResults"`
}

type RoomClosed struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

type MatchmakingQueued struct {
	Type string `json:"type"`
}

type MatchFound struct {
	Type         string            `json:"type"`
	RoomID       string            `json:"roomId"`
	Participants []string          `json:"participants"`
	Details      []ParticipantView `json:"participantDetails"`
	Settings     GameSettings      `json:"gameSettings"`
}

type MatchmakingCancelled struct {
	Type string `json:"type"`
}

type AvailableRooms struct {
	Type  string     `json:"type"`
	Rooms []RoomView `json:"rooms"`
}

type PresenceUpdateSuccess struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

type LeaderboardData struct {
	Type      string             `json:"type"`
	GameType  string             `json:"gameType"`
	Timeframe string             `json:"timeframe"`
	Entries   []LeaderboardEntry `json:"entries"`
}

type LeaderboardEntry struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	TotalScore  int    `json:"totalScore"`
	GamesPlayed int    `json:"gamesPlayed"`
	Wins        int    `json:"wins"`
	Losses      int    `json:"losses"`
	Rank        int    `json:"rank"`
}

type MyPosition struct {
	Type        string `json:"type"`
	GameType    string `json:"gameType"`
	Ranked      bool   `json:"ranked"`
	Rank        int    `json:"rank,omitempty"`
	TotalScore  int    `json:"totalScore"`
	GamesPlayed int    `json:"gamesPlayed"`
	Wins        int    `json:"wins"`
	Losses      int    `json:"losses"`
}

// LeaderboardScoreUpdated is pushed to open leaderboard feeds after a result
// lands, so views refresh incrementally.
type LeaderboardScoreUpdated struct {
	Type       string `json:"type"`
	GameType   string `json:"gameType"`
	UserID     string `json:"userId"`
	TotalScore int    `json:"totalScore"`
}

// ConnectionStatus reports transport-level state changes (reconnect grace,
// takeover by a second login). Clients reconnect with backoff starting at 1s,
// capped at 5s.
type ConnectionStatus struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (RoomCreated) isServerMsg()              {}
func (RoomJoined) isServerMsg()               {}
func (RoomLeft) isServerMsg()                 {}
func (UserLeftRoom) isServerMsg()             {}
func (RoomError) isServerMsg()                {}
func (MatchmakingError) isServerMsg()         {}
func (ProtocolError) isServerMsg()            {}
func (PlayerReadyStatusChanged) isServerMsg() {}
func (GameStartingCountdown) isServerMsg()    {}
func (CountdownCancelled) isServerMsg()       {}
func (GameStarted) isServerMsg()              {}
func (ScoreUpdated) isServerMsg()             {}
func (PlayerSurrendered) isServerMsg()        {}
func (HintUsedNotification) isServerMsg()     {}
func (GameFinished) isServerMsg()             {}
func (RoomClosed) isServerMsg()               {}
func (MatchmakingQueued) isServerMsg()        {}
func (MatchFound) isServerMsg()               {}
func (MatchmakingCancelled) isServerMsg()     {}
func (AvailableRooms) isServerMsg()           {}
func (PresenceUpdateSuccess) isServerMsg()    {}
func (LeaderboardData) isServerMsg()          {}
func (MyPosition) isServerMsg()               {}
func (LeaderboardScoreUpdated) isServerMsg()  {}
func (ConnectionStatus) isServerMsg()         {}

func NewRoomError(msg string) RoomError { return RoomError{Type: "room-error", Message: msg} }
func NewMatchmakingError(msg string) MatchmakingError {
	return MatchmakingError{Type: "matchmaking-error", Message: msg}
}
func NewProtocolError(msg string) ProtocolError {
	return ProtocolError{Type: "protocol-error", Message: msg}
}
