package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/bhosaleparag/dev-battle-sub000/internal/game"
	"github.com/bhosaleparag/dev-battle-sub000/internal/hub"
	"github.com/bhosaleparag/dev-battle-sub000/internal/leaderboard"
	"github.com/bhosaleparag/dev-battle-sub000/internal/matchmaking"
	"github.com/bhosaleparag/dev-battle-sub000/internal/presence"
	"github.com/bhosaleparag/dev-battle-sub000/internal/room"
	"github.com/bhosaleparag/dev-battle-sub000/pkg/types"
)

var errRoomUnavailable = errors.New("room unavailable")

// Deps wires the coordinator into the rest of the core.
type Deps struct {
	Hub          *hub.Hub
	Pool         *matchmaking.Pool
	Presence     *presence.Tracker
	Boards       *leaderboard.Service
	Clock        clockwork.Clock
	Log          *zap.Logger
	GraceWindow  time.Duration
	QueryTimeout time.Duration
}

// Coordinator owns the session registry and translates decoded client
// messages into hub, room, matchmaking, presence and leaderboard calls.
// Every operation goes through an explicit *Session handle; there is no
// ambient connection state.
type Coordinator struct {
	deps     Deps
	registry *registry
	log      *zap.Logger
}

func NewCoordinator(deps Deps) *Coordinator {
	c := &Coordinator{deps: deps, log: deps.Log}
	c.registry = newRegistry(deps.GraceWindow, deps.Clock, c.graceExpired, deps.Log)
	return c
}

// SetPool breaks the construction cycle: the pool's PairFunc is
// Coordinator.MatchFound, so the pool is built second and injected here
// before the server starts accepting connections.
func (c *Coordinator) SetPool(p *matchmaking.Pool) { c.deps.Pool = p }

// graceExpired releases what a vanished user still held. Rooms run their own
// grace timers for the surrender bookkeeping; the ticket is ours to drop.
func (c *Coordinator) graceExpired(userID string, st resumeState) {
	if st.hadTicket && c.deps.Pool.Cancel(userID) {
		c.log.Info("matchmaking ticket released", zap.String("userID", userID))
	}
}

// Session is one live connection for one authenticated user. The identity
// collaborator vouches for userID/username before the socket reaches us.
type Session struct {
	userID   string
	username string
	outbox   chan types.ServerMessage

	mu    sync.Mutex
	rooms map[string]*room.Room

	ctx       context.Context
	cancel    context.CancelFunc
	closeConn func(code int, reason string)
}

// send enqueues a frame. A full outbox drops the frame rather than stalling
// the caller; the write pump is the only reader.
func (s *Session) send(msg types.ServerMessage) bool {
	select {
	case s.outbox <- msg:
		return true
	default:
		return false
	}
}

func (s *Session) trackRoom(rm *room.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[rm.ID] = rm
}

func (s *Session) untrackRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

func (s *Session) snapshotRooms() []*room.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*room.Room, 0, len(s.rooms))
	for _, rm := range s.rooms {
		out = append(out, rm)
	}
	return out
}

// dispatch routes one decoded message. The union is exhaustive; DecodeClient
// already rejected everything else.
func (c *Coordinator) dispatch(s *Session, m types.ClientMessage) {
	c.deps.Presence.Touch(s.userID)

	switch msg := m.(type) {
	case types.CreateRoom:
		c.createRoom(s, msg)
	case types.JoinRoom:
		c.joinRoom(s, msg)
	case types.LeaveRoom:
		c.leaveRoom(s, msg)
	case types.ToggleReady:
		c.toggleReady(s, msg)
	case types.GameEvent:
		c.gameEvent(s, msg)
	case types.QuickMatch:
		c.quickMatch(s, msg)
	case types.CancelMatchmaking:
		c.cancelMatchmaking(s)
	case types.GetAvailableRooms:
		c.availableRooms(s, msg)
	case types.UpdatePresence:
		c.updatePresence(s, msg)
	case types.GetLeaderboard:
		c.getLeaderboard(s, msg)
	case types.GetMyPosition:
		c.getMyPosition(s, msg)
	}
}

func (c *Coordinator) createRoom(s *Session, msg types.CreateRoom) {
	rm := c.hubCreate(hub.CreateRoom{
		Name:       msg.Name,
		RoomType:   game.RoomType(msg.RoomType),
		MaxPlayers: msg.MaxPlayers,
		Settings: game.Settings{
			Mode:         msg.Settings.Mode,
			ChallengeID:  msg.Settings.ChallengeID,
			TimeLimitSec: msg.Settings.TimeLimitSec,
		},
		CreatorID: s.userID,
	})
	if rm == nil {
		s.send(types.NewRoomError("could not create room"))
		return
	}

	reply, err := c.do(rm, game.Command{Type: game.CmdJoin, UserID: s.userID, Username: s.username, At: c.deps.Clock.Now()})
	if err != nil {
		s.send(types.NewRoomError(err.Error()))
		return
	}
	s.send(types.RoomCreated{Type: "room-created", Room: reply.View, InviteCode: rm.InviteCode})
	rm.Inbox() <- room.Attach{UserID: s.userID, Outbox: s.outbox}
	s.trackRoom(rm)
}

func (c *Coordinator) joinRoom(s *Session, msg types.JoinRoom) {
	rm := c.hubGet(msg.RoomID)
	if rm == nil {
		s.send(types.NewRoomError("room not found"))
		return
	}
	if rm.InviteCode != "" && rm.InviteCode != msg.InviteCode {
		s.send(types.NewRoomError("invalid invite code"))
		return
	}

	reply, err := c.do(rm, game.Command{Type: game.CmdJoin, UserID: s.userID, Username: s.username, At: c.deps.Clock.Now()})
	if err != nil {
		s.send(types.NewRoomError(err.Error()))
		return
	}
	s.send(types.RoomJoined{Type: "room-joined", Room: reply.View})
	// Attach after the join reply so the buffered-event replay for late
	// joiners lands after room-joined.
	rm.Inbox() <- room.Attach{UserID: s.userID, Outbox: s.outbox}
	s.trackRoom(rm)
}

func (c *Coordinator) leaveRoom(s *Session, msg types.LeaveRoom) {
	rm := c.hubGet(msg.RoomID)
	if rm == nil {
		s.send(types.NewRoomError("room not found"))
		return
	}
	if _, err := c.do(rm, game.Command{Type: game.CmdLeave, UserID: s.userID, At: c.deps.Clock.Now()}); err != nil {
		s.send(types.NewRoomError(err.Error()))
		return
	}
	rm.Inbox() <- room.Detach{UserID: s.userID}
	s.untrackRoom(rm.ID)
	s.send(types.RoomLeft{Type: "room-left", RoomID: rm.ID})
}

func (c *Coordinator) toggleReady(s *Session, msg types.ToggleReady) {
	rm := c.hubGet(msg.RoomID)
	if rm == nil {
		s.send(types.NewRoomError("room not found"))
		return
	}
	if _, err := c.do(rm, game.Command{Type: game.CmdSetReady, UserID: s.userID, Ready: msg.Ready, At: c.deps.Clock.Now()}); err != nil {
		s.send(types.NewRoomError(err.Error()))
	}
}

func (c *Coordinator) gameEvent(s *Session, msg types.GameEvent) {
	rm := c.hubGet(msg.RoomID)
	if rm == nil {
		s.send(types.NewRoomError("room not found"))
		return
	}

	cmd := game.Command{UserID: s.userID, At: c.deps.Clock.Now()}
	switch msg.EventType {
	case "score-update":
		var d types.ScoreEventData
		if err := json.Unmarshal(msg.EventData, &d); err != nil {
			s.send(types.NewRoomError("malformed score-update payload"))
			return
		}
		cmd.Type = game.CmdScore
		cmd.Delta = d.Delta
		cmd.Reason = d.Reason
	case "timer-update":
		// Advisory only; the server tracks its own deadline and the elapsed
		// time a client reports is never trusted.
		return
	case "hint-used":
		cmd.Type = game.CmdUseHint
	case "player-surrender":
		cmd.Type = game.CmdSurrender
	case "game-finished":
		cmd.Type = game.CmdFinishRequest
	default:
		s.send(types.NewRoomError("unknown game event type"))
		return
	}

	if _, err := c.do(rm, cmd); err != nil {
		s.send(types.NewRoomError(err.Error()))
	}
}

func (c *Coordinator) quickMatch(s *Session, msg types.QuickMatch) {
	// Ack before enqueueing: pairing can succeed inline, and match-found must
	// follow matchmaking-queued on the wire.
	s.send(types.MatchmakingQueued{Type: "matchmaking-queued"})
	c.deps.Pool.Enqueue(matchmaking.Ticket{
		UserID:     s.userID,
		Username:   s.username,
		SkillLevel: msg.SkillLevel,
		Settings: game.Settings{
			Mode:         msg.Settings.Mode,
			ChallengeID:  msg.Settings.ChallengeID,
			TimeLimitSec: msg.Settings.TimeLimitSec,
		},
		EnqueuedAt: c.deps.Clock.Now(),
	})
}

func (c *Coordinator) cancelMatchmaking(s *Session) {
	c.deps.Pool.Cancel(s.userID)
	s.send(types.MatchmakingCancelled{Type: "matchmaking-cancelled"})
}

// MatchFound is the matchmaking PairFunc: it turns two claimed tickets into
// a live room and notifies both players.
func (c *Coordinator) MatchFound(a, b matchmaking.Ticket) {
	rm := c.hubCreate(hub.CreateRoom{
		Name:       "Quick Match",
		RoomType:   game.RoomPublic,
		MaxPlayers: 2,
		Settings:   a.Settings,
		CreatorID:  a.UserID,
	})
	if rm == nil {
		c.log.Error("match pairing failed to create room",
			zap.String("userA", a.UserID), zap.String("userB", b.UserID))
		for _, t := range []matchmaking.Ticket{a, b} {
			if s := c.registry.get(t.UserID); s != nil {
				s.send(types.NewMatchmakingError("could not create match room"))
			}
		}
		return
	}

	for _, t := range []matchmaking.Ticket{a, b} {
		if _, err := c.do(rm, game.Command{Type: game.CmdJoin, UserID: t.UserID, Username: t.Username, At: c.deps.Clock.Now()}); err != nil {
			c.log.Error("match join failed", zap.String("userID", t.UserID), zap.Error(err))
		}
	}
	// Read the roster after both joins so each frame lists everyone who made
	// it in, not just whoever joined last.
	view, ok := c.view(rm)
	if !ok {
		c.log.Error("match room view unavailable", zap.String("roomID", rm.ID))
	}

	for _, t := range []matchmaking.Ticket{a, b} {
		if s := c.registry.get(t.UserID); s != nil {
			rm.Inbox() <- room.Attach{UserID: t.UserID, Outbox: s.outbox}
			s.trackRoom(rm)
			s.send(types.MatchFound{
				Type:         "match-found",
				RoomID:       rm.ID,
				Participants: []string{a.UserID, b.UserID},
				Details:      view.Participants,
				Settings:     view.Settings,
			})
		} else {
			// Paired while offline inside the grace window; hold the slot
			// until the room's own grace timer decides.
			rm.Inbox() <- room.Detach{UserID: t.UserID}
		}
	}
	c.log.Info("match formed",
		zap.String("roomID", rm.ID),
		zap.String("userA", a.UserID),
		zap.String("userB", b.UserID))
}

func (c *Coordinator) availableRooms(s *Session, msg types.GetAvailableRooms) {
	limit := msg.Limit
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	reply := make(chan []*room.Room, 1)
	c.deps.Hub.Inbox() <- hub.ListRooms{Reply: reply}
	rooms := c.awaitRooms(reply)

	out := make([]types.RoomView, 0, limit)
	for _, rm := range rooms {
		if len(out) >= limit {
			break
		}
		view, ok := c.view(rm)
		if !ok {
			continue
		}
		if view.Status != string(game.StatusWaiting) || view.CurrentPlayers >= view.MaxPlayers {
			continue
		}
		if view.Type == string(game.RoomPrivate) {
			continue // joinable by invite code only
		}
		if msg.RoomType != "" && view.Type != msg.RoomType {
			continue
		}
		out = append(out, view)
	}
	s.send(types.AvailableRooms{Type: "available-rooms", Rooms: out})
}

func (c *Coordinator) updatePresence(s *Session, msg types.UpdatePresence) {
	if err := c.deps.Presence.Set(s.userID, presence.Status(msg.Status)); err != nil {
		s.send(types.NewProtocolError(err.Error()))
		return
	}
	s.send(types.PresenceUpdateSuccess{Type: "presence-update-success", Status: msg.Status})
}

func (c *Coordinator) getLeaderboard(s *Session, msg types.GetLeaderboard) {
	entries := c.deps.Boards.Snapshot(s.ctx, leaderboard.Query{
		GameType:  msg.GameType,
		Timeframe: msg.Timeframe,
		SortBy:    msg.SortBy,
		Limit:     msg.Limit,
	})

	out := make([]types.LeaderboardEntry, len(entries))
	for i, e := range entries {
		out[i] = types.LeaderboardEntry{
			UserID:      e.UserID,
			Username:    e.Username,
			TotalScore:  e.TotalScore,
			GamesPlayed: e.GamesPlayed,
			Wins:        e.Wins,
			Losses:      e.Losses,
			Rank:        i + 1,
		}
	}
	s.send(types.LeaderboardData{
		Type:      "leaderboard-data",
		GameType:  msg.GameType,
		Timeframe: msg.Timeframe,
		Entries:   out,
	})
	// An open board view gets incremental score updates from here on.
	c.deps.Boards.Subscribe(msg.GameType, s.outbox)
}

func (c *Coordinator) getMyPosition(s *Session, msg types.GetMyPosition) {
	pos := c.deps.Boards.Position(s.ctx, s.userID, msg.GameType)
	if !pos.Ranked {
		s.send(types.MyPosition{Type: "my-position", GameType: msg.GameType, Ranked: false})
		return
	}
	s.send(types.MyPosition{
		Type:        "my-position",
		GameType:    msg.GameType,
		Ranked:      true,
		Rank:        pos.Rank,
		TotalScore:  pos.Entry.TotalScore,
		GamesPlayed: pos.Entry.GamesPlayed,
		Wins:        pos.Entry.Wins,
		Losses:      pos.Entry.Losses,
	})
}

// do sends a command to a room actor and waits for its reply, bounded so a
// dead room cannot hang a session.
func (c *Coordinator) do(rm *room.Room, cmd game.Command) (room.DoReply, error) {
	reply := make(chan room.DoReply, 1)
	rm.Inbox() <- room.Do{Cmd: cmd, Reply: reply}
	select {
	case r := <-reply:
		return r, r.Err
	case <-c.deps.Clock.After(c.deps.QueryTimeout):
		return room.DoReply{}, errRoomUnavailable
	}
}

func (c *Coordinator) view(rm *room.Room) (types.RoomView, bool) {
	reply := make(chan types.RoomView, 1)
	rm.Inbox() <- room.GetView{Reply: reply}
	select {
	case v := <-reply:
		return v, true
	case <-c.deps.Clock.After(c.deps.QueryTimeout):
		return types.RoomView{}, false
	}
}

func (c *Coordinator) awaitRooms(reply chan []*room.Room) []*room.Room {
	select {
	case rooms := <-reply:
		return rooms
	case <-c.deps.Clock.After(c.deps.QueryTimeout):
		return nil
	}
}

func (c *Coordinator) hubCreate(msg hub.CreateRoom) *room.Room {
	reply := make(chan *room.Room, 1)
	msg.Reply = reply
	c.deps.Hub.Inbox() <- msg
	select {
	case rm := <-reply:
		return rm
	case <-c.deps.Clock.After(c.deps.QueryTimeout):
		return nil
	}
}

func (c *Coordinator) hubGet(roomID string) *room.Room {
	reply := make(chan *room.Room, 1)
	c.deps.Hub.Inbox() <- hub.GetRoom{ID: roomID, Reply: reply}
	select {
	case rm := <-reply:
		return rm
	case <-c.deps.Clock.After(c.deps.QueryTimeout):
		return nil
	}
}
