package room

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/bhosaleparag/dev-battle-sub000/internal/game"
	"github.com/bhosaleparag/dev-battle-sub000/pkg/types"
)

// ResultSink receives the finalized outcome of a finished room.
type ResultSink interface {
	Record(ctx context.Context, res game.Result)
}

type Msg interface{ isRoomMsg() }

// Attach registers a client outbox for broadcasts. Events already accepted
// with a sequence number above SinceSeq are replayed from the buffer, so a
// reconnecting client catches up instead of losing the gap.
type Attach struct {
	UserID   string
	Outbox   chan types.ServerMessage
	SinceSeq uint64
}

// Detach drops the client's outbox. If the user is still a participant and
// the room is live, the reconnection grace timer is armed; the participant's
// slot is held until it expires.
type Detach struct{ UserID string }

// Do applies a game command. Reply always receives exactly one DoReply.
type Do struct {
	Cmd   game.Command
	Reply chan DoReply
}

type DoReply struct {
	Err  error
	View types.RoomView
}

type GetView struct{ Reply chan types.RoomView }

type Shutdown struct{}

func (Attach) isRoomMsg()   {}
func (Detach) isRoomMsg()   {}
func (Do) isRoomMsg()       {}
func (GetView) isRoomMsg()  {}
func (Shutdown) isRoomMsg() {}

// timer fire messages; gen guards against stale fires after cancellation.
type countdownFired struct{ gen int }
type deadlineFired struct{ gen int }
type graceFired struct {
	userID string
	gen    int
}

func (countdownFired) isRoomMsg() {}
func (deadlineFired) isRoomMsg()  {}
func (graceFired) isRoomMsg()     {}

// Options carries the knobs the hub injects into every room it spawns.
type Options struct {
	CountdownSec int
	GraceWindow  time.Duration
	ReplayBuffer int
	Clock        clockwork.Clock
	Logger       *zap.Logger
	Sink         ResultSink
	OnClose      func(roomID string)
}

// Room is a single-writer actor: all mutation of its state funnels through
// the inbox, which is what gives per-room event ordering for free.
type Room struct {
	ID         string
	InviteCode string

	inbox   chan Msg
	state   game.State
	seq     uint64
	buffer  []seqFrame
	clients map[string]chan types.ServerMessage

	countdownGen int
	deadlineGen  int
	graceGens    map[string]int
	graceTimers  map[string]clockwork.Timer

	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
}

type seqFrame struct {
	seq   uint64
	frame types.ServerMessage
}

func New(parent context.Context, id, inviteCode string, initial game.State, opts Options) *Room {
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		ID:          id,
		InviteCode:  inviteCode,
		inbox:       make(chan Msg, 64),
		state:       initial,
		clients:     make(map[string]chan types.ServerMessage),
		graceGens:   make(map[string]int),
		graceTimers: make(map[string]clockwork.Timer),
		opts:        opts,
		ctx:         ctx,
		cancel:      cancel,
		log:         opts.Logger.With(zap.String("roomID", id)),
	}
	go r.loop()
	return r
}

func (r *Room) Inbox() chan<- Msg { return r.inbox }

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown("server shutting down")
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Attach:
				r.attach(msg)

			case Detach:
				delete(r.clients, msg.UserID)
				if r.state.Status == game.StatusWaiting || r.state.Status == game.StatusPlaying {
					if isActiveParticipant(r.state, msg.UserID) {
						r.armGrace(msg.UserID)
					}
				}

			case Do:
				events, ns, err := game.Apply(r.state, msg.Cmd)
				if err != nil {
					msg.Reply <- DoReply{Err: err}
					break
				}
				r.state = ns
				msg.Reply <- DoReply{View: r.view()}
				if done := r.handleEvents(events); done {
					return
				}

			case GetView:
				msg.Reply <- r.view()

			case countdownFired:
				if msg.gen != r.countdownGen {
					break
				}
				events, ns, err := game.Apply(r.state, game.Command{Type: game.CmdCountdownDone, At: r.opts.Clock.Now()})
				if err != nil {
					break
				}
				r.state = ns
				if done := r.handleEvents(events); done {
					return
				}

			case deadlineFired:
				if msg.gen != r.deadlineGen {
					break
				}
				r.log.Info("time limit reached, finishing game")
				events, ns, _ := game.Apply(r.state, game.Command{Type: game.CmdDeadlineExpired, At: r.opts.Clock.Now()})
				r.state = ns
				if done := r.handleEvents(events); done {
					return
				}

			case graceFired:
				if msg.gen != r.graceGens[msg.userID] {
					break
				}
				delete(r.graceTimers, msg.userID)
				r.log.Info("reconnection grace elapsed", zap.String("userID", msg.userID))
				events, ns, _ := game.Apply(r.state, game.Command{Type: game.CmdGraceExpired, UserID: msg.userID, At: r.opts.Clock.Now()})
				r.state = ns
				if done := r.handleEvents(events); done {
					return
				}

			case Shutdown:
				r.shutdown("room closed")
				return
			}
		}
	}
}

func (r *Room) attach(msg Attach) {
	// Reconnection within the grace window: invalidate the pending surrender.
	if t, ok := r.graceTimers[msg.UserID]; ok {
		t.Stop()
		delete(r.graceTimers, msg.UserID)
	}
	r.graceGens[msg.UserID]++

	r.clients[msg.UserID] = msg.Outbox
	for _, sf := range r.buffer {
		if sf.seq > msg.SinceSeq {
			select {
			case msg.Outbox <- sf.frame:
			default:
				// Outbox can't even hold the replay; drop the client now.
				r.dropClient(msg.UserID)
				return
			}
		}
	}
}

// handleEvents turns accepted game events into sequenced frames, arms or
// disarms timers, and finalizes the room. Returns true when the loop must
// exit because the room reached a terminal state.
func (r *Room) handleEvents(events []game.Event) bool {
	for _, e := range events {
		switch e.Type {
		case game.EvtPlayerJoined:
			// The joiner gets the full room view in their Do reply; no frame.

		case game.EvtPlayerLeft:
			r.broadcast(r.nextFrame(func(seq uint64) types.ServerMessage {
				return types.UserLeftRoom{Type: "user-left-room", Seq: seq, RoomID: r.ID, UserID: e.UserID}
			}))
			delete(r.clients, e.UserID)

		case game.EvtReadyChanged:
			r.broadcast(r.nextFrame(func(seq uint64) types.ServerMessage {
				return types.PlayerReadyStatusChanged{Type: "player-ready-status-changed", Seq: seq, RoomID: r.ID, UserID: e.UserID, IsReady: e.Ready}
			}))

		case game.EvtCountdownStarted:
			r.countdownGen++
			gen := r.countdownGen
			r.opts.Clock.AfterFunc(time.Duration(r.opts.CountdownSec)*time.Second, func() {
				r.inbox <- countdownFired{gen: gen}
			})
			r.broadcast(r.nextFrame(func(seq uint64) types.ServerMessage {
				return types.GameStartingCountdown{Type: "game-starting-countdown", Seq: seq, RoomID: r.ID, Countdown: r.opts.CountdownSec}
			}))

		case game.EvtCountdownCancelled:
			r.countdownGen++
			r.broadcast(r.nextFrame(func(seq uint64) types.ServerMessage {
				return types.CountdownCancelled{Type: "game-countdown-cancelled", Seq: seq, RoomID: r.ID}
			}))

		case game.EvtGameStarted:
			// Fresh game, fresh event history.
			r.buffer = nil
			r.deadlineGen++
			gen := r.deadlineGen
			limit := time.Duration(r.state.Settings.TimeLimitSec) * time.Second
			r.opts.Clock.AfterFunc(limit, func() {
				r.inbox <- deadlineFired{gen: gen}
			})
			r.log.Info("game started",
				zap.Int("players", len(r.state.Participants)),
				zap.Duration("timeLimit", limit))
			r.broadcast(r.nextFrame(func(seq uint64) types.ServerMessage {
				return types.GameStarted{Type: "game-started", Seq: seq, RoomID: r.ID, TimeLimitSec: r.state.Settings.TimeLimitSec}
			}))

		case game.EvtScoreUpdated:
			r.broadcast(r.nextFrame(func(seq uint64) types.ServerMessage {
				return types.ScoreUpdated{Type: "score-updated", Seq: seq, RoomID: r.ID, UserID: e.UserID, Delta: e.Delta, Score: e.Score, Reason: e.Reason}
			}))

		case game.EvtHintUsed:
			r.broadcast(r.nextFrame(func(seq uint64) types.ServerMessage {
				return types.HintUsedNotification{Type: "hint-used-notification", Seq: seq, RoomID: r.ID, UserID: e.UserID}
			}))

		case game.EvtPlayerSurrendered:
			r.broadcast(r.nextFrame(func(seq uint64) types.ServerMessage {
				return types.PlayerSurrendered{Type: "player-surrendered", Seq: seq, RoomID: r.ID, UserID: e.UserID}
			}))

		case game.EvtGameFinished:
			res := *e.Result
			res.RoomID = r.ID
			if res.FinishedAt.IsZero() {
				res.FinishedAt = r.opts.Clock.Now()
			}
			r.broadcast(r.nextFrame(func(seq uint64) types.ServerMessage {
				return types.GameFinished{Type: "game-finished", Seq: seq, RoomID: r.ID, AllPlayerResults: resultViews(res)}
			}))
			r.deadlineGen++ // disarm
			if r.opts.Sink != nil {
				go r.opts.Sink.Record(context.Background(), res)
			}
			r.log.Info("game finished", zap.Int("players", len(res.Players)))
			r.close()
			return true

		case game.EvtRoomDeleted:
			r.log.Info("room emptied, deleting")
			r.close()
			return true
		}
	}

	if len(r.state.Participants) > r.state.MaxPlayers {
		// Sequencer state no longer satisfies the room invariant; fail closed
		// rather than keep relaying from a corrupt record.
		r.log.Error("participant invariant violated, tearing room down",
			zap.Int("participants", len(r.state.Participants)),
			zap.Int("max", r.state.MaxPlayers))
		r.teardown("internal room error")
		return true
	}
	return false
}

func (r *Room) nextFrame(build func(seq uint64) types.ServerMessage) types.ServerMessage {
	r.seq++
	f := build(r.seq)
	r.buffer = append(r.buffer, seqFrame{seq: r.seq, frame: f})
	if len(r.buffer) > r.opts.ReplayBuffer {
		r.buffer = r.buffer[len(r.buffer)-r.opts.ReplayBuffer:]
	}
	return f
}

func (r *Room) broadcast(f types.ServerMessage) {
	for id, ch := range r.clients {
		select {
		case ch <- f:
		default:
			// Slow or wedged client; drop it rather than stall the room.
			r.log.Warn("dropping slow client", zap.String("userID", id))
			r.dropClient(id)
		}
	}
}

func (r *Room) dropClient(userID string) {
	// Outboxes are owned by the session layer; dropping just stops delivery.
	delete(r.clients, userID)
}

func (r *Room) armGrace(userID string) {
	if t, ok := r.graceTimers[userID]; ok {
		t.Stop()
	}
	r.graceGens[userID]++
	gen := r.graceGens[userID]
	r.graceTimers[userID] = r.opts.Clock.AfterFunc(r.opts.GraceWindow, func() {
		r.inbox <- graceFired{userID: userID, gen: gen}
	})
	r.log.Info("participant disconnected, grace window armed",
		zap.String("userID", userID), zap.Duration("window", r.opts.GraceWindow))
}

// teardown notifies everyone and closes; used for fail-closed paths.
func (r *Room) teardown(reason string) {
	r.broadcast(types.RoomClosed{Type: "room-closed", RoomID: r.ID, Message: reason})
	r.close()
}

func (r *Room) close() {
	for _, t := range r.graceTimers {
		t.Stop()
	}
	clear(r.clients)
	if r.opts.OnClose != nil {
		r.opts.OnClose(r.ID)
	}
	r.cancel()
}

func (r *Room) shutdown(reason string) {
	r.broadcast(types.RoomClosed{Type: "room-closed", RoomID: r.ID, Message: reason})
	r.close()
}

// view builds the client-facing snapshot; only the room goroutine calls it.
func (r *Room) view() types.RoomView {
	return viewOf(r.ID, r.state)
}

func viewOf(id string, s game.State) types.RoomView {
	parts := make([]types.ParticipantView, len(s.Participants))
	for i, p := range s.Participants {
		parts[i] = types.ParticipantView{
			UserID:      p.UserID,
			Username:    p.Username,
			JoinedAt:    p.JoinedAt,
			IsReady:     p.Ready,
			Score:       p.Score,
			Surrendered: p.Surrendered,
		}
	}
	return types.RoomView{
		ID:             id,
		Name:           s.Name,
		Type:           string(s.Type),
		MaxPlayers:     s.MaxPlayers,
		CurrentPlayers: len(s.Participants),
		Status:         string(s.Status),
		Settings: types.GameSettings{
			Mode:         s.Settings.Mode,
			ChallengeID:  s.Settings.ChallengeID,
			TimeLimitSec: s.Settings.TimeLimitSec,
		},
		CreatedBy:    s.CreatedBy,
		CreatedAt:    s.CreatedAt,
		Participants: parts,
	}
}

func resultViews(res game.Result) []types.PlayerResult {
	out := make([]types.PlayerResult, len(res.Players))
	for i, p := range res.Players {
		out[i] = types.PlayerResult{
			UserID:      p.UserID,
			Username:    p.Username,
			FinalScore:  p.FinalScore,
			Placement:   p.Placement,
			Completed:   p.Completed,
			Surrendered: p.Surrendered,
		}
	}
	return out
}

func isActiveParticipant(s game.State, userID string) bool {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return !p.Surrendered
		}
	}
	return false
}
