package hub

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/bhosaleparag/dev-battle-sub000/internal/game"
	"github.com/bhosaleparag/dev-battle-sub000/internal/room"
)

type HubMsg interface{ isHubMsg() }

type CreateRoom struct {
	Name       string
	RoomType   game.RoomType
	MaxPlayers int
	Settings   game.Settings
	CreatorID  string
	Reply      chan *room.Room
}

type GetRoom struct {
	ID    string
	Reply chan *room.Room
}

type RemoveRoom struct {
	ID string
}

// ListRooms returns the live room handles; callers query each room's view
// themselves so the hub loop never blocks on a room actor.
type ListRooms struct {
	Reply chan []*room.Room
}

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (RemoveRoom) isHubMsg()  {}
func (ListRooms) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}

// Config carries the per-room knobs the hub injects into rooms it spawns.
type Config struct {
	CountdownSec    int
	GraceWindow     time.Duration
	ReplayBuffer    int
	DefaultLimitSec int
}

type Hub struct {
	inbox  chan HubMsg
	rooms  map[string]*room.Room
	cfg    Config
	clock  clockwork.Clock
	log    *zap.Logger
	sink   room.ResultSink
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, cfg Config, clock clockwork.Clock, sink room.ResultSink, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*room.Room),
		cfg:    cfg,
		clock:  clock,
		log:    log,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				msg.Reply <- h.spawn(msg)

			case GetRoom:
				msg.Reply <- h.rooms[msg.ID] // may be nil

			case RemoveRoom:
				delete(h.rooms, msg.ID)

			case ListRooms:
				out := make([]*room.Room, 0, len(h.rooms))
				for _, r := range h.rooms {
					out = append(out, r)
				}
				msg.Reply <- out

			case ShutdownHub:
				for _, r := range h.rooms {
					r.Inbox() <- room.Shutdown{}
				}
				clear(h.rooms)
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) spawn(msg CreateRoom) *room.Room {
	id := uuid.NewString()
	settings := msg.Settings
	if settings.TimeLimitSec <= 0 {
		settings.TimeLimitSec = h.cfg.DefaultLimitSec
	}

	var invite string
	if msg.RoomType == game.RoomPrivate {
		code, err := generateCode()
		if err != nil {
			h.log.Error("invite code generation failed", zap.Error(err))
			return nil
		}
		invite = code
	}

	state := game.NewState(msg.Name, msg.RoomType, msg.MaxPlayers, settings, msg.CreatorID, h.clock.Now())
	r := room.New(h.ctx, id, invite, state, room.Options{
		CountdownSec: h.cfg.CountdownSec,
		GraceWindow:  h.cfg.GraceWindow,
		ReplayBuffer: h.cfg.ReplayBuffer,
		Clock:        h.clock,
		Logger:       h.log,
		Sink:         h.sink,
		OnClose:      func(roomID string) { h.inbox <- RemoveRoom{ID: roomID} },
	})
	h.rooms[id] = r
	h.log.Info("room created",
		zap.String("roomID", id),
		zap.String("name", msg.Name),
		zap.String("type", string(msg.RoomType)),
		zap.Int("maxPlayers", msg.MaxPlayers))
	return r
}

func generateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	code := make([]byte, 6)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[n.Int64()]
	}
	return string(code), nil
}
