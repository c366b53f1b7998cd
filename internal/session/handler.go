package session

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/bhosaleparag/dev-battle-sub000/internal/room"
	"github.com/bhosaleparag/dev-battle-sub000/pkg/types"
)

// Handler upgrades an authenticated request to the user's logical duplex
// channel. The identity collaborator fills userId/username upstream; lastSeq
// lets a reconnecting client resume the event stream where it left off.
func (c *Coordinator) Handler(parent context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		username := r.URL.Query().Get("username")
		if userID == "" || username == "" {
			http.Error(w, "missing identity", http.StatusBadRequest)
			return
		}
		lastSeq, _ := strconv.ParseUint(r.URL.Query().Get("lastSeq"), 10, 64)

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		ctx, cancel := context.WithCancel(parent)
		s := &Session{
			userID:   userID,
			username: username,
			outbox:   make(chan types.ServerMessage, 64),
			rooms:    make(map[string]*room.Room),
			ctx:      ctx,
			cancel:   cancel,
			closeConn: func(code int, reason string) {
				_ = conn.Close(websocket.StatusCode(code), reason)
			},
		}

		prev, resume := c.registry.connect(s)
		if prev != nil {
			// Exactly one live connection per user; the old one loses.
			c.takeover(s, prev, lastSeq)
		}
		c.deps.Presence.Connect(userID)
		c.log.Info("session connected", zap.String("userID", userID),
			zap.Bool("resumed", resume != nil), zap.Bool("takeover", prev != nil))

		go c.writePump(ctx, conn, s)

		if resume != nil {
			c.resumeRooms(s, resume, lastSeq)
		}
		if resume != nil || prev != nil {
			s.send(types.ConnectionStatus{Type: "connection-status", Status: "reconnected"})
		} else {
			s.send(types.ConnectionStatus{Type: "connection-status", Status: "connected"})
		}

		c.readLoop(ctx, conn, s)
		c.teardown(s)
	}
}

func (c *Coordinator) writePump(ctx context.Context, conn *websocket.Conn, s *Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.outbox:
			payload, err := json.Marshal(msg)
			if err != nil {
				c.log.Error("marshal outbound frame", zap.Error(err))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err = conn.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				// A dead transport is surfaced by the read loop; sends here
				// are fire-and-forget.
				return
			}
		}
	}
}

func (c *Coordinator) readLoop(ctx context.Context, conn *websocket.Conn, s *Session) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					c.log.Info("connection dropped", zap.String("userID", s.userID))
				}
			}
			return
		}

		msg, err := types.DecodeClient(data)
		if err != nil {
			s.send(types.NewProtocolError(err.Error()))
			continue
		}
		c.dispatch(s, msg)
	}
}

// takeover notifies and closes the superseded session, then moves its room
// membership onto the new one, re-attaching each room so the event stream
// switches to the new outbox without a gap. The registry already points at s,
// so the old session's teardown leaves the membership alone.
func (c *Coordinator) takeover(s, prev *Session, lastSeq uint64) {
	prev.send(types.ConnectionStatus{Type: "connection-status", Status: "disconnected", Reason: "superseded by a new connection"})
	if prev.closeConn != nil {
		prev.closeConn(int(websocket.StatusPolicyViolation), "superseded")
	}
	for _, rm := range prev.snapshotRooms() {
		rm.Inbox() <- room.Attach{UserID: s.userID, Outbox: s.outbox, SinceSeq: lastSeq}
		s.trackRoom(rm)
	}
}

// teardown releases the session's footprint. If a newer session for the same
// user already took over, the membership belongs to it and is left alone.
func (c *Coordinator) teardown(s *Session) {
	defer s.cancel()
	c.deps.Boards.Unsubscribe(s.outbox)

	if c.registry.get(s.userID) != s {
		return
	}

	rooms := s.snapshotRooms()
	for _, rm := range rooms {
		// Detach arms the room's reconnection grace timer for participants.
		rm.Inbox() <- room.Detach{UserID: s.userID}
	}
	roomIDs := make([]string, len(rooms))
	for i, rm := range rooms {
		roomIDs[i] = rm.ID
	}

	c.deps.Presence.Disconnect(s.userID)
	c.registry.disconnected(s, roomIDs, c.deps.Pool.Waiting(s.userID))
	c.log.Info("session closed", zap.String("userID", s.userID))
}

func (c *Coordinator) resumeRooms(s *Session, st *resumeState, lastSeq uint64) {
	for _, id := range st.roomIDs {
		rm := c.hubGet(id)
		if rm == nil {
			continue
		}
		rm.Inbox() <- room.Attach{UserID: s.userID, Outbox: s.outbox, SinceSeq: lastSeq}
		s.trackRoom(rm)
	}
}
