package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/bhosaleparag/dev-battle-sub000/internal/game"
	"github.com/bhosaleparag/dev-battle-sub000/pkg/types"
)

type captureSink struct{ results chan game.Result }

func (c *captureSink) Record(_ context.Context, res game.Result) { c.results <- res }

type fixture struct {
	room   *Room
	clock  *clockwork.FakeClock
	sink   *captureSink
	closed chan string
}

func newFixture(t *testing.T, maxPlayers int) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	sink := &captureSink{results: make(chan game.Result, 1)}
	closed := make(chan string, 1)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	state := game.NewState("test room", game.RoomPublic, maxPlayers,
		game.Settings{Mode: "quiz", TimeLimitSec: 300}, "a", clock.Now())
	r := New(ctx, "room-1", "", state, Options{
		CountdownSec: 3,
		GraceWindow:  15 * time.Second,
		ReplayBuffer: 50,
		Clock:        clock,
		Logger:       zap.NewNop(),
		Sink:         sink,
		OnClose:      func(id string) { closed <- id },
	})
	return &fixture{room: r, clock: clock, sink: sink, closed: closed}
}

// join runs a Join command and attaches an outbox for the new participant.
func (f *fixture) join(t *testing.T, userID string) chan types.ServerMessage {
	t.Helper()
	if err := f.do(t, game.Command{Type: game.CmdJoin, UserID: userID, Username: userID, At: f.clock.Now()}); err != nil {
		t.Fatalf("join %s: %v", userID, err)
	}
	out := make(chan types.ServerMessage, 16)
	f.room.Inbox() <- Attach{UserID: userID, Outbox: out}
	return out
}

func (f *fixture) do(t *testing.T, cmd game.Command) error {
	t.Helper()
	reply := make(chan DoReply, 1)
	f.room.Inbox() <- Do{Cmd: cmd, Reply: reply}
	select {
	case r := <-reply:
		return r.Err
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for Do reply")
		return nil
	}
}

func recvFrame(t *testing.T, ch <-chan types.ServerMessage) types.ServerMessage {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
		return nil
	}
}

func recvNoFrame(t *testing.T, ch <-chan types.ServerMessage, within time.Duration) {
	t.Helper()
	select {
	case m := <-ch:
		t.Fatalf("expected no frame, got %#v", m)
	case <-time.After(within):
	}
}

func expectFrame[T types.ServerMessage](t *testing.T, ch <-chan types.ServerMessage) T {
	t.Helper()
	m := recvFrame(t, ch)
	v, ok := m.(T)
	if !ok {
		t.Fatalf("want %T, got %#v", v, m)
	}
	return v
}

func readyUp(t *testing.T, f *fixture, users ...string) {
	t.Helper()
	for _, u := range users {
		if err := f.do(t, game.Command{Type: game.CmdSetReady, UserID: u, Ready: true}); err != nil {
			t.Fatalf("ready %s: %v", u, err)
		}
	}
}

func TestCountdownThenGameStart(t *testing.T) {
	f := newFixture(t, 2)
	outA := f.join(t, "a")
	outB := f.join(t, "b")

	readyUp(t, f, "a", "b")

	// Both clients see a's ready, b's ready, then the countdown.
	expectFrame[types.PlayerReadyStatusChanged](t, outA)
	expectFrame[types.PlayerReadyStatusChanged](t, outA)
	cd := expectFrame[types.GameStartingCountdown](t, outA)
	if cd.Countdown != 3 {
		t.Fatalf("want 3s countdown, got %d", cd.Countdown)
	}

	f.clock.BlockUntil(1)
	f.clock.Advance(3 * time.Second)

	started := expectFrame[types.GameStarted](t, outA)
	if started.RoomID != "room-1" {
		t.Fatalf("bad roomID %q", started.RoomID)
	}

	// b saw the same stream ending in game-started.
	for {
		m := recvFrame(t, outB)
		if _, ok := m.(types.GameStarted); ok {
			break
		}
	}
}

func TestUnreadyCancelsCountdown(t *testing.T) {
	f := newFixture(t, 2)
	outA := f.join(t, "a")
	f.join(t, "b")

	readyUp(t, f, "a", "b")
	expectFrame[types.PlayerReadyStatusChanged](t, outA)
	expectFrame[types.PlayerReadyStatusChanged](t, outA)
	expectFrame[types.GameStartingCountdown](t, outA)

	if err := f.do(t, game.Command{Type: game.CmdSetReady, UserID: "b", Ready: false}); err != nil {
		t.Fatalf("unready: %v", err)
	}
	expectFrame[types.PlayerReadyStatusChanged](t, outA)
	expectFrame[types.CountdownCancelled](t, outA)

	// The armed timer still fires, but its generation is stale.
	f.clock.BlockUntil(1)
	f.clock.Advance(3 * time.Second)
	recvNoFrame(t, outA, 200*time.Millisecond)

	reply := make(chan types.RoomView, 1)
	f.room.Inbox() <- GetView{Reply: reply}
	view := <-reply
	if view.Status != "waiting" {
		t.Fatalf("want waiting after cancelled countdown, got %s", view.Status)
	}
}

func TestSequenceNumbersMonotonicAndReplayed(t *testing.T) {
	f := newFixture(t, 2)
	outA := f.join(t, "a")
	f.join(t, "b")
	startGame(t, f, outA, "a", "b")

	f.do(t, game.Command{Type: game.CmdScore, UserID: "a", Delta: 10})
	f.do(t, game.Command{Type: game.CmdScore, UserID: "b", Delta: 5})
	f.do(t, game.Command{Type: game.CmdUseHint, UserID: "a"})

	s1 := expectFrame[types.ScoreUpdated](t, outA)
	s2 := expectFrame[types.ScoreUpdated](t, outA)
	h := expectFrame[types.HintUsedNotification](t, outA)
	if !(s1.Seq < s2.Seq && s2.Seq < h.Seq) {
		t.Fatalf("sequence not monotonic: %d %d %d", s1.Seq, s2.Seq, h.Seq)
	}

	// A reconnecting client with lastSeq of the first score gets the rest.
	late := make(chan types.ServerMessage, 16)
	f.room.Inbox() <- Attach{UserID: "b", Outbox: late, SinceSeq: s1.Seq}
	r1 := expectFrame[types.ScoreUpdated](t, late)
	if r1.Seq != s2.Seq {
		t.Fatalf("replay started at %d, want %d", r1.Seq, s2.Seq)
	}
	expectFrame[types.HintUsedNotification](t, late)
}

func startGame(t *testing.T, f *fixture, out chan types.ServerMessage, users ...string) {
	t.Helper()
	readyUp(t, f, users...)
	f.clock.BlockUntil(1)
	f.clock.Advance(3 * time.Second)
	for {
		m := recvFrame(t, out)
		if _, ok := m.(types.GameStarted); ok {
			return
		}
	}
}

func TestConcurrentScoreUpdatesAllCount(t *testing.T) {
	f := newFixture(t, 2)
	outA := f.join(t, "a")
	f.join(t, "b")
	startGame(t, f, outA, "a", "b")

	// Both players hammer the inbox at once; the actor must serialize every
	// delta into the state, none lost.
	const rounds = 25
	var wg sync.WaitGroup
	for _, userID := range []string{"a", "b"} {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				reply := make(chan DoReply, 1)
				f.room.Inbox() <- Do{Cmd: game.Command{Type: game.CmdScore, UserID: userID, Delta: 1}, Reply: reply}
				<-reply
			}
		}(userID)
	}
	wg.Wait()

	for _, userID := range []string{"a", "b"} {
		if err := f.do(t, game.Command{Type: game.CmdFinishRequest, UserID: userID, At: f.clock.Now()}); err != nil {
			t.Fatalf("finish %s: %v", userID, err)
		}
	}

	select {
	case res := <-f.sink.results:
		for _, p := range res.Players {
			if p.FinalScore != rounds {
				t.Fatalf("%s finished with %d, want %d", p.UserID, p.FinalScore, rounds)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("result never reached the sink")
	}
}

func TestGraceExpiryRecordsOneSurrender(t *testing.T) {
	f := newFixture(t, 2)
	outA := f.join(t, "a")
	f.join(t, "b")
	startGame(t, f, outA, "a", "b")

	f.room.Inbox() <- Detach{UserID: "b"}
	// Deadline timer plus grace timer are both armed now.
	f.clock.BlockUntil(2)
	f.clock.Advance(15 * time.Second)

	sur := expectFrame[types.PlayerSurrendered](t, outA)
	if sur.UserID != "b" {
		t.Fatalf("want b surrendered, got %s", sur.UserID)
	}
	recvNoFrame(t, outA, 200*time.Millisecond)
}

func TestReconnectWithinGraceAvoidsSurrender(t *testing.T) {
	f := newFixture(t, 2)
	outA := f.join(t, "a")
	f.join(t, "b")
	startGame(t, f, outA, "a", "b")

	f.room.Inbox() <- Detach{UserID: "b"}
	f.clock.BlockUntil(2)
	f.clock.Advance(10 * time.Second)

	// b reconnects with 5s to spare.
	outB := make(chan types.ServerMessage, 16)
	f.room.Inbox() <- Attach{UserID: "b", Outbox: outB}

	f.clock.Advance(10 * time.Second)
	recvNoFrame(t, outA, 200*time.Millisecond)

	reply := make(chan types.RoomView, 1)
	f.room.Inbox() <- GetView{Reply: reply}
	view := <-reply
	for _, p := range view.Participants {
		if p.Surrendered {
			t.Fatalf("unexpected surrender for %s", p.UserID)
		}
	}
}

func TestDeadlineFinishesGameAndRecordsResult(t *testing.T) {
	f := newFixture(t, 2)
	outA := f.join(t, "a")
	f.join(t, "b")
	startGame(t, f, outA, "a", "b")

	f.do(t, game.Command{Type: game.CmdScore, UserID: "a", Delta: 30})
	f.do(t, game.Command{Type: game.CmdScore, UserID: "b", Delta: 50})
	expectFrame[types.ScoreUpdated](t, outA)
	expectFrame[types.ScoreUpdated](t, outA)

	f.clock.BlockUntil(1)
	f.clock.Advance(300 * time.Second)

	fin := expectFrame[types.GameFinished](t, outA)
	if len(fin.AllPlayerResults) != 2 {
		t.Fatalf("want 2 results, got %d", len(fin.AllPlayerResults))
	}
	if fin.AllPlayerResults[0].UserID != "b" || fin.AllPlayerResults[0].Placement != 1 {
		t.Fatalf("want b ranked first, got %+v", fin.AllPlayerResults)
	}

	select {
	case res := <-f.sink.results:
		if res.RoomID != "room-1" || len(res.Players) != 2 {
			t.Fatalf("bad archived result: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("result never reached the sink")
	}

	select {
	case id := <-f.closed:
		if id != "room-1" {
			t.Fatalf("wrong room closed: %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("room never reported close")
	}
}

func TestEmptyWaitingRoomCloses(t *testing.T) {
	f := newFixture(t, 2)
	f.join(t, "a")

	if err := f.do(t, game.Command{Type: game.CmdLeave, UserID: "a", At: f.clock.Now()}); err != nil {
		t.Fatalf("leave: %v", err)
	}

	select {
	case id := <-f.closed:
		if id != "room-1" {
			t.Fatalf("wrong room closed: %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("empty room never closed")
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	f := newFixture(t, 2)
	outA := f.join(t, "a")
	f.join(t, "b")

	// b's outbox holds a single frame and is never drained.
	slow := make(chan types.ServerMessage, 1)
	f.room.Inbox() <- Attach{UserID: "b", Outbox: slow}

	startGame(t, f, outA, "a", "b")
	for i := 0; i < 5; i++ {
		f.do(t, game.Command{Type: game.CmdScore, UserID: "a", Delta: 1})
	}

	// a still receives everything even though b is wedged.
	for i := 0; i < 5; i++ {
		expectFrame[types.ScoreUpdated](t, outA)
	}
}

func TestRejectedCommandDoesNotBroadcast(t *testing.T) {
	f := newFixture(t, 2)
	outA := f.join(t, "a")
	f.join(t, "b")

	err := f.do(t, game.Command{Type: game.CmdScore, UserID: "a", Delta: 10})
	if err == nil {
		t.Fatalf("score accepted while waiting")
	}
	recvNoFrame(t, outA, 200*time.Millisecond)
}
