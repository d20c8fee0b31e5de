package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/park285/cheese-connect/internal/domain"
	"github.com/park285/cheese-connect/internal/msgcat"
)

type bridge struct {
	mu       sync.Mutex
	got      []ReplyRequest
	failures int
}

func (b *bridge) handle(ctx *fasthttp.RequestCtx) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures > 0 {
		b.failures--
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		return
	}
	if string(ctx.Path()) != "/reply" || !ctx.IsPost() {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	var req ReplyRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	b.got = append(b.got, req)
	ctx.SetStatusCode(fasthttp.StatusOK)
}

func newTestClient(t *testing.T, b *bridge) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	t.Cleanup(func() { _ = ln.Close() })
	go func() { _ = fasthttp.Serve(ln, b.handle) }()
	return NewClient("http://bridge.test", WithTimeout(2*time.Second), WithDial(func(string) (net.Conn, error) { return ln.Dial() }))
}

func TestSendTextRetriesOn5xx(t *testing.T) {
	b := &bridge{failures: 1}
	c := newTestClient(t, b)
	if err := c.SendText(context.Background(), "room-1", "hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if len(b.got) != 1 || b.got[0] != (ReplyRequest{Type: "text", Room: "room-1", Data: "hello"}) {
		t.Fatalf("unexpected deliveries %+v", b.got)
	}
}

func TestSendGivesUpAfterRetries(t *testing.T) {
	b := &bridge{failures: 10}
	c := newTestClient(t, b)
	c.retryMax = 2
	err := c.SendText(context.Background(), "room-1", "hello")
	if err == nil || !strings.Contains(err.Error(), "status=503") {
		t.Fatalf("expected 503 error, got %v", err)
	}
}

func TestRoomNotifierFinishedGame(t *testing.T) {
	b := &bridge{}
	msgs, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}
	n := NewRoomNotifier(newTestClient(t, b), "room-9", msgs)
	g := &domain.Game{
		ID: "g1", Player1ID: "a", Player1Name: "alice", Player2ID: "b", Player2Name: "bob",
		Winner: "b", WinnerID: "b", Outcome: domain.OutcomeFourInRow, IsComplete: true,
	}
	if err := n.GameFinished(context.Background(), g, []byte{1, 2, 3}); err != nil {
		t.Fatalf("GameFinished: %v", err)
	}
	if len(b.got) != 2 {
		t.Fatalf("expected text and image, got %+v", b.got)
	}
	if b.got[0].Data != "bob connected four against alice!" {
		t.Fatalf("text=%q", b.got[0].Data)
	}
	if b.got[1].Type != "image" || b.got[1].Data != base64.StdEncoding.EncodeToString([]byte{1, 2, 3}) {
		t.Fatalf("image=%+v", b.got[1])
	}
}

func TestRoomNotifierMatch(t *testing.T) {
	b := &bridge{}
	msgs, _ := msgcat.New("")
	n := NewRoomNotifier(newTestClient(t, b), "room-9", msgs)
	g := &domain.Game{ID: "g1", Player1ID: "a", Player1Name: "alice", Player2ID: "b", TimeLimit: 36 * time.Hour}
	if err := n.MatchFound(context.Background(), g); err != nil {
		t.Fatalf("MatchFound: %v", err)
	}
	want := "New game: alice vs b (1.5-day moves). alice plays first."
	if len(b.got) != 1 || b.got[0].Data != want {
		t.Fatalf("got %+v want %q", b.got, want)
	}
}

func TestFormatDays(t *testing.T) {
	cases := map[time.Duration]string{24 * time.Hour: "1", 72 * time.Hour: "3", 12 * time.Hour: "0.5"}
	for d, want := range cases {
		if got := FormatDays(d); got != want {
			t.Fatalf("FormatDays(%v)=%q want %q", d, got, want)
		}
	}
}
