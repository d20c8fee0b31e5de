package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/park285/cheese-connect/internal/domain"
	"github.com/park285/cheese-connect/internal/msgcat"
)

// Sender is the outbound half of Client.
type Sender interface {
	SendText(ctx context.Context, room, message string) error
	SendImage(ctx context.Context, room, imageBase64 string) error
}

// RoomNotifier posts match and result announcements into one room.
type RoomNotifier struct {
	sender Sender
	room   string
	msgs   *msgcat.Catalog
}

func NewRoomNotifier(sender Sender, room string, msgs *msgcat.Catalog) *RoomNotifier {
	return &RoomNotifier{sender: sender, room: room, msgs: msgs}
}

func (n *RoomNotifier) MatchFound(ctx context.Context, g *domain.Game) error {
	p1, p2 := g.Player1().DisplayName(), g.Player2().DisplayName()
	text := n.msgs.Text("notify.match_found", map[string]any{
		"Player1": p1,
		"Player2": p2,
		"Days":    FormatDays(g.TimeLimit),
	}, fmt.Sprintf("New game: %s vs %s", p1, p2))
	return n.sender.SendText(ctx, n.room, text)
}

func (n *RoomNotifier) GameFinished(ctx context.Context, g *domain.Game, image []byte) error {
	loser := g.Opponent(g.WinnerID).DisplayName()
	var text string
	if g.Outcome == domain.OutcomeTimeout {
		text = n.msgs.Text("notify.game_timeout", map[string]any{"Label": g.Winner, "Loser": loser}, g.Winner)
	} else {
		winner := g.Player1()
		if g.WinnerID == g.Player2ID {
			winner = g.Player2()
		}
		text = n.msgs.Text("notify.game_won", map[string]any{"Winner": winner.DisplayName(), "Loser": loser},
			winner.DisplayName()+" wins")
	}
	if err := n.sender.SendText(ctx, n.room, text); err != nil {
		return err
	}
	if len(image) == 0 {
		return nil
	}
	return n.sender.SendImage(ctx, n.room, base64.StdEncoding.EncodeToString(image))
}

// FormatDays renders a time limit in days, with one decimal when fractional.
func FormatDays(d time.Duration) string {
	days := d.Hours() / 24
	if days == float64(int64(days)) {
		return strconv.FormatInt(int64(days), 10)
	}
	return strconv.FormatFloat(days, 'f', 1, 64)
}
