package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeletedUserLabel stands in for a player whose record was removed, which
// leaves an empty id behind on games and moves.
const DeletedUserLabel = "[Deleted User]"

// Outcome describes how a completed game ended.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeFourInRow Outcome = "four_in_row"
	OutcomeTimeout   Outcome = "timeout"
)

// Player is the minimal identity the core needs about a user.
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DisplayName returns the name or the deleted-user placeholder.
func (p Player) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	if p.ID != "" {
		return p.ID
	}
	return DeletedUserLabel
}

// Game is the mutable session state of one match.
// UpdatedAt marks when the current player's clock started.
type Game struct {
	ID          string        `json:"id"`
	Player1ID   string        `json:"player1_id"`
	Player1Name string        `json:"player1_name,omitempty"`
	Player2ID   string        `json:"player2_id"`
	Player2Name string        `json:"player2_name,omitempty"`
	Winner      string        `json:"winner,omitempty"`
	WinnerID    string        `json:"winner_id,omitempty"`
	Outcome     Outcome       `json:"outcome,omitempty"`
	IsComplete  bool          `json:"is_complete"`
	TimeLimit   time.Duration `json:"time_limit"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (g *Game) Player1() Player { return Player{ID: g.Player1ID, Name: g.Player1Name} }
func (g *Game) Player2() Player { return Player{ID: g.Player2ID, Name: g.Player2Name} }

// HasPlayer reports whether userID is one of the two participants.
func (g *Game) HasPlayer(userID string) bool {
	return userID != "" && (g.Player1ID == userID || g.Player2ID == userID)
}

// Participant resolves a move's author against the two seats. An id that
// matches neither seat is returned bare.
func (g *Game) Participant(userID string) Player {
	switch {
	case userID == "":
		return Player{}
	case userID == g.Player1ID:
		return g.Player1()
	case userID == g.Player2ID:
		return g.Player2()
	}
	return Player{ID: userID}
}

// Opponent returns the other participant, or a zero Player when userID is not in the game.
func (g *Game) Opponent(userID string) Player {
	switch userID {
	case g.Player1ID:
		return g.Player2()
	case g.Player2ID:
		return g.Player1()
	}
	return Player{}
}

// Expired reports whether the active player's clock has run out at now.
func (g *Game) Expired(now time.Time) bool {
	if g.IsComplete {
		return false
	}
	return now.Sub(g.UpdatedAt) >= g.TimeLimit
}

// TimeRemaining is zero once the game is complete or the clock has run out.
func (g *Game) TimeRemaining(now time.Time) time.Duration {
	if g.IsComplete {
		return 0
	}
	remaining := g.TimeLimit - now.Sub(g.UpdatedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// NewGame starts a fresh session. Both clocks are measured from now.
func NewGame(p1, p2 Player, timeLimit time.Duration, now time.Time) *Game {
	return &Game{
		ID:          uuid.NewString(),
		Player1ID:   p1.ID,
		Player1Name: p1.Name,
		Player2ID:   p2.ID,
		Player2Name: p2.Name,
		TimeLimit:   timeLimit,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TimeoutLabel is stored in Game.Winner when the opponent ran out of time.
func TimeoutLabel(winner Player) string {
	return fmt.Sprintf("%s wins by timeout", winner.DisplayName())
}

// Clone returns a shallow copy safe to mutate.
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	c := *g
	return &c
}

// Move is an immutable entry of a game's append-only log.
// Order is 1-based and unique within the game.
type Move struct {
	GameID    string    `json:"game_id"`
	PlayerID  string    `json:"player_id"`
	Row       int       `json:"row"`
	Column    int       `json:"column"`
	Order     int       `json:"move_order"`
	CreatedAt time.Time `json:"created_at"`
}

// QueueEntry is a player waiting in one time-control bucket.
type QueueEntry struct {
	UserID    string        `json:"user_id"`
	UserName  string        `json:"user_name,omitempty"`
	TimeLimit time.Duration `json:"time_limit"`
	JoinedAt  time.Time     `json:"joined_at"`
}

func (e QueueEntry) Player() Player { return Player{ID: e.UserID, Name: e.UserName} }
