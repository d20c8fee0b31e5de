package gamedto

import "time"

type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Game struct {
	ID                   string    `json:"id"`
	Player1              Player    `json:"player1"`
	Player2              Player    `json:"player2"`
	Winner               string    `json:"winner,omitempty"`
	WinnerID             string    `json:"winner_id,omitempty"`
	Outcome              string    `json:"outcome,omitempty"`
	IsComplete           bool      `json:"is_complete"`
	TimeLimitSeconds     int64     `json:"time_limit_seconds"`
	TimeRemainingSeconds int64     `json:"time_remaining_seconds"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
	Moves                []Move    `json:"moves,omitempty"`
}

type Move struct {
	GameID     string    `json:"game_id"`
	PlayerID   string    `json:"player_id"`
	PlayerName string    `json:"player_name"`
	Row        int       `json:"row"`
	Column     int       `json:"column"`
	MoveOrder  int       `json:"move_order"`
	CreatedAt  time.Time `json:"created_at"`
}

// Board is row-major: 0 empty, 1 player1, 2 player2.
type Board struct {
	GameID string  `json:"game_id"`
	Cells  [][]int `json:"board"`
}

// Turn has a nil Player once the game is complete.
type Turn struct {
	GameID string  `json:"game_id"`
	Player *Player `json:"player"`
}

type CreateGameRequest struct {
	OpponentID    string  `json:"opponent_id"`
	OpponentName  string  `json:"opponent_name"`
	TimeLimitDays float64 `json:"time_limit_days"`
}

type MoveRequest struct {
	Row    *int `json:"row"`
	Column *int `json:"column"`
}

type QueueRequest struct {
	TimeLimitDays float64 `json:"time_limit_days"`
}

// JoinResponse carries the game when a match formed, otherwise Queued is set.
type JoinResponse struct {
	Queued  bool   `json:"queued"`
	Game    *Game  `json:"game,omitempty"`
	Message string `json:"message,omitempty"`
}

type QueueStatus struct {
	TimeLimitDays []float64 `json:"time_limit_days"`
}

type Rating struct {
	UserID string  `json:"user_id"`
	Rating float64 `json:"rating"`
}
