package game

import (
	"errors"
	"fmt"

	"github.com/park285/cheese-connect/internal/store"
)

var (
	ErrWrongTurn    = errors.New("not your turn")
	ErrGameComplete = errors.New("game is already complete")
	// ErrNotParticipant is a WrongTurn: an outsider is never the expected mover.
	ErrNotParticipant = fmt.Errorf("%w: user is not a player in this game", ErrWrongTurn)
	ErrInvalidArgs    = errors.New("invalid arguments")
	ErrNotFound       = store.ErrNotFound

	// ErrTransient is returned when a write lost the race twice in a row.
	ErrTransient = errors.New("temporary failure, try again")
	// ErrRatingInconsistent means the game result is committed but the
	// rating write failed. It needs repair, not a retry by the player.
	ErrRatingInconsistent = errors.New("game completed but rating update failed")
)
