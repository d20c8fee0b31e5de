package httpapi

import (
	"errors"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/cheese-connect/internal/board"
	"github.com/park285/cheese-connect/internal/game"
	"github.com/park285/cheese-connect/internal/matchmaking"
	"github.com/park285/cheese-connect/internal/msgcat"
	"github.com/park285/cheese-connect/internal/obslog"
	"github.com/park285/cheese-connect/internal/store"
	"github.com/park285/cheese-connect/pkg/gamedto"
)

// errorContext feeds message templates.
type errorContext map[string]any

type mapping struct {
	target    error
	status    int
	code      string
	msgKey    string
	retryable bool
}

// Order matters: more specific errors first.
var mappings = []mapping{
	{game.ErrRatingInconsistent, fasthttp.StatusInternalServerError, gamedto.CodeInternal, "errors.internal", false},
	{game.ErrTransient, fasthttp.StatusConflict, gamedto.CodeConflict, "errors.conflict", true},
	{matchmaking.ErrTransient, fasthttp.StatusConflict, gamedto.CodeConflict, "errors.conflict", true},
	{store.ErrConflict, fasthttp.StatusConflict, gamedto.CodeConflict, "errors.conflict", true},
	{board.ErrOutOfBounds, fasthttp.StatusBadRequest, gamedto.CodeOutOfBounds, "errors.out_of_bounds", false},
	{board.ErrCellOccupied, fasthttp.StatusBadRequest, gamedto.CodeCellOccupied, "errors.cell_occupied", false},
	{board.ErrIllegalPlacement, fasthttp.StatusBadRequest, gamedto.CodeIllegalPlacement, "errors.illegal_placement", false},
	{game.ErrNotParticipant, fasthttp.StatusBadRequest, gamedto.CodeWrongTurn, "errors.not_participant", false},
	{game.ErrWrongTurn, fasthttp.StatusBadRequest, gamedto.CodeWrongTurn, "errors.wrong_turn", false},
	{game.ErrGameComplete, fasthttp.StatusBadRequest, gamedto.CodeGameComplete, "errors.game_complete", false},
	{matchmaking.ErrAlreadyQueued, fasthttp.StatusBadRequest, gamedto.CodeAlreadyQueued, "errors.already_queued", false},
	{matchmaking.ErrNotQueued, fasthttp.StatusBadRequest, gamedto.CodeNotQueued, "errors.not_queued", false},
	{store.ErrNotFound, fasthttp.StatusNotFound, gamedto.CodeNotFound, "errors.not_found", false},
	{game.ErrInvalidArgs, fasthttp.StatusBadRequest, gamedto.CodeInvalidArgs, "errors.invalid_args", false},
	{matchmaking.ErrInvalidArgs, fasthttp.StatusBadRequest, gamedto.CodeInvalidArgs, "errors.invalid_args", false},
}

// toDomainError converts a core error into a status and caller-facing body.
// Unknown errors become a generic internal error; their text is logged, not returned.
func toDomainError(msgs *msgcat.Catalog, err error, data errorContext) (int, gamedto.DomainError) {
	if data == nil {
		data = errorContext{}
	}
	if _, ok := data["Detail"]; !ok {
		data["Detail"] = err.Error()
	}
	for _, m := range mappings {
		if !errors.Is(err, m.target) {
			continue
		}
		if m.status >= fasthttp.StatusInternalServerError {
			obslog.L().Error("http_internal_error", zap.Error(err))
		}
		return m.status, gamedto.DomainError{
			Code:      m.code,
			Message:   msgs.Text(m.msgKey, map[string]any(data), m.code),
			Retryable: m.retryable,
		}
	}
	obslog.L().Error("http_internal_error", zap.Error(err))
	return fasthttp.StatusInternalServerError, gamedto.DomainError{
		Code:      gamedto.CodeInternal,
		Message:   msgs.Text("errors.internal", nil, "internal error"),
		Retryable: true,
	}
}
