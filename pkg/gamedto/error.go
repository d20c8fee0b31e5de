package gamedto

// Error codes returned to callers.
const (
	CodeOutOfBounds      = "out_of_bounds"
	CodeCellOccupied     = "cell_occupied"
	CodeIllegalPlacement = "illegal_placement"
	CodeWrongTurn        = "wrong_turn"
	CodeGameComplete     = "game_complete"
	CodeAlreadyQueued    = "already_queued"
	CodeNotQueued        = "not_queued"
	CodeNotFound         = "not_found"
	CodeInvalidArgs      = "invalid_args"
	CodeConflict         = "conflict"
	CodeRateLimited      = "rate_limited"
	CodeInternal         = "internal"
)

type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "game service error"
}
