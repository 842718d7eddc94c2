package game

import "errors"

var (
    ErrNotFound         = errors.New("lobby not found")
    ErrLobbyFull        = errors.New("lobby is full")
    ErrForbidden        = errors.New("only the host can do that")
    ErrInvalidInput     = errors.New("invalid input")
    ErrAlreadySubmitted = errors.New("already submitted")
    ErrAlreadyVoted     = errors.New("already voted")
    ErrNotEligible      = errors.New("not eligible this round")
    ErrNotActive        = errors.New("round not active")
    ErrGameFinished     = errors.New("game finished")
    ErrInvalidPhase     = errors.New("invalid phase for action")
    ErrSelfVote         = errors.New("cannot vote for own submission")
    ErrUnknownItem      = errors.New("unknown item")
    ErrBlocked          = errors.New("message blocked")
)
