package ws

import (
    "errors"

    "github.com/HafiyZazaBaza/Conundrum-Corner/internal/game"
)

var codes = []struct {
    err  error
    code string
}{
    {game.ErrNotFound, "not_found"},
    {game.ErrLobbyFull, "lobby_full"},
    {game.ErrForbidden, "forbidden"},
    {game.ErrInvalidInput, "invalid_input"},
    {game.ErrAlreadySubmitted, "already_submitted"},
    {game.ErrAlreadyVoted, "already_voted"},
    {game.ErrNotEligible, "not_eligible"},
    {game.ErrNotActive, "not_active"},
    {game.ErrGameFinished, "game_finished"},
    {game.ErrInvalidPhase, "invalid_phase"},
    {game.ErrSelfVote, "self_vote"},
    {game.ErrUnknownItem, "unknown_item"},
    {game.ErrBlocked, "blocked"},
}

// ErrorCode maps a game error onto the code sent to the client.
func ErrorCode(err error) string {
    for _, c := range codes {
        if errors.Is(err, c.err) {
            return c.code
        }
    }
    return "internal"
}
