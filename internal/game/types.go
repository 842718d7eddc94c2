package game

import (
    "strings"
)

type Mode string

const (
    ModeReverseGuessing  Mode = "reverse_guessing"
    ModeEmojiTranslation Mode = "emoji_translation"
    ModeObviouslyLies    Mode = "obviously_lies"
    ModeBadAdvice        Mode = "bad_advice_hotline"
)

// ParseMode normalises a client-supplied mode name.
func ParseMode(s string) (Mode, bool) {
    m := Mode(strings.ToLower(strings.TrimSpace(s)))
    switch m {
    case ModeReverseGuessing, ModeEmojiTranslation, ModeObviouslyLies, ModeBadAdvice:
        return m, true
    }
    return "", false
}

// Phase is the session's position inside a single round.
type Phase string

const (
    PhaseIdle       Phase = "Idle"
    PhaseSubmitting Phase = "Submitting"
    PhaseVoting     Phase = "Voting"
)

const (
    MinPlayers = 2
    MaxPlayers = 10

    codeLength   = 4
    codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ"
)

type LobbyView struct {
    Code       string   `json:"lobbyCode"`
    Host       string   `json:"host"`
    Players    []string `json:"players"`
    MaxPlayers int      `json:"maxPlayers"`
    Mode       Mode     `json:"gameMode"`
    Round      int      `json:"round"`
    MaxRounds  int      `json:"maxRounds"`
    Active     bool     `json:"roundActive"`
    Finished   bool     `json:"finished"`
    Phase      Phase    `json:"phase"`
}

type Summary struct {
    RoundID    string            `json:"roundId"`
    Round      int               `json:"round"`
    Prompt     string            `json:"prompt"`
    Reference  string            `json:"reference,omitempty"`
    Authors    map[string]string `json:"authors"`
    VoteCounts map[string]int    `json:"votes"`
    Scores     map[string]int    `json:"scores"`
}

// EndResult reports exactly one of GameOver or NextRound.
type EndResult struct {
    Round     int  `json:"round"`
    GameOver  bool `json:"gameOver"`
    NextRound int  `json:"nextRound,omitempty"`
}

// Event is a single outbound message. An empty To addresses the whole room.
type Event struct {
    Name    string
    To      string
    Payload any
}

const (
    EvLobbyCreated     = "lobby_created"
    EvLobbyJoined      = "lobby_joined"
    EvLobbyUpdate      = "lobby_update"
    EvGameStarted      = "game_started"
    EvRoundStarted     = "round_started"
    EvSubmissionUpdate = "submission_update"
    EvRevealPool       = "reveal_pool"
    EvVoteConfirmed    = "vote_confirmed"
    EvUpdateScores     = "update_scores"
    EvRoundEnded       = "round_ended"
    EvGameOver         = "game_over"
    EvNextRound        = "next_round"
    EvGameAbandoned    = "game_abandoned"
    EvReceiveMessage   = "receive_message"
)
