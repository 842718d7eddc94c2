package game

import (
    "maps"
    "slices"
    "sort"

    "github.com/google/uuid"
)

type Session struct {
    variant Variant
    host    string

    roundID   string
    round     int
    prompt    string
    reference string
    phase     Phase

    eligible    map[string]bool
    submissions map[string]string          // player -> text
    owners      map[string]string          // text -> player, "" for the reference item
    votes       map[string]map[string]bool // text -> voters

    scores map[string]int
}

func NewSession(v Variant, host string) *Session {
    s := &Session{variant: v, host: host, phase: PhaseIdle, scores: make(map[string]int)}
    s.clear()
    return s
}

func (s *Session) clear() {
    s.submissions = make(map[string]string)
    s.owners = make(map[string]string)
    s.votes = make(map[string]map[string]bool)
}

func (s *Session) Phase() Phase   { return s.phase }
func (s *Session) Prompt() string { return s.prompt }

// StartRound opens the submission phase. Scores of returning players carry over.
func (s *Session) StartRound(round int, prompt, reference string, eligible []string, host string) {
    s.clear()
    s.roundID = uuid.NewString()
    s.round = round
    s.prompt = prompt
    s.host = host
    s.reference = ""
    if s.variant.UsesReference {
        s.reference = reference
        s.votes[reference] = make(map[string]bool)
        s.owners[reference] = ""
    }
    s.eligible = make(map[string]bool, len(eligible))
    for _, p := range eligible {
        if p == host {
            continue
        }
        s.eligible[p] = true
        if _, ok := s.scores[p]; !ok {
            s.scores[p] = 0
        }
    }
    s.phase = PhaseSubmitting
}

// Submit stores an already sanitized text for player.
func (s *Session) Submit(player, content string) error {
    if _, ok := s.submissions[player]; ok {
        return ErrAlreadySubmitted
    }
    if !s.eligible[player] {
        return ErrNotEligible
    }
    if s.phase != PhaseSubmitting {
        return ErrInvalidPhase
    }
    if content == "" {
        return ErrInvalidInput
    }
    // pool items are keyed by text, so duplicates would merge authorship
    if _, taken := s.votes[content]; taken {
        return ErrInvalidInput
    }
    s.submissions[player] = content
    s.owners[content] = player
    s.votes[content] = make(map[string]bool)
    return nil
}

func (s *Session) SubmittedCount() int { return len(s.submissions) }
func (s *Session) EligibleCount() int  { return len(s.eligible) }

func (s *Session) AllSubmitted() bool {
    if len(s.eligible) == 0 {
        return false
    }
    for p := range s.eligible {
        if _, ok := s.submissions[p]; !ok {
            return false
        }
    }
    return true
}

// Reveal closes submissions and returns the sorted voting pool.
func (s *Session) Reveal() []string {
    if s.phase == PhaseSubmitting {
        s.phase = PhaseVoting
    }
    return s.RevealPool()
}

func (s *Session) RevealPool() []string {
    out := slices.Collect(maps.Keys(s.votes))
    sort.Strings(out)
    return out
}

func (s *Session) hasVoted(player string) bool {
    for _, voters := range s.votes {
        if voters[player] {
            return true
        }
    }
    return false
}

// CastVote records a vote and applies the variant's scoring straight away.
func (s *Session) CastVote(player, item string) error {
    if s.phase != PhaseVoting {
        return ErrInvalidPhase
    }
    if player == s.host {
        return ErrForbidden
    }
    if !s.eligible[player] {
        return ErrNotEligible
    }
    if s.hasVoted(player) {
        return ErrAlreadyVoted
    }
    voters, ok := s.votes[item]
    if !ok {
        return ErrUnknownItem
    }
    owner := s.owners[item]
    if owner == player {
        return ErrSelfVote
    }
    voters[player] = true

    ev := ScoreEvent{Voter: player, Item: item, Owner: owner, IsReference: s.variant.UsesReference && item == s.reference}
    for _, d := range s.variant.Scorer.Score(ev) {
        if _, ok := s.scores[d.Player]; !ok || d.Player == s.host || d.Delta < 0 {
            continue
        }
        s.scores[d.Player] += d.Delta
    }
    return nil
}

func (s *Session) AllVoted() bool {
    if len(s.eligible) == 0 {
        return false
    }
    for p := range s.eligible {
        n := 0
        for _, voters := range s.votes {
            if voters[p] {
                n++
            }
        }
        if n != 1 {
            return false
        }
    }
    return true
}

func (s *Session) VoteCount() int {
    n := 0
    for _, voters := range s.votes {
        n += len(voters)
    }
    return n
}

// RemovePlayer drops a departing player from the eligible set. Their
// submission stays in the pool, votes for it still credit them, and their
// score is kept.
func (s *Session) RemovePlayer(player string) {
    delete(s.eligible, player)
}

// FinalizeRound snapshots the round without changing it.
func (s *Session) FinalizeRound() Summary {
    sum := Summary{
        RoundID:    s.roundID,
        Round:      s.round,
        Prompt:     s.prompt,
        Reference:  s.reference,
        Authors:    make(map[string]string, len(s.submissions)),
        VoteCounts: make(map[string]int, len(s.votes)),
        Scores:     s.Scores(),
    }
    for p, text := range s.submissions {
        sum.Authors[text] = p
    }
    for item, voters := range s.votes {
        sum.VoteCounts[item] = len(voters)
    }
    return sum
}

// ResetRound clears per-round data. Scores survive.
func (s *Session) ResetRound() {
    s.clear()
    s.phase = PhaseIdle
}

func (s *Session) Scores() map[string]int {
    return maps.Clone(s.scores)
}
