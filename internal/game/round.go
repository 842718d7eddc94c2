package game

// RoundHooks lets the round state finalize and clear per-round game data
// without knowing anything about the game itself.
type RoundHooks interface {
    FinalizeRound() Summary
    ResetRound()
}

type RoundState struct {
    MaxRounds  int
    Current    int
    Active     bool
    Finished   bool
    Generation uint64
}

func NewRoundState(maxRounds int) *RoundState {
    return &RoundState{MaxRounds: max(1, maxRounds)}
}

// Start activates the current round, moving 0 -> 1 on the first call.
// Starting an already active round returns its number unchanged.
func (r *RoundState) Start() (int, error) {
    if r.Finished {
        return 0, ErrGameFinished
    }
    if r.Active {
        return r.Current, nil
    }
    if r.Current == 0 {
        r.Current = 1
    }
    r.Active = true
    r.Generation++
    return r.Current, nil
}

// End closes the active round. A second call for the same round fails with
// ErrNotActive, so duplicate end triggers cannot double-score or double-advance.
func (r *RoundState) End(h RoundHooks) (EndResult, Summary, error) {
    if !r.Active {
        return EndResult{}, Summary{}, ErrNotActive
    }
    var sum Summary
    if h != nil {
        sum = h.FinalizeRound()
        h.ResetRound()
    }
    r.Active = false
    r.Generation++
    res := EndResult{Round: r.Current}
    if r.Current >= r.MaxRounds {
        r.Finished = true
        res.GameOver = true
        return res, sum, nil
    }
    r.Current++
    res.NextRound = r.Current
    return res, sum, nil
}

// Stale reports whether a task scheduled at (round, gen) no longer applies.
func (r *RoundState) Stale(round int, gen uint64) bool {
    return r.Finished || r.Current != round || r.Generation != gen
}
