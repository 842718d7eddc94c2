package game

import (
    "slices"
    "strings"
    "sync"
    "time"

    "github.com/HafiyZazaBaza/Conundrum-Corner/internal/sanitize"
    "github.com/rs/zerolog/log"
)

// Emitter delivers events to one player or to everyone in a lobby.
type Emitter interface {
    ToPlayer(code, username, event string, payload any)
    ToRoom(code, event string, payload any)
}

type Sanitizer interface {
    Clean(text string) (string, []sanitize.Violation, error)
}

// Scheduler runs f after d. The returned func cancels it.
type Scheduler interface {
    After(d time.Duration, f func()) (cancel func())
}

type clockScheduler struct{}

func (clockScheduler) After(d time.Duration, f func()) func() {
    t := time.AfterFunc(d, f)
    return func() { t.Stop() }
}

// Recorder receives every finished round.
type Recorder interface {
    RecordRound(view LobbyView, res EndResult, sum Summary) error
}

// Attach is called inside the lobby's critical section once a player has been
// admitted, before any event for that lobby is sent. username is the name as
// stored in the lobby.
type Attach func(code, username string)

type Options struct {
    Points           Points
    DefaultMaxRounds int
    RoundCooldown    time.Duration
    RoundTimeLimit   time.Duration
    BlockSeverity    int
}

var DefaultOptions = Options{
    Points:           DefaultPoints,
    DefaultMaxRounds: 3,
    RoundCooldown:    5 * time.Second,
    BlockSeverity:    3,
}

type lobbyCtx struct {
    mu     sync.Mutex
    sendMu sync.Mutex
    closed bool

    lobby   *Lobby
    rounds  *RoundState
    session *Session
    variant Variant

    cancels []func()
    out     []Event
    effects []func()
}

func (lc *lobbyCtx) send(name string, payload any) {
    lc.out = append(lc.out, Event{Name: name, Payload: payload})
}

func (lc *lobbyCtx) sendTo(to, name string, payload any) {
    lc.out = append(lc.out, Event{Name: name, To: to, Payload: payload})
}

func (lc *lobbyCtx) inGame() bool { return lc.rounds != nil && !lc.rounds.Finished }

func (lc *lobbyCtx) cancelTimers() {
    for _, c := range lc.cancels {
        c()
    }
    lc.cancels = nil
}

// Manager is the registry of live lobbies. Every mutating call on a lobby runs
// under that lobby's own mutex; calls on different lobbies never contend.
type Manager struct {
    mu      sync.RWMutex
    lobbies map[string]*lobbyCtx

    emit   Emitter
    filter Sanitizer
    sched  Scheduler
    rec    Recorder
    opts   Options
}

func NewManager(emit Emitter, filter Sanitizer, opts Options) *Manager {
    if opts.DefaultMaxRounds < 1 {
        opts.DefaultMaxRounds = DefaultOptions.DefaultMaxRounds
    }
    if opts.Points == (Points{}) {
        opts.Points = DefaultPoints
    }
    if opts.BlockSeverity < 1 {
        opts.BlockSeverity = DefaultOptions.BlockSeverity
    }
    return &Manager{
        lobbies: make(map[string]*lobbyCtx),
        emit:    emit,
        filter:  filter,
        sched:   clockScheduler{},
        opts:    opts,
    }
}

func (m *Manager) SetScheduler(s Scheduler) { m.sched = s }
func (m *Manager) SetRecorder(r Recorder)   { m.rec = r }
func (m *Manager) SetEmitter(e Emitter)     { m.emit = e }

func (m *Manager) Len() int {
    m.mu.RLock()
    defer m.mu.RUnlock()
    return len(m.lobbies)
}

// with runs fn inside the lobby's critical section and then flushes whatever
// fn queued, in order, after the state lock is released.
func (m *Manager) with(code string, fn func(lc *lobbyCtx) error) error {
    code, ok := normalizeCode(code)
    if !ok {
        return ErrInvalidInput
    }
    m.mu.RLock()
    lc := m.lobbies[code]
    m.mu.RUnlock()
    if lc == nil {
        return ErrNotFound
    }
    lc.mu.Lock()
    if lc.closed {
        lc.mu.Unlock()
        return ErrNotFound
    }
    err := fn(lc)
    m.release(lc)
    return err
}

func (m *Manager) release(lc *lobbyCtx) {
    out, effects := lc.out, lc.effects
    lc.out, lc.effects = nil, nil
    code := lc.lobby.Code
    lc.sendMu.Lock()
    lc.mu.Unlock()
    defer lc.sendMu.Unlock()
    if m.emit != nil {
        for _, ev := range out {
            if ev.To != "" {
                m.emit.ToPlayer(code, ev.To, ev.Name, ev.Payload)
            } else {
                m.emit.ToRoom(code, ev.Name, ev.Payload)
            }
        }
    }
    for _, f := range effects {
        f()
    }
}

// clean runs text through the sanitizer. Any sanitizer failure blocks the text.
func (m *Manager) clean(text string) (string, error) {
    if m.filter == nil {
        return "", ErrBlocked
    }
    cleaned, vs, err := m.filter.Clean(text)
    if err != nil {
        log.Error().Err(err).Msg("sanitizer failed, blocking text")
        return "", ErrBlocked
    }
    if sev := sanitize.MaxSeverity(vs); sev >= m.opts.BlockSeverity {
        return "", ErrBlocked
    }
    return cleaned, nil
}

func (lc *lobbyCtx) view() LobbyView {
    v := LobbyView{
        Code:       lc.lobby.Code,
        Host:       lc.lobby.Host,
        Players:    slices.Clone(lc.lobby.Players),
        MaxPlayers: lc.lobby.MaxPlayers,
        Mode:       lc.lobby.Mode,
        Phase:      PhaseIdle,
    }
    if lc.rounds != nil {
        v.Round = lc.rounds.Current
        v.MaxRounds = lc.rounds.MaxRounds
        v.Active = lc.rounds.Active
        v.Finished = lc.rounds.Finished
    }
    if lc.session != nil {
        v.Phase = lc.session.Phase()
    }
    return v
}

func (lc *lobbyCtx) lobbyUpdate() {
    lc.send(EvLobbyUpdate, map[string]any{"players": slices.Clone(lc.lobby.Players), "host": lc.lobby.Host})
}

func (m *Manager) CreateLobby(username string, maxPlayers int, mode string, attach Attach) (LobbyView, error) {
    username = strings.TrimSpace(username)
    if username == "" {
        return LobbyView{}, ErrInvalidInput
    }
    var pref Mode
    if strings.TrimSpace(mode) != "" {
        var ok bool
        if pref, ok = ParseMode(mode); !ok {
            return LobbyView{}, ErrInvalidInput
        }
    }

    m.mu.Lock()
    code := randomCode(codeLength)
    for m.lobbies[code] != nil {
        code = randomCode(codeLength)
    }
    lc := &lobbyCtx{lobby: newLobby(code, username, maxPlayers, pref)}
    lc.mu.Lock()
    m.lobbies[code] = lc
    m.mu.Unlock()

    if attach != nil {
        attach(code, username)
    }
    lc.sendTo(username, EvLobbyCreated, map[string]any{"username": username, "lobbyCode": code, "gameMode": pref})
    lc.lobbyUpdate()
    v := lc.view()
    log.Info().Str("code", code).Str("host", username).Int("maxPlayers", lc.lobby.MaxPlayers).Msg("lobby created")
    m.release(lc)
    return v, nil
}

func (m *Manager) JoinLobby(username, code string, attach Attach) (LobbyView, error) {
    username = strings.TrimSpace(username)
    if username == "" {
        return LobbyView{}, ErrInvalidInput
    }
    var v LobbyView
    err := m.with(code, func(lc *lobbyCtx) error {
        rejoined, err := lc.lobby.Join(username)
        if err != nil {
            return err
        }
        if attach != nil {
            attach(lc.lobby.Code, username)
        }
        lc.sendTo(username, EvLobbyJoined, map[string]any{"username": username, "lobbyCode": lc.lobby.Code, "gameMode": lc.lobby.Mode})
        lc.lobbyUpdate()
        if rejoined {
            lc.catchUp(username)
        }
        v = lc.view()
        log.Info().Str("code", lc.lobby.Code).Str("player", username).Bool("rejoin", rejoined).Msg("lobby joined")
        return nil
    })
    return v, err
}

// catchUp resends the current round to a reconnecting player.
func (lc *lobbyCtx) catchUp(username string) {
    if lc.session == nil || !lc.inGame() {
        return
    }
    switch lc.session.Phase() {
    case PhaseSubmitting:
        lc.sendTo(username, EvRoundStarted, map[string]any{"round": lc.rounds.Current, "prompt": lc.session.Prompt()})
    case PhaseVoting:
        lc.sendTo(username, EvRevealPool, map[string]any{"round": lc.rounds.Current, "items": lc.session.RevealPool()})
    }
    lc.sendTo(username, EvUpdateScores, map[string]any{"scores": lc.session.Scores()})
}

// Leave removes username from the lobby. Unknown players are ignored.
func (m *Manager) Leave(username, code string) error {
    return m.with(code, func(lc *lobbyCtx) error {
        removed, hostChanged := lc.lobby.Leave(username)
        if !removed {
            return nil
        }
        log.Info().Str("code", lc.lobby.Code).Str("player", username).Bool("hostChanged", hostChanged).Msg("player left")
        if lc.lobby.Empty() {
            m.destroy(lc)
            return nil
        }
        lc.lobbyUpdate()
        if !lc.inGame() {
            return nil
        }
        if hostChanged {
            m.abandon(lc, "host left")
            return nil
        }
        lc.session.RemovePlayer(username)
        if len(lc.lobby.Eligible()) < lc.variant.minEligible() {
            m.abandon(lc, "not enough players")
            return nil
        }
        m.progress(lc)
        return nil
    })
}

func (v Variant) minEligible() int {
    if v.UsesReference {
        return 1
    }
    return 2
}

// destroy must be called with lc.mu held.
func (m *Manager) destroy(lc *lobbyCtx) {
    lc.closed = true
    lc.cancelTimers()
    lc.rounds, lc.session = nil, nil
    m.mu.Lock()
    delete(m.lobbies, lc.lobby.Code)
    m.mu.Unlock()
    log.Info().Str("code", lc.lobby.Code).Msg("lobby destroyed")
}

func (m *Manager) abandon(lc *lobbyCtx, reason string) {
    lc.cancelTimers()
    lc.rounds, lc.session = nil, nil
    lc.send(EvGameAbandoned, map[string]any{"reason": reason})
    log.Info().Str("code", lc.lobby.Code).Str("reason", reason).Msg("game abandoned")
}

func (m *Manager) StartGame(code, username, mode string, maxRounds int) error {
    return m.with(code, func(lc *lobbyCtx) error {
        if lc.lobby.Host != username {
            return ErrForbidden
        }
        md := lc.lobby.Mode
        if strings.TrimSpace(mode) != "" {
            var ok bool
            if md, ok = ParseMode(mode); !ok {
                return ErrInvalidInput
            }
        }
        v, ok := VariantFor(md, m.opts.Points)
        if !ok {
            return ErrInvalidInput
        }
        if lc.inGame() {
            return ErrInvalidPhase
        }
        if len(lc.lobby.Eligible()) < v.minEligible() {
            return ErrInvalidInput
        }
        if maxRounds < 1 {
            maxRounds = m.opts.DefaultMaxRounds
        }
        lc.cancelTimers()
        lc.lobby.Mode = md
        lc.variant = v
        lc.rounds = NewRoundState(maxRounds)
        lc.session = NewSession(v, lc.lobby.Host)
        round, err := lc.rounds.Start()
        if err != nil {
            return err
        }
        lc.send(EvGameStarted, map[string]any{"mode": md, "maxRounds": lc.rounds.MaxRounds, "round": round})
        log.Info().Str("code", lc.lobby.Code).Str("mode", string(md)).Int("maxRounds", maxRounds).Msg("game started")
        return nil
    })
}

// SetPrompt is the host opening a round with its prompt and reference item.
func (m *Manager) SetPrompt(code, username, prompt, reference string) error {
    prompt, reference = strings.TrimSpace(prompt), strings.TrimSpace(reference)
    if prompt == "" {
        return ErrInvalidInput
    }
    prompt, err := m.clean(prompt)
    if err != nil {
        return err
    }
    if reference != "" {
        if reference, err = m.clean(reference); err != nil {
            return err
        }
    }
    return m.with(code, func(lc *lobbyCtx) error {
        if lc.lobby.Host != username {
            return ErrForbidden
        }
        if lc.rounds == nil {
            return ErrInvalidPhase
        }
        if lc.rounds.Finished {
            return ErrGameFinished
        }
        if lc.variant.UsesReference && reference == "" {
            return ErrInvalidInput
        }
        if lc.rounds.Active && lc.session.Phase() != PhaseIdle {
            return ErrInvalidPhase
        }
        round, err := lc.rounds.Start()
        if err != nil {
            return err
        }
        lc.cancelTimers()
        lc.session.StartRound(round, prompt, reference, lc.lobby.Eligible(), lc.lobby.Host)
        lc.send(EvRoundStarted, map[string]any{"round": round, "maxRounds": lc.rounds.MaxRounds, "prompt": prompt})
        if d := m.opts.RoundTimeLimit; d > 0 {
            m.schedule(lc, d, round, lc.rounds.Generation, m.expireRound)
        }
        return nil
    })
}

func (m *Manager) SubmitContent(code, username, text string) error {
    text = strings.TrimSpace(text)
    if text == "" {
        return ErrInvalidInput
    }
    text, err := m.clean(text)
    if err != nil {
        return err
    }
    return m.with(code, func(lc *lobbyCtx) error {
        if err := lc.activeRound(); err != nil {
            return err
        }
        if username == lc.lobby.Host {
            return ErrForbidden
        }
        if err := lc.session.Submit(username, text); err != nil {
            return err
        }
        lc.send(EvSubmissionUpdate, map[string]any{"count": lc.session.SubmittedCount(), "total": lc.session.EligibleCount()})
        m.progress(lc)
        return nil
    })
}

func (m *Manager) CastVote(code, username, item string) error {
    return m.with(code, func(lc *lobbyCtx) error {
        if err := lc.activeRound(); err != nil {
            return err
        }
        if err := lc.session.CastVote(username, item); err != nil {
            return err
        }
        lc.sendTo(username, EvVoteConfirmed, map[string]any{"player": username, "item": item})
        lc.send(EvUpdateScores, map[string]any{"scores": lc.session.Scores()})
        m.progress(lc)
        return nil
    })
}

// EndRound is the host forcing the current round to close.
func (m *Manager) EndRound(code, username string) error {
    return m.with(code, func(lc *lobbyCtx) error {
        if lc.lobby.Host != username {
            return ErrForbidden
        }
        if lc.rounds == nil {
            return ErrNotActive
        }
        return m.endRound(lc)
    })
}

func (m *Manager) SendMessage(code, username, text string) error {
    text = strings.TrimSpace(text)
    if text == "" {
        return ErrInvalidInput
    }
    text, err := m.clean(text)
    if err != nil {
        return err
    }
    return m.with(code, func(lc *lobbyCtx) error {
        if !lc.lobby.Has(username) {
            return ErrForbidden
        }
        lc.send(EvReceiveMessage, map[string]any{"username": username, "message": text})
        return nil
    })
}

func (m *Manager) Snapshot(code string) (LobbyView, error) {
    var v LobbyView
    err := m.with(code, func(lc *lobbyCtx) error {
        v = lc.view()
        return nil
    })
    return v, err
}

func (lc *lobbyCtx) activeRound() error {
    if lc.rounds == nil || lc.session == nil {
        return ErrNotActive
    }
    if lc.rounds.Finished {
        return ErrGameFinished
    }
    if !lc.rounds.Active {
        return ErrNotActive
    }
    return nil
}

// progress moves the round forward once every eligible player has submitted
// or voted. It runs after submissions, votes and departures alike.
func (m *Manager) progress(lc *lobbyCtx) {
    if lc.session == nil || lc.rounds == nil || !lc.rounds.Active {
        return
    }
    if lc.session.Phase() == PhaseSubmitting && lc.session.AllSubmitted() {
        lc.send(EvRevealPool, map[string]any{"round": lc.rounds.Current, "items": lc.session.Reveal()})
    }
    if lc.session.Phase() == PhaseVoting && lc.session.AllVoted() {
        _ = m.endRound(lc)
    }
}

// endRound is the single path that closes a round, whatever triggered it.
func (m *Manager) endRound(lc *lobbyCtx) error {
    res, sum, err := lc.rounds.End(lc.session)
    if err != nil {
        return err
    }
    lc.cancelTimers()
    view := lc.view()
    if m.rec != nil {
        rec := m.rec
        lc.effects = append(lc.effects, func() {
            if err := rec.RecordRound(view, res, sum); err != nil {
                log.Error().Err(err).Str("code", view.Code).Msg("failed to record round")
            }
        })
    }
    log.Info().Str("code", view.Code).Int("round", res.Round).Bool("gameOver", res.GameOver).Msg("round ended")
    if res.GameOver {
        lc.send(EvGameOver, map[string]any{"finalScores": sum.Scores, "summary": sum})
        return nil
    }
    lc.send(EvRoundEnded, map[string]any{"round": res.Round, "nextRound": res.NextRound, "summary": sum})
    m.schedule(lc, m.opts.RoundCooldown, res.NextRound, lc.rounds.Generation, m.openNextRound)
    return nil
}

// schedule arms a deferred task stamped with the game, round and generation
// it was meant for; the task does nothing if any of them has moved on.
func (m *Manager) schedule(lc *lobbyCtx, d time.Duration, round int, gen uint64, task func(lc *lobbyCtx)) {
    code, rs := lc.lobby.Code, lc.rounds
    cancel := m.sched.After(d, func() {
        _ = m.with(code, func(cur *lobbyCtx) error {
            if cur.rounds != rs || rs.Stale(round, gen) {
                return nil
            }
            task(cur)
            return nil
        })
    })
    lc.cancels = append(lc.cancels, cancel)
}

func (m *Manager) expireRound(lc *lobbyCtx) {
    if lc.rounds.Active {
        _ = m.endRound(lc)
    }
}

func (m *Manager) openNextRound(lc *lobbyCtx) {
    if lc.rounds.Active {
        return
    }
    round, err := lc.rounds.Start()
    if err != nil {
        return
    }
    lc.send(EvNextRound, map[string]any{"round": round, "maxRounds": lc.rounds.MaxRounds})
}
