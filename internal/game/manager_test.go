package game

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HafiyZazaBaza/Conundrum-Corner/internal/sanitize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type sentEvent struct {
	code, to, name string
	payload        any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []sentEvent
}

func (r *recordingEmitter) ToPlayer(code, username, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sentEvent{code, username, event, payload})
}

func (r *recordingEmitter) ToRoom(code, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sentEvent{code, "", event, payload})
}

func (r *recordingEmitter) named(name string) []sentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentEvent
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *recordingEmitter) last(t *testing.T, name string) map[string]any {
	t.Helper()
	evs := r.named(name)
	require.NotEmpty(t, evs, "no %s event", name)
	return evs[len(evs)-1].payload.(map[string]any)
}

type fakeTask struct {
	d         time.Duration
	f         func()
	cancelled bool
}

type fakeScheduler struct {
	mu    sync.Mutex
	tasks []*fakeTask
}

func (s *fakeScheduler) After(d time.Duration, f func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := &fakeTask{d: d, f: f}
	s.tasks = append(s.tasks, task)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		task.cancelled = true
	}
}

// fire runs the i-th task as the clock would, even if it was cancelled after
// the timer already fired.
func (s *fakeScheduler) fire(i int, ignoreCancel bool) {
	s.mu.Lock()
	task := s.tasks[i]
	run := ignoreCancel || !task.cancelled
	s.mu.Unlock()
	if run {
		task.f()
	}
}

func (s *fakeScheduler) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

type mockSanitizer struct {
	mock.Mock
}

func (m *mockSanitizer) Clean(text string) (string, []sanitize.Violation, error) {
	args := m.Called(text)
	vs, _ := args.Get(1).([]sanitize.Violation)
	return args.String(0), vs, args.Error(2)
}

func newTestManager(t *testing.T, opts Options) (*Manager, *recordingEmitter, *fakeScheduler) {
	t.Helper()
	em := &recordingEmitter{}
	sched := &fakeScheduler{}
	m := NewManager(em, sanitize.New(sanitize.DefaultRules), opts)
	m.SetScheduler(sched)
	return m, em, sched
}

func createWithPlayers(t *testing.T, m *Manager, maxPlayers int, players ...string) string {
	t.Helper()
	v, err := m.CreateLobby("Alice", maxPlayers, "", nil)
	require.NoError(t, err)
	for _, p := range players {
		_, err := m.JoinLobby(p, v.Code, nil)
		require.NoError(t, err)
	}
	return v.Code
}

func startLies(t *testing.T, m *Manager, maxRounds int) string {
	t.Helper()
	code := createWithPlayers(t, m, 4, "Bob", "Carol")
	require.NoError(t, m.StartGame(code, "Alice", "obviously_lies", maxRounds))
	require.NoError(t, m.SetPrompt(code, "Alice", "Capital of France?", "Paris"))
	return code
}

func TestCreateAndJoinLobby(t *testing.T) {
	m, em, _ := newTestManager(t, DefaultOptions)

	v, err := m.CreateLobby("Alice", 4, "", nil)
	require.NoError(t, err)
	assert.Len(t, v.Code, 4)
	assert.Equal(t, []string{"Alice"}, v.Players)
	assert.Equal(t, "Alice", v.Host)

	for _, p := range []string{"Bob", "Carol", "Dave"} {
		_, err := m.JoinLobby(p, v.Code, nil)
		require.NoError(t, err)
	}
	_, err = m.JoinLobby("Eve", v.Code, nil)
	assert.ErrorIs(t, err, ErrLobbyFull)

	snap, err := m.Snapshot(v.Code)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob", "Carol", "Dave"}, snap.Players)

	upd := em.last(t, EvLobbyUpdate)
	assert.Equal(t, []string{"Alice", "Bob", "Carol", "Dave"}, upd["players"])
	assert.Equal(t, "Alice", upd["host"])
	assert.Len(t, em.named(EvLobbyJoined), 3)
	assert.Len(t, em.named(EvLobbyCreated), 1)
}

func TestCreateLobbyValidation(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultOptions)

	_, err := m.CreateLobby("   ", 4, "", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = m.CreateLobby("Alice", 4, "charades", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 0, m.Len())

	v, err := m.CreateLobby("Alice", 50, "Emoji_Translation", nil)
	require.NoError(t, err)
	assert.Equal(t, MaxPlayers, v.MaxPlayers)
	assert.Equal(t, ModeEmojiTranslation, v.Mode)
}

func TestJoinLobbyErrors(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultOptions)
	v, err := m.CreateLobby("Alice", 4, "", nil)
	require.NoError(t, err)

	_, err = m.JoinLobby("Bob", "ZZZZ", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.JoinLobby("Bob", "bad!", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = m.JoinLobby("", v.Code, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	attached, as := "", ""
	_, err = m.JoinLobby(" Bob ", " "+strings.ToLower(v.Code)+" ", func(code, username string) { attached, as = code, username })
	require.NoError(t, err)
	assert.Equal(t, v.Code, attached)
	assert.Equal(t, "Bob", as)
}

func TestStartGameRules(t *testing.T) {
	m, em, _ := newTestManager(t, DefaultOptions)
	code := createWithPlayers(t, m, 4, "Bob")

	assert.ErrorIs(t, m.StartGame(code, "Bob", "obviously_lies", 2), ErrForbidden)
	assert.ErrorIs(t, m.StartGame(code, "Alice", "", 2), ErrInvalidInput)
	assert.ErrorIs(t, m.StartGame(code, "Alice", "bad_advice_hotline", 2), ErrInvalidInput, "favourite voting needs two players")
	assert.Empty(t, em.named(EvGameStarted))

	require.NoError(t, m.StartGame(code, "Alice", "obviously_lies", 0))
	started := em.last(t, EvGameStarted)
	assert.Equal(t, DefaultOptions.DefaultMaxRounds, started["maxRounds"])
	assert.Equal(t, 1, started["round"])

	assert.ErrorIs(t, m.StartGame(code, "Alice", "obviously_lies", 2), ErrInvalidPhase)

	snap, _ := m.Snapshot(code)
	assert.Equal(t, 1, snap.Round)
	assert.True(t, snap.Active)
	assert.Equal(t, ModeObviouslyLies, snap.Mode)
}

func TestHostCannotPlay(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultOptions)
	code := startLies(t, m, 1)

	assert.ErrorIs(t, m.SubmitContent(code, "Alice", "Lyon"), ErrForbidden)
	require.NoError(t, m.SubmitContent(code, "Bob", "Lyon"))
	require.NoError(t, m.SubmitContent(code, "Carol", "Marseille"))
	assert.ErrorIs(t, m.CastVote(code, "Alice", "Paris"), ErrForbidden)
}

func TestLieDetectionScenarioEndsOnce(t *testing.T) {
	m, em, _ := newTestManager(t, DefaultOptions)
	code := startLies(t, m, 1)

	require.NoError(t, m.SubmitContent(code, "Bob", "Lyon"))
	assert.Empty(t, em.named(EvRevealPool))
	require.NoError(t, m.SubmitContent(code, "Carol", "Marseille"))
	assert.ErrorIs(t, m.SubmitContent(code, "Carol", "Nice"), ErrAlreadySubmitted)

	pool := em.last(t, EvRevealPool)
	assert.Equal(t, []string{"Lyon", "Marseille", "Paris"}, pool["items"])

	require.NoError(t, m.CastVote(code, "Bob", "Paris"))
	confirmed := em.named(EvVoteConfirmed)
	require.Len(t, confirmed, 1)
	assert.Equal(t, "Bob", confirmed[0].to)

	require.NoError(t, m.CastVote(code, "Carol", "Lyon"))

	require.Len(t, em.named(EvGameOver), 1)
	assert.Empty(t, em.named(EvRoundEnded))
	over := em.last(t, EvGameOver)
	assert.Equal(t, map[string]int{"Bob": 2, "Carol": 0}, over["finalScores"])

	assert.ErrorIs(t, m.EndRound(code, "Alice"), ErrNotActive)
	assert.ErrorIs(t, m.CastVote(code, "Carol", "Paris"), ErrGameFinished)
	assert.Len(t, em.named(EvGameOver), 1)

	snap, _ := m.Snapshot(code)
	assert.True(t, snap.Finished)
}

func TestConcurrentVotesTriggerOneEnd(t *testing.T) {
	m, em, _ := newTestManager(t, DefaultOptions)
	players := []string{"P1", "P2", "P3", "P4", "P5", "P6", "P7", "P8", "P9"}
	code := createWithPlayers(t, m, 10, players...)
	require.NoError(t, m.StartGame(code, "Alice", "reverse_guessing", 3))
	require.NoError(t, m.SetPrompt(code, "Alice", "42", "What is six times seven?"))
	for _, p := range players {
		require.NoError(t, m.SubmitContent(code, p, "Question from "+p))
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(players)*2)
	for _, p := range players {
		wg.Add(2)
		go func(p string) {
			defer wg.Done()
			errs <- m.CastVote(code, p, "What is six times seven?")
		}(p)
		go func(p string) {
			defer wg.Done()
			// duplicate client message
			errs <- m.CastVote(code, p, "What is six times seven?")
		}(p)
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		if err == nil {
			accepted++
			continue
		}
		assert.True(t, errors.Is(err, ErrAlreadyVoted) || errors.Is(err, ErrNotActive), "unexpected %v", err)
	}
	assert.Equal(t, len(players), accepted)
	assert.Len(t, em.named(EvRoundEnded), 1)
	assert.Empty(t, em.named(EvGameOver))

	ended := em.last(t, EvRoundEnded)
	assert.Equal(t, 2, ended["nextRound"])
	for _, p := range players {
		assert.Equal(t, 1, ended["summary"].(Summary).Scores[p])
	}
}

func TestCooldownOpensNextRound(t *testing.T) {
	m, em, sched := newTestManager(t, DefaultOptions)
	code := startLies(t, m, 2)
	playLiesRound(t, m, code)

	require.Len(t, em.named(EvRoundEnded), 1)
	require.Equal(t, 1, sched.len())
	assert.Equal(t, DefaultOptions.RoundCooldown, sched.tasks[0].d)

	assert.ErrorIs(t, m.SubmitContent(code, "Bob", "late"), ErrNotActive)
	sched.fire(0, false)
	next := em.last(t, EvNextRound)
	assert.Equal(t, 2, next["round"])

	require.NoError(t, m.SetPrompt(code, "Alice", "Largest planet?", "Jupiter"))
	require.NoError(t, m.SubmitContent(code, "Bob", "Saturn"))

	// a second delivery of the same timer must not touch the new round
	sched.fire(0, true)
	assert.Len(t, em.named(EvNextRound), 1)
	snap, _ := m.Snapshot(code)
	assert.Equal(t, PhaseSubmitting, snap.Phase)
}

func TestEarlyPromptMakesCooldownStale(t *testing.T) {
	m, em, sched := newTestManager(t, DefaultOptions)
	code := startLies(t, m, 3)
	playLiesRound(t, m, code)
	require.Equal(t, 1, sched.len())

	require.NoError(t, m.SetPrompt(code, "Alice", "Largest planet?", "Jupiter"))
	sched.fire(0, true)
	assert.Empty(t, em.named(EvNextRound))

	snap, _ := m.Snapshot(code)
	assert.Equal(t, 2, snap.Round)
	assert.Equal(t, PhaseSubmitting, snap.Phase)
}

func playLiesRound(t *testing.T, m *Manager, code string) {
	t.Helper()
	require.NoError(t, m.SubmitContent(code, "Bob", "Lyon"))
	require.NoError(t, m.SubmitContent(code, "Carol", "Marseille"))
	require.NoError(t, m.CastVote(code, "Bob", "Paris"))
	require.NoError(t, m.CastVote(code, "Carol", "Lyon"))
}

func TestScoresMonotoneAndResetOnNewGame(t *testing.T) {
	m, em, sched := newTestManager(t, DefaultOptions)
	code := startLies(t, m, 2)
	playLiesRound(t, m, code)
	sched.fire(0, false)

	require.NoError(t, m.SetPrompt(code, "Alice", "Largest planet?", "Jupiter"))
	require.NoError(t, m.SubmitContent(code, "Bob", "Saturn"))
	require.NoError(t, m.SubmitContent(code, "Carol", "Mars"))
	require.NoError(t, m.CastVote(code, "Bob", "Mars"))
	require.NoError(t, m.CastVote(code, "Carol", "Jupiter"))

	over := em.last(t, EvGameOver)
	assert.Equal(t, map[string]int{"Bob": 2, "Carol": 2}, over["finalScores"])

	require.NoError(t, m.StartGame(code, "Alice", "emoji_translation", 1))
	require.NoError(t, m.SetPrompt(code, "Alice", "🐍✈️", "Snakes on a plane"))
	require.NoError(t, m.SubmitContent(code, "Bob", "Flying worms"))
	require.NoError(t, m.SubmitContent(code, "Carol", "Noodle airline"))
	require.NoError(t, m.CastVote(code, "Bob", "Noodle airline"))
	scores := em.last(t, EvUpdateScores)["scores"]
	assert.Equal(t, map[string]int{"Bob": 0, "Carol": 1}, scores)
}

func TestHostEndRound(t *testing.T) {
	m, em, _ := newTestManager(t, DefaultOptions)
	code := startLies(t, m, 2)
	require.NoError(t, m.SubmitContent(code, "Bob", "Lyon"))

	assert.ErrorIs(t, m.EndRound(code, "Bob"), ErrForbidden)
	require.NoError(t, m.EndRound(code, "Alice"))
	assert.ErrorIs(t, m.EndRound(code, "Alice"), ErrNotActive)
	assert.Len(t, em.named(EvRoundEnded), 1)

	summary := em.last(t, EvRoundEnded)["summary"].(Summary)
	assert.Equal(t, 1, summary.Round)
	assert.Equal(t, "Bob", summary.Authors["Lyon"])
}

func TestRoundTimeLimit(t *testing.T) {
	opts := DefaultOptions
	opts.RoundTimeLimit = time.Minute
	m, em, sched := newTestManager(t, opts)
	startLies(t, m, 2)
	require.Equal(t, 1, sched.len())
	assert.Equal(t, time.Minute, sched.tasks[0].d)

	sched.fire(0, false)
	require.Len(t, em.named(EvRoundEnded), 1)

	// duplicate timer delivery after the round already ended
	sched.fire(0, true)
	assert.Len(t, em.named(EvRoundEnded), 1)
}

func TestDepartureCompletesRound(t *testing.T) {
	m, em, _ := newTestManager(t, DefaultOptions)
	code := createWithPlayers(t, m, 4, "Bob", "Carol", "Dave")
	require.NoError(t, m.StartGame(code, "Alice", "obviously_lies", 1))
	require.NoError(t, m.SetPrompt(code, "Alice", "Capital of France?", "Paris"))

	require.NoError(t, m.SubmitContent(code, "Bob", "Lyon"))
	require.NoError(t, m.SubmitContent(code, "Carol", "Marseille"))
	require.NoError(t, m.Leave("Dave", code))
	require.Len(t, em.named(EvRevealPool), 1)

	require.NoError(t, m.CastVote(code, "Bob", "Marseille"))
	require.NoError(t, m.Leave("Carol", code))
	require.Len(t, em.named(EvGameOver), 1)
	assert.Equal(t, map[string]int{"Bob": 0, "Carol": 1, "Dave": 0}, em.last(t, EvGameOver)["finalScores"])
}

func TestHostLeavingAbandonsGame(t *testing.T) {
	m, em, sched := newTestManager(t, Options{RoundTimeLimit: time.Minute})
	code := startLies(t, m, 2)

	require.NoError(t, m.Leave("Alice", code))
	abandoned := em.last(t, EvGameAbandoned)
	assert.Equal(t, "host left", abandoned["reason"])

	snap, err := m.Snapshot(code)
	require.NoError(t, err)
	assert.Equal(t, "Bob", snap.Host)
	assert.Equal(t, []string{"Bob", "Carol"}, snap.Players)
	assert.Equal(t, 0, snap.Round)

	sched.fire(0, true)
	assert.Empty(t, em.named(EvRoundEnded))
	assert.ErrorIs(t, m.SubmitContent(code, "Carol", "Lyon"), ErrNotActive)

	require.NoError(t, m.StartGame(code, "Bob", "obviously_lies", 1))
}

func TestLastLeaveDestroysLobby(t *testing.T) {
	m, _, sched := newTestManager(t, Options{RoundTimeLimit: time.Minute})
	code := startLies(t, m, 2)

	require.NoError(t, m.Leave("Zed", code))
	for _, p := range []string{"Bob", "Carol", "Alice"} {
		require.NoError(t, m.Leave(p, code))
	}
	assert.Equal(t, 0, m.Len())
	_, err := m.Snapshot(code)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Leave("Alice", code), ErrNotFound)

	sched.fire(0, true)
	assert.Equal(t, 0, m.Len())
}

func TestSanitizerFailureBlocks(t *testing.T) {
	em := &recordingEmitter{}
	san := &mockSanitizer{}
	m := NewManager(em, san, DefaultOptions)
	m.SetScheduler(&fakeScheduler{})

	san.On("Clean", "Capital of France?").Return("Capital of France?", nil, nil)
	san.On("Clean", "Paris").Return("Paris", nil, nil)
	san.On("Clean", "Lyon").Return("", nil, fmt.Errorf("rules unavailable"))

	code := createWithPlayers(t, m, 4, "Bob", "Carol")
	require.NoError(t, m.StartGame(code, "Alice", "obviously_lies", 1))
	require.NoError(t, m.SetPrompt(code, "Alice", "Capital of France?", "Paris"))

	assert.ErrorIs(t, m.SubmitContent(code, "Bob", "Lyon"), ErrBlocked)
	assert.Empty(t, em.named(EvSubmissionUpdate))
	san.AssertExpectations(t)
}

func TestChatIsSanitized(t *testing.T) {
	m, em, _ := newTestManager(t, DefaultOptions)
	code := createWithPlayers(t, m, 4, "Bob")

	assert.ErrorIs(t, m.SendMessage(code, "Bob", "oh shit"), ErrBlocked)
	assert.Empty(t, em.named(EvReceiveMessage))

	require.NoError(t, m.SendMessage(code, "Bob", "you bitch"))
	msg := em.last(t, EvReceiveMessage)
	assert.Equal(t, "you *****", msg["message"])
	assert.Equal(t, "Bob", msg["username"])

	assert.ErrorIs(t, m.SendMessage(code, "Zed", "hello"), ErrForbidden)
}

func TestSubmissionsAreCensored(t *testing.T) {
	m, em, _ := newTestManager(t, DefaultOptions)
	code := startLies(t, m, 1)
	require.NoError(t, m.SubmitContent(code, "Bob", "bitchin Lyon"))
	require.NoError(t, m.SubmitContent(code, "Carol", "Marseille"))
	assert.Equal(t, []string{"*****in Lyon", "Marseille", "Paris"}, em.last(t, EvRevealPool)["items"])
}

type memRecorder struct {
	mu     sync.Mutex
	rounds []EndResult
}

func (r *memRecorder) RecordRound(_ LobbyView, res EndResult, _ Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rounds = append(r.rounds, res)
	return nil
}

func TestRecorderSeesEveryRound(t *testing.T) {
	m, _, sched := newTestManager(t, DefaultOptions)
	rec := &memRecorder{}
	m.SetRecorder(rec)

	code := startLies(t, m, 2)
	playLiesRound(t, m, code)
	sched.fire(0, false)
	require.NoError(t, m.EndRound(code, "Alice"))

	require.Len(t, rec.rounds, 2)
	assert.Equal(t, 2, rec.rounds[0].NextRound)
	assert.True(t, rec.rounds[1].GameOver)
}

func TestLobbiesAreIndependent(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultOptions)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := m.CreateLobby(fmt.Sprintf("host-%d", i), 3, "", nil)
			if !assert.NoError(t, err) {
				return
			}
			_, err = m.JoinLobby("guest", v.Code, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, m.Len())
}

func TestTimerFromAbandonedGameIgnoredByNextGame(t *testing.T) {
	m, em, sched := newTestManager(t, Options{RoundTimeLimit: time.Minute})
	code := startLies(t, m, 2)
	require.Equal(t, 1, sched.len())

	require.NoError(t, m.Leave("Alice", code))
	require.NoError(t, m.StartGame(code, "Bob", "obviously_lies", 2))
	require.NoError(t, m.SetPrompt(code, "Bob", "Largest planet?", "Jupiter"))

	// the first game's timer was already in flight when it was cancelled
	sched.fire(0, true)
	assert.Empty(t, em.named(EvRoundEnded))
	snap, err := m.Snapshot(code)
	require.NoError(t, err)
	assert.True(t, snap.Active)
	assert.Equal(t, PhaseSubmitting, snap.Phase)

	sched.fire(1, false)
	assert.Len(t, em.named(EvRoundEnded), 1)
}
