package game

import (
    "math/rand"
    "slices"
    "strings"
)

type Lobby struct {
    Code       string
    Host       string
    Players    []string
    MaxPlayers int
    Mode       Mode
}

func newLobby(code, host string, maxPlayers int, mode Mode) *Lobby {
    return &Lobby{
        Code:       code,
        Host:       host,
        Players:    []string{host},
        MaxPlayers: clampPlayers(maxPlayers),
        Mode:       mode,
    }
}

func clampPlayers(n int) int {
    return max(MinPlayers, min(MaxPlayers, n))
}

func (l *Lobby) Has(username string) bool {
    return slices.Contains(l.Players, username)
}

// Join appends username unless it is already a member. Rejoining is not an error.
func (l *Lobby) Join(username string) (rejoined bool, err error) {
    if l.Has(username) {
        return true, nil
    }
    if len(l.Players) >= l.MaxPlayers {
        return false, ErrLobbyFull
    }
    l.Players = append(l.Players, username)
    return false, nil
}

// Leave removes username and hands the host role to the earliest remaining
// member. Unknown names are ignored.
func (l *Lobby) Leave(username string) (removed, hostChanged bool) {
    i := slices.Index(l.Players, username)
    if i < 0 {
        return false, false
    }
    l.Players = slices.Delete(l.Players, i, i+1)
    if l.Host == username {
        l.Host = ""
        if len(l.Players) > 0 {
            l.Host = l.Players[0]
        }
        hostChanged = true
    }
    return true, hostChanged
}

func (l *Lobby) Empty() bool { return len(l.Players) == 0 }

// Eligible lists every member except the host, in join order.
func (l *Lobby) Eligible() []string {
    out := make([]string, 0, len(l.Players))
    for _, p := range l.Players {
        if p != l.Host {
            out = append(out, p)
        }
    }
    return out
}

func normalizeCode(code string) (string, bool) {
    code = strings.ToUpper(strings.TrimSpace(code))
    if len(code) != codeLength {
        return "", false
    }
    for _, r := range code {
        if !strings.ContainsRune(codeAlphabet, r) {
            return "", false
        }
    }
    return code, true
}

func randomCode(n int) string {
    b := make([]byte, n)
    for i := range b {
        b[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
    }
    return string(b)
}
