package ws

import (
    "errors"
    "strings"
    "sync"

    "github.com/HafiyZazaBaza/Conundrum-Corner/internal/config"
    "github.com/HafiyZazaBaza/Conundrum-Corner/internal/game"
    "github.com/gin-gonic/gin"
    "github.com/google/uuid"
    socketio "github.com/googollee/go-socket.io"
    "github.com/rs/zerolog/log"
    "golang.org/x/time/rate"
)

type ConnCtx struct {
    Code     string
    Username string
    Token    string

    limiter *rate.Limiter
}

// Lobby is the slice of game.Manager the gateway drives.
type Lobby interface {
    CreateLobby(username string, maxPlayers int, mode string, attach game.Attach) (game.LobbyView, error)
    JoinLobby(username, code string, attach game.Attach) (game.LobbyView, error)
    Leave(username, code string) error
    StartGame(code, username, mode string, maxRounds int) error
    SetPrompt(code, username, prompt, reference string) error
    SubmitContent(code, username, text string) error
    CastVote(code, username, item string) error
    EndRound(code, username string) error
    SendMessage(code, username, text string) error
}

type Server struct {
    Lobbies Lobby
    io      *socketio.Server
    config  config.Config

    mu      sync.RWMutex
    members map[string]map[string]member // lobbyCode -> socketID -> member
}

type member struct {
    conn     socketio.Conn
    username string
}

func New(l Lobby, cfg config.Config) *Server {
    return &Server{Lobbies: l, config: cfg, members: make(map[string]map[string]member)}
}

func (srv *Server) SetLobbies(l Lobby) { srv.Lobbies = l }

type createPayload struct {
    Username   string `json:"username"`
    MaxPlayers int    `json:"maxPlayers"`
    GameMode   string `json:"gameMode"`
}

type joinPayload struct {
    Username  string `json:"username"`
    LobbyCode string `json:"lobbyCode"`
}

type startPayload struct {
    Mode      string `json:"mode"`
    MaxRounds int    `json:"maxRounds"`
}

type promptPayload struct {
    Prompt    string `json:"prompt"`
    Reference string `json:"reference"`
}

// Mount attaches the Socket.IO server with its handlers to the given Gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
    io := socketio.NewServer(nil)
    srv.io = io

    io.OnConnect("/", func(s socketio.Conn) error {
        srv.newCtx(s)
        log.Info().Str("sid", s.ID()).Msg("socket connected")
        return nil
    })

    io.OnEvent("/", "create_lobby", srv.createLobby)
    io.OnEvent("/", "join_lobby", srv.joinLobby)

    io.OnEvent("/", "start_game", func(s socketio.Conn, p startPayload) map[string]any {
        return srv.act(s, "start_game", func(ctx *ConnCtx) error {
            return srv.Lobbies.StartGame(ctx.Code, ctx.Username, p.Mode, p.MaxRounds)
        })
    })

    io.OnEvent("/", "set_prompt", func(s socketio.Conn, p promptPayload) map[string]any {
        return srv.act(s, "set_prompt", func(ctx *ConnCtx) error {
            return srv.Lobbies.SetPrompt(ctx.Code, ctx.Username, p.Prompt, p.Reference)
        })
    })

    io.OnEvent("/", "submit_content", func(s socketio.Conn, p struct {
        Text string `json:"text"`
    }) map[string]any {
        return srv.act(s, "submit_content", func(ctx *ConnCtx) error {
            return srv.Lobbies.SubmitContent(ctx.Code, ctx.Username, p.Text)
        })
    })

    io.OnEvent("/", "cast_vote", func(s socketio.Conn, p struct {
        Item string `json:"item"`
    }) map[string]any {
        return srv.act(s, "cast_vote", func(ctx *ConnCtx) error {
            return srv.Lobbies.CastVote(ctx.Code, ctx.Username, p.Item)
        })
    })

    io.OnEvent("/", "end_round", func(s socketio.Conn) map[string]any {
        return srv.act(s, "end_round", func(ctx *ConnCtx) error {
            return srv.Lobbies.EndRound(ctx.Code, ctx.Username)
        })
    })

    io.OnEvent("/", "send_message", func(s socketio.Conn, p struct {
        Message string `json:"message"`
    }) map[string]any {
        return srv.act(s, "send_message", func(ctx *ConnCtx) error {
            return srv.Lobbies.SendMessage(ctx.Code, ctx.Username, p.Message)
        })
    })

    io.OnEvent("/", "leave_lobby", func(s socketio.Conn) map[string]any {
        srv.detach(s)
        return map[string]any{"ok": true}
    })

    io.OnError("/", func(s socketio.Conn, e error) {
        if s == nil {
            log.Error().Err(e).Msg("socket error")
            return
        }
        log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
    })
    io.OnDisconnect("/", func(s socketio.Conn, reason string) {
        srv.detach(s)
        log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
    })

    go func() {
        if err := io.Serve(); err != nil {
            log.Error().Err(err).Msg("socket.io serve")
        }
    }()

    r.GET("/socket.io/*any", gin.WrapH(io))
    r.POST("/socket.io/*any", gin.WrapH(io))
    return io
}

func (srv *Server) createLobby(s socketio.Conn, p createPayload) map[string]any {
    if ack, ok := srv.admit(s); !ok {
        return ack
    }
    srv.detach(s)
    if p.MaxPlayers == 0 {
        p.MaxPlayers = 4
    }
    v, err := srv.Lobbies.CreateLobby(p.Username, p.MaxPlayers, p.GameMode, srv.attach(s))
    if err != nil {
        return srv.fail(s, err)
    }
    return map[string]any{"lobbyCode": v.Code}
}

// joinLobby moves the connection into a lobby. A connection already in another
// lobby, or there under another name, leaves that seat first.
func (srv *Server) joinLobby(s socketio.Conn, p joinPayload) map[string]any {
    if ack, ok := srv.admit(s); !ok {
        return ack
    }
    if ctx := srv.ctx(s); ctx.Code != "" && (ctx.Code != strings.ToUpper(strings.TrimSpace(p.LobbyCode)) || ctx.Username != strings.TrimSpace(p.Username)) {
        srv.detach(s)
    }
    v, err := srv.Lobbies.JoinLobby(p.Username, p.LobbyCode, srv.attach(s))
    if err != nil {
        return srv.fail(s, err)
    }
    return map[string]any{"lobbyCode": v.Code, "players": v.Players, "host": v.Host}
}

func (srv *Server) newCtx(s socketio.Conn) *ConnCtx {
    ctx := &ConnCtx{
        Token:   uuid.NewString(),
        limiter: rate.NewLimiter(rate.Limit(srv.config.ActionRate), srv.config.ActionBurst),
    }
    s.SetContext(ctx)
    return ctx
}

func (srv *Server) ctx(s socketio.Conn) *ConnCtx {
    if ctx, ok := s.Context().(*ConnCtx); ok && ctx != nil {
        return ctx
    }
    return srv.newCtx(s)
}

// admit applies the per-connection rate limit.
func (srv *Server) admit(s socketio.Conn) (map[string]any, bool) {
    ctx := srv.ctx(s)
    if ctx.limiter != nil && !ctx.limiter.Allow() {
        return srv.emitError(s, "rate_limited", "Slow down."), false
    }
    return nil, true
}

// act runs an in-lobby action for the connection's player.
func (srv *Server) act(s socketio.Conn, name string, fn func(ctx *ConnCtx) error) map[string]any {
    if ack, ok := srv.admit(s); !ok {
        return ack
    }
    ctx := srv.ctx(s)
    if ctx.Code == "" {
        return srv.emitError(s, "not_found", "You are not in a lobby.")
    }
    if err := fn(ctx); err != nil {
        log.Debug().Str("sid", s.ID()).Str("code", ctx.Code).Str("player", ctx.Username).Err(err).Msg(name + " rejected")
        return srv.fail(s, err)
    }
    log.Info().Str("code", ctx.Code).Str("player", ctx.Username).Msg(name)
    return map[string]any{"ok": true}
}

func (srv *Server) attach(s socketio.Conn) game.Attach {
    return func(code, username string) {
        ctx := srv.ctx(s)
        ctx.Code, ctx.Username = code, username
        s.Join(code)
        srv.addMember(code, username, s)
    }
}

// detach takes the connection out of its lobby. The player only leaves the
// lobby once their last connection is gone.
func (srv *Server) detach(s socketio.Conn) {
    ctx := srv.ctx(s)
    if ctx.Code == "" {
        return
    }
    code, username := ctx.Code, ctx.Username
    ctx.Code, ctx.Username = "", ""
    s.Leave(code)
    if srv.removeMember(code, s, username) {
        return
    }
    if err := srv.Lobbies.Leave(username, code); err != nil && !errors.Is(err, game.ErrNotFound) {
        log.Warn().Err(err).Str("code", code).Str("player", username).Msg("leave failed")
    }
}

func (srv *Server) addMember(code, username string, c socketio.Conn) {
    srv.mu.Lock()
    defer srv.mu.Unlock()
    if srv.members[code] == nil {
        srv.members[code] = make(map[string]member)
    }
    srv.members[code][c.ID()] = member{conn: c, username: username}
}

// removeMember reports whether username still has another connection in the lobby.
func (srv *Server) removeMember(code string, c socketio.Conn, username string) (stillConnected bool) {
    srv.mu.Lock()
    defer srv.mu.Unlock()
    m := srv.members[code]
    if m == nil {
        return false
    }
    delete(m, c.ID())
    for _, other := range m {
        if other.username == username {
            stillConnected = true
        }
    }
    if len(m) == 0 {
        delete(srv.members, code)
    }
    return stillConnected
}

// conns lists the lobby's connections, optionally only those of one player.
func (srv *Server) conns(code, username string) []socketio.Conn {
    srv.mu.RLock()
    defer srv.mu.RUnlock()
    out := make([]socketio.Conn, 0, len(srv.members[code]))
    for _, m := range srv.members[code] {
        if username == "" || m.username == username {
            out = append(out, m.conn)
        }
    }
    return out
}

func (srv *Server) ToPlayer(code, username, event string, payload any) {
    for _, c := range srv.conns(code, username) {
        c.Emit(event, payload)
    }
}

func (srv *Server) ToRoom(code, event string, payload any) {
    if srv.io != nil {
        srv.io.BroadcastToRoom("/", code, event, payload)
        return
    }
    for _, c := range srv.conns(code, "") {
        c.Emit(event, payload)
    }
}

func (srv *Server) fail(s socketio.Conn, err error) map[string]any {
    code := ErrorCode(err)
    if code == "blocked" {
        s.Emit("blocked_message", map[string]any{"text": "Your message was blocked by the content filter."})
        return map[string]any{"error": err.Error(), "code": code}
    }
    return srv.emitError(s, code, err.Error())
}

func (srv *Server) emitError(s socketio.Conn, code, message string) map[string]any {
    s.Emit("error_message", map[string]any{"code": code, "message": message})
    return map[string]any{"error": message, "code": code}
}
