package main

import (
    "fmt"
    "net/http"
    "os"
    "strings"
    "time"

    "github.com/HafiyZazaBaza/Conundrum-Corner/internal/config"
    "github.com/HafiyZazaBaza/Conundrum-Corner/internal/game"
    "github.com/HafiyZazaBaza/Conundrum-Corner/internal/sanitize"
    "github.com/HafiyZazaBaza/Conundrum-Corner/internal/ws"
    staticserver "github.com/HafiyZazaBaza/Conundrum-Corner/static"
    "github.com/gin-contrib/cors"
    "github.com/gin-gonic/gin"
    "github.com/rs/zerolog"
    zerologlog "github.com/rs/zerolog/log"
    qrcode "github.com/skip2/go-qrcode"
    "github.com/spf13/cobra"
)

var version = "dev" // Set at build time via -ldflags

func main() {
    cobra.CheckErr(newCmd().Execute())
}

func newCmd() *cobra.Command {
    cmd := &cobra.Command{
        Use:           "conundrum",
        Short:         "Real-time party game host: lobbies, prompts, decoys and votes.",
        Args:          cobra.NoArgs,
        SilenceErrors: true,
        SilenceUsage:  true,
        Version:       version,
    }
    config.Flags(cmd.Flags())
    cmd.RunE = func(cmd *cobra.Command, args []string) error {
        v, err := config.NewViper(cmd.Flags())
        if err != nil {
            return err
        }
        cfg := config.FromViper(v)
        if err := cfg.Validate(); err != nil {
            return err
        }
        return run(cfg)
    }
    return cmd
}

func setupLogging(level string) {
    zerolog.TimeFieldFormat = time.RFC3339
    cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
    zerologlog.Logger = zerologlog.Output(cw)
    lvl, err := zerolog.ParseLevel(strings.ToLower(level))
    if err != nil || lvl == zerolog.NoLevel {
        lvl = zerolog.InfoLevel
    }
    zerolog.SetGlobalLevel(lvl)
}

func loadFilter(path string) *sanitize.Filter {
    if path == "" {
        return sanitize.New(sanitize.DefaultRules)
    }
    f, err := sanitize.Load(path)
    if err != nil {
        zerologlog.Warn().Err(err).Str("path", path).Msg("using default profanity rules")
        return sanitize.New(sanitize.DefaultRules)
    }
    return f
}

func managerOptions(cfg config.Config) game.Options {
    return game.Options{
        Points:           game.Points{Author: cfg.AuthorPoints, Correct: cfg.CorrectPoints},
        DefaultMaxRounds: cfg.MaxRounds,
        RoundCooldown:    cfg.RoundCooldown,
        RoundTimeLimit:   cfg.RoundTimeLimit,
        BlockSeverity:    cfg.BlockSeverity,
    }
}

func run(cfg config.Config) error {
    setupLogging(cfg.LogLevel)

    rm := game.NewManager(nil, loadFilter(cfg.ProfanityRules), managerOptions(cfg))
    if cfg.ExportEnabled {
        rm.SetRecorder(game.NewFileRecorder(cfg.ExportFile))
    }
    sock := ws.New(rm, cfg)
    rm.SetEmitter(sock)

    r := newRouter(cfg, rm)
    io := sock.Mount(r)
    defer io.Close()

    // Serve frontend for all other routes
    r.NoRoute(func(c *gin.Context) {
        staticserver.Handler().ServeHTTP(c.Writer, c.Request)
    })

    zerologlog.Info().Str("addr", cfg.Addr()).Str("version", version).Msg("listening")
    return r.Run(cfg.Addr())
}

type snapshotter interface {
    Snapshot(code string) (game.LobbyView, error)
}

func newRouter(cfg config.Config, lobbies snapshotter) *gin.Engine {
    gin.SetMode(gin.ReleaseMode)
    r := gin.New()
    r.Use(gin.Recovery())
    r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
    r.Use(func(c *gin.Context) {
        start := time.Now()
        c.Next()
        path := c.Request.URL.Path
        if strings.HasPrefix(path, "/socket.io") {
            return
        }
        zerologlog.Info().Str("path", path).Int("status", c.Writer.Status()).Dur("dur", time.Since(start)).Msg("http")
    })

    r.GET("/health", func(c *gin.Context) {
        c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
    })

    r.GET("/api/lobbies/:code", func(c *gin.Context) {
        v, err := lobbies.Snapshot(c.Param("code"))
        if err != nil {
            c.JSON(statusFor(err), gin.H{"error": ws.ErrorCode(err)})
            return
        }
        c.JSON(http.StatusOK, v)
    })

    r.GET("/api/lobbies/:code/qr.png", func(c *gin.Context) {
        v, err := lobbies.Snapshot(c.Param("code"))
        if err != nil {
            c.JSON(statusFor(err), gin.H{"error": ws.ErrorCode(err)})
            return
        }
        png, err := qrcode.Encode(cfg.JoinURL(v.Code), qrcode.Medium, 256)
        if err != nil {
            c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("qr: %v", err)})
            return
        }
        c.Header("Cache-Control", "no-cache")
        c.Data(http.StatusOK, "image/png", png)
    })

    return r
}

// corsConfig allows the socket.io long-polling transport from the given origins.
func corsConfig(origins []string) cors.Config {
    c := cors.Config{
        AllowMethods: []string{"GET", "POST", "OPTIONS"},
        AllowHeaders: []string{"Content-Type"},
        MaxAge:       12 * time.Hour,
    }
    for _, o := range origins {
        if o == "*" {
            c.AllowAllOrigins = true
            return c
        }
    }
    if len(origins) == 0 {
        c.AllowAllOrigins = true
        return c
    }
    c.AllowOrigins = origins
    c.AllowCredentials = true
    return c
}

func statusFor(err error) int {
    switch ws.ErrorCode(err) {
    case "not_found":
        return http.StatusNotFound
    case "invalid_input":
        return http.StatusBadRequest
    }
    return http.StatusInternalServerError
}
