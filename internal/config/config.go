package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "CONUNDRUM"

type Config struct {
	Port      int
	Bind      string
	PublicURL string
	LogLevel  string

	ProfanityRules string
	BlockSeverity  int

	MaxRounds      int
	RoundCooldown  time.Duration
	RoundTimeLimit time.Duration
	AuthorPoints   int
	CorrectPoints  int

	ActionRate  float64
	ActionBurst int

	CORSOrigins []string

	ExportEnabled bool
	ExportFile    string
}

// Flags registers every setting on fs. Each flag can also be set through
// the environment as CONUNDRUM_<FLAG>, with dashes turned into underscores.
func Flags(fs *pflag.FlagSet) {
	fs.IntP("port", "p", 8080, "port to listen on")
	fs.StringP("bind", "b", "0.0.0.0", "address to bind to")
	fs.String("public-url", "", "externally reachable base URL, used for join links")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("profanity-rules", "", "path to a JSON profanity rule file")
	fs.Int("block-severity", 3, "violations at or above this severity block the text")
	fs.Int("max-rounds", 3, "rounds per game when the host does not choose")
	fs.Duration("round-cooldown", 5*time.Second, "pause between a round's results and the next round")
	fs.Duration("round-time-limit", 0, "force-end a round after this long (0 disables)")
	fs.Int("author-points", 1, "points for the author of a chosen submission")
	fs.Int("correct-points", 1, "points for picking the reference item")
	fs.Float64("action-rate", 5, "socket actions per second allowed per connection")
	fs.Int("action-burst", 10, "burst size for socket actions")
	fs.StringSlice("cors-origins", []string{"*"}, "allowed CORS origins")
	fs.Bool("export-enabled", false, "append round transcripts to a file")
	fs.String("export-file", "./conundrum-results.txt", "transcript path")
}

func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	return v, nil
}

func FromViper(v *viper.Viper) Config {
	return Config{
		Port:           v.GetInt("port"),
		Bind:           v.GetString("bind"),
		PublicURL:      strings.TrimRight(v.GetString("public-url"), "/"),
		LogLevel:       v.GetString("log-level"),
		ProfanityRules: v.GetString("profanity-rules"),
		BlockSeverity:  v.GetInt("block-severity"),
		MaxRounds:      v.GetInt("max-rounds"),
		RoundCooldown:  v.GetDuration("round-cooldown"),
		RoundTimeLimit: v.GetDuration("round-time-limit"),
		AuthorPoints:   v.GetInt("author-points"),
		CorrectPoints:  v.GetInt("correct-points"),
		ActionRate:     v.GetFloat64("action-rate"),
		ActionBurst:    v.GetInt("action-burst"),
		CORSOrigins:    v.GetStringSlice("cors-origins"),
		ExportEnabled:  v.GetBool("export-enabled"),
		ExportFile:     v.GetString("export-file"),
	}
}

// FromEnv reads the configuration from defaults and the environment only.
func FromEnv() (Config, error) {
	fs := pflag.NewFlagSet("env", pflag.ContinueOnError)
	Flags(fs)
	v, err := NewViper(fs)
	if err != nil {
		return Config{}, err
	}
	c := FromViper(v)
	return c, c.Validate()
}

func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.MaxRounds < 1 {
		return fmt.Errorf("max-rounds must be at least 1: %d", c.MaxRounds)
	}
	if c.RoundCooldown < 0 || c.RoundTimeLimit < 0 {
		return errors.New("round durations must not be negative")
	}
	if c.AuthorPoints < 0 || c.CorrectPoints < 0 {
		return errors.New("points must not be negative")
	}
	if c.ActionRate <= 0 || c.ActionBurst < 1 {
		return errors.New("action-rate and action-burst must be positive")
	}
	if c.ExportEnabled && c.ExportFile == "" {
		return errors.New("--export-file is required when export is enabled")
	}
	return nil
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// JoinURL is the link encoded in a lobby's QR code.
func (c Config) JoinURL(code string) string {
	base := c.PublicURL
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", c.Port)
	}
	return base + "/?lobby=" + code
}
