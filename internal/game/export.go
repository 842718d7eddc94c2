package game

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileRecorder appends a plain-text transcript of every finished round.
type FileRecorder struct {
	Path string
	mu   sync.Mutex
}

func NewFileRecorder(path string) *FileRecorder {
	return &FileRecorder{Path: path}
}

func (f *FileRecorder) RecordRound(view LobbyView, res EndResult, sum Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.OpenFile(f.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(formatRound(view, res, sum, time.Now())); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}

func formatRound(view LobbyView, res EndResult, sum Summary, now time.Time) string {
	var sb strings.Builder

	if res.Round == 1 {
		sb.WriteString(fmt.Sprintf("Conundrum Corner - Lobby %s (%s)\n", view.Code, view.Mode))
		sb.WriteString(fmt.Sprintf("Started: %s\n", now.Format("2006-01-02 15:04:05")))
		sb.WriteString(strings.Repeat("=", 50) + "\n")
		sb.WriteString(fmt.Sprintf("Host: %s\nPlayers: %s\n\n", view.Host, strings.Join(view.Players, ", ")))
	}

	sb.WriteString(fmt.Sprintf("Round %d/%d: %q\n", res.Round, view.MaxRounds, sum.Prompt))
	sb.WriteString(strings.Repeat("-", 40) + "\n")

	items := make([]string, 0, len(sum.VoteCounts))
	for item := range sum.VoteCounts {
		items = append(items, item)
	}
	sort.Strings(items)
	for _, item := range items {
		author := sum.Authors[item]
		switch {
		case item == sum.Reference && sum.Reference != "":
			author = "reference"
		case author == "":
			author = "unknown"
		}
		sb.WriteString(fmt.Sprintf("- %s: %q, %d vote(s)\n", author, item, sum.VoteCounts[item]))
	}

	type playerScore struct {
		Name  string
		Score int
	}
	scores := make([]playerScore, 0, len(sum.Scores))
	for name, pts := range sum.Scores {
		scores = append(scores, playerScore{name, pts})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Name < scores[j].Name
	})
	if len(scores) > 0 {
		sb.WriteString("\nScores after this round:\n")
		for _, ps := range scores {
			sb.WriteString(fmt.Sprintf("- %s: %d points\n", ps.Name, ps.Score))
		}
	}
	sb.WriteString("\n")

	if res.GameOver {
		sb.WriteString(fmt.Sprintf("Game ended at %s\n", now.Format("2006-01-02 15:04:05")))
		sb.WriteString(strings.Repeat("=", 50) + "\n\n")
	}
	return sb.String()
}
