package game

// ScoreEvent describes one accepted vote. Owner is empty for the reference item.
type ScoreEvent struct {
    Voter       string
    Item        string
    Owner       string
    IsReference bool
}

type ScoreDelta struct {
    Player string
    Delta  int
}

// Scorer turns a vote into point changes. Implementations must be pure.
type Scorer interface {
    Score(ev ScoreEvent) []ScoreDelta
}

type ScorerFunc func(ev ScoreEvent) []ScoreDelta

func (f ScorerFunc) Score(ev ScoreEvent) []ScoreDelta { return f(ev) }

// Points holds the per-event awards. The defaults are one point each.
type Points struct {
    Author  int
    Correct int
}

var DefaultPoints = Points{Author: 1, Correct: 1}

// DecoyScorer credits the author of a picked decoy and the voter who finds
// the reference item.
func DecoyScorer(p Points) Scorer {
    return ScorerFunc(func(ev ScoreEvent) []ScoreDelta {
        if ev.IsReference {
            return []ScoreDelta{{Player: ev.Voter, Delta: p.Correct}}
        }
        if ev.Owner == "" {
            return nil
        }
        return []ScoreDelta{{Player: ev.Owner, Delta: p.Author}}
    })
}

// FavoriteScorer credits only the author of the chosen item.
func FavoriteScorer(p Points) Scorer {
    return ScorerFunc(func(ev ScoreEvent) []ScoreDelta {
        if ev.Owner == "" {
            return nil
        }
        return []ScoreDelta{{Player: ev.Owner, Delta: p.Author}}
    })
}

// Variant binds a mode to its scoring rule and says whether the host's
// reference item is part of the voting pool.
type Variant struct {
    Mode          Mode
    UsesReference bool
    Scorer        Scorer
}

func VariantFor(m Mode, p Points) (Variant, bool) {
    switch m {
    case ModeReverseGuessing, ModeEmojiTranslation, ModeObviouslyLies:
        return Variant{Mode: m, UsesReference: true, Scorer: DecoyScorer(p)}, true
    case ModeBadAdvice:
        return Variant{Mode: m, UsesReference: false, Scorer: FavoriteScorer(p)}, true
    }
    return Variant{}, false
}
