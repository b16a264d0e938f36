// Package analytics aggregates finished chat turns into per-character counters.
//
// The relay publishes one TurnEvent per turn; the worker feeds them into an
// Accumulator and periodically flushes it into the character_stats table.
package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/suPer8Hu/kawan-ai/internal/mood"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

type TurnEvent struct {
	ID            string    `json:"id"`
	SessionID     uint64    `json:"sessionId"`
	UserID        uint64    `json:"userId"`
	CharacterID   uint64    `json:"characterId"`
	Mood          string    `json:"mood"`
	MoodIntensity int       `json:"moodIntensity"`
	MoodChanged   bool      `json:"moodChanged"`
	ReplyChars    int       `json:"replyChars"`
	HasImage      bool      `json:"hasImage"`
	Outcome       string    `json:"outcome"`
	At            time.Time `json:"at"`
}

// CharacterStat is the persisted aggregate for one character.
type CharacterStat struct {
	CharacterID   uint64    `gorm:"primaryKey;autoIncrement:false" json:"characterId"`
	Turns         int64     `gorm:"not null;default:0" json:"turns"`
	FailedTurns   int64     `gorm:"not null;default:0" json:"failedTurns"`
	ImageTurns    int64     `gorm:"not null;default:0" json:"imageTurns"`
	MoodChanges   int64     `gorm:"not null;default:0" json:"moodChanges"`
	ReplyChars    int64     `gorm:"not null;default:0" json:"replyChars"`
	HappyTurns    int64     `gorm:"not null;default:0" json:"happyTurns"`
	SadTurns      int64     `gorm:"not null;default:0" json:"sadTurns"`
	ExcitedTurns  int64     `gorm:"not null;default:0" json:"excitedTurns"`
	RomanticTurns int64     `gorm:"not null;default:0" json:"romanticTurns"`
	JealousTurns  int64     `gorm:"not null;default:0" json:"jealousTurns"`
	LonelyTurns   int64     `gorm:"not null;default:0" json:"lonelyTurns"`
	PlayfulTurns  int64     `gorm:"not null;default:0" json:"playfulTurns"`
	NeutralTurns  int64     `gorm:"not null;default:0" json:"neutralTurns"`
	LastTurnAt    time.Time `json:"lastTurnAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (CharacterStat) TableName() string { return "character_stats" }

// moodColumns maps a mood to its counter column.
var moodColumns = map[mood.Mood]string{
	mood.Happy:    "happy_turns",
	mood.Sad:      "sad_turns",
	mood.Excited:  "excited_turns",
	mood.Romantic: "romantic_turns",
	mood.Jealous:  "jealous_turns",
	mood.Lonely:   "lonely_turns",
	mood.Playful:  "playful_turns",
	mood.Neutral:  "neutral_turns",
}

// Delta is the not-yet-flushed increment for one character.
type Delta struct {
	Turns       int64
	FailedTurns int64
	ImageTurns  int64
	MoodChanges int64
	ReplyChars  int64
	Moods       map[mood.Mood]int64
	LastTurnAt  time.Time
}

// Accumulator is an explicitly owned in-memory aggregate. It is safe for
// concurrent use.
type Accumulator struct {
	mu     sync.Mutex
	deltas map[uint64]*Delta
}

func NewAccumulator() *Accumulator {
	return &Accumulator{deltas: make(map[uint64]*Delta)}
}

func (a *Accumulator) Record(ev TurnEvent) {
	if ev.CharacterID == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	d, ok := a.deltas[ev.CharacterID]
	if !ok {
		d = &Delta{Moods: make(map[mood.Mood]int64)}
		a.deltas[ev.CharacterID] = d
	}
	d.Turns++
	if ev.Outcome == OutcomeFailed {
		d.FailedTurns++
	}
	if ev.HasImage {
		d.ImageTurns++
	}
	if ev.MoodChanged {
		d.MoodChanges++
	}
	d.ReplyChars += int64(ev.ReplyChars)
	d.Moods[mood.Normalize(ev.Mood)]++
	if ev.At.After(d.LastTurnAt) {
		d.LastTurnAt = ev.At
	}
}

// Drain returns the pending deltas and empties the accumulator.
func (a *Accumulator) Drain() map[uint64]*Delta {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.deltas
	a.deltas = make(map[uint64]*Delta)
	return out
}

// Snapshot copies the pending deltas without clearing them.
func (a *Accumulator) Snapshot() map[uint64]Delta {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[uint64]Delta, len(a.deltas))
	for id, d := range a.deltas {
		cp := *d
		cp.Moods = make(map[mood.Mood]int64, len(d.Moods))
		for m, n := range d.Moods {
			cp.Moods[m] = n
		}
		out[id] = cp
	}
	return out
}

func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deltas = make(map[uint64]*Delta)
}

// Merge puts deltas back, e.g. after a failed flush.
func (a *Accumulator) Merge(deltas map[uint64]*Delta) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, in := range deltas {
		d, ok := a.deltas[id]
		if !ok {
			a.deltas[id] = in
			continue
		}
		d.Turns += in.Turns
		d.FailedTurns += in.FailedTurns
		d.ImageTurns += in.ImageTurns
		d.MoodChanges += in.MoodChanges
		d.ReplyChars += in.ReplyChars
		for m, n := range in.Moods {
			d.Moods[m] += n
		}
		if in.LastTurnAt.After(d.LastTurnAt) {
			d.LastTurnAt = in.LastTurnAt
		}
	}
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

func (s *Store) Get(ctx context.Context, characterID uint64) (*CharacterStat, error) {
	var st CharacterStat
	if err := s.db.WithContext(ctx).First(&st, "character_id = ?", characterID).Error; err != nil {
		return nil, err
	}
	return &st, nil
}

// Flush upserts every delta, adding to the existing counters.
func (s *Store) Flush(ctx context.Context, deltas map[uint64]*Delta) error {
	if len(deltas) == 0 {
		return nil
	}
	now := time.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for id, d := range deltas {
			row := CharacterStat{
				CharacterID: id,
				Turns:       d.Turns,
				FailedTurns: d.FailedTurns,
				ImageTurns:  d.ImageTurns,
				MoodChanges: d.MoodChanges,
				ReplyChars:  d.ReplyChars,
				LastTurnAt:  d.LastTurnAt,
				UpdatedAt:   now,
			}
			assign := map[string]any{
				"turns":        gorm.Expr("turns + ?", d.Turns),
				"failed_turns": gorm.Expr("failed_turns + ?", d.FailedTurns),
				"image_turns":  gorm.Expr("image_turns + ?", d.ImageTurns),
				"mood_changes": gorm.Expr("mood_changes + ?", d.MoodChanges),
				"reply_chars":  gorm.Expr("reply_chars + ?", d.ReplyChars),
				"last_turn_at": d.LastTurnAt,
				"updated_at":   now,
			}
			for m, n := range d.Moods {
				col, ok := moodColumns[m]
				if !ok {
					continue
				}
				setMoodCount(&row, m, n)
				assign[col] = gorm.Expr(col+" + ?", n)
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "character_id"}},
				DoUpdates: clause.Assignments(assign),
			}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func setMoodCount(row *CharacterStat, m mood.Mood, n int64) {
	switch m {
	case mood.Happy:
		row.HappyTurns = n
	case mood.Sad:
		row.SadTurns = n
	case mood.Excited:
		row.ExcitedTurns = n
	case mood.Romantic:
		row.RomanticTurns = n
	case mood.Jealous:
		row.JealousTurns = n
	case mood.Lonely:
		row.LonelyTurns = n
	case mood.Playful:
		row.PlayfulTurns = n
	case mood.Neutral:
		row.NeutralTurns = n
	}
}
