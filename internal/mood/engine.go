package mood

import (
	"math/rand"
	"strings"
	"time"
)

// Triggers are the signals the engine reads for one turn.
type Triggers struct {
	UserResponseTimeMinutes     int
	ConversationLength          int
	TimeSinceLastMessageMinutes int
	UserEngagement              int
	UserMessageContent          string
	MessageCount                int
	// At is the local wall-clock moment of the turn. Zero means the engine clock.
	At time.Time
}

// RandomSource is the subset of *rand.Rand the engine needs.
type RandomSource interface {
	Float64() float64
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.Intn(n) }

const (
	perturbationChance = 0.10
	contentGateEvery   = 5
)

var perturbationMoods = []Mood{Happy, Playful, Excited}

type Engine struct {
	keywords *Keywords
	now      func() time.Time
	rnd      RandomSource
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithRandom(r RandomSource) Option {
	return func(e *Engine) { e.rnd = r }
}

func WithKeywords(k *Keywords) Option {
	return func(e *Engine) { e.keywords = k }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{now: time.Now, rnd: globalRand{}}
	for _, o := range opts {
		o(e)
	}
	if e.keywords == nil {
		e.keywords = DefaultKeywords()
	}
	return e
}

// ComputeMood walks the rule list in order and returns the first rule's mood.
func (e *Engine) ComputeMood(t Triggers, current Mood) Mood {
	if !current.Valid() {
		current = Normalize(string(current))
	}

	if t.MessageCount > 0 && t.MessageCount%contentGateEvery == 0 && strings.TrimSpace(t.UserMessageContent) != "" {
		if m, ok := e.keywords.Classify(t.UserMessageContent); ok {
			return m
		}
	}

	at := t.At
	if at.IsZero() {
		at = e.now()
	}
	hour := at.Hour()

	if hour >= 22 || hour <= 6 {
		if t.TimeSinceLastMessageMinutes > 60 {
			return Lonely
		}
		if t.UserEngagement > 7 {
			return Romantic
		}
	}
	if hour >= 6 && hour <= 10 {
		if t.ConversationLength < 10 {
			return Excited
		}
	}
	if hour >= 14 && hour <= 18 {
		if t.UserEngagement > 5 {
			return Playful
		}
	}

	if t.UserResponseTimeMinutes > 120 {
		return Lonely
	}
	if t.UserResponseTimeMinutes > 30 {
		return Jealous
	}

	if t.ConversationLength > 50 && t.UserEngagement > 7 {
		return Romantic
	}
	if t.UserEngagement > 8 {
		return Happy
	}
	if t.UserEngagement < 3 {
		return Sad
	}

	if e.rnd.Float64() < perturbationChance {
		return perturbationMoods[e.rnd.IntN(len(perturbationMoods))]
	}

	return current
}

// ComputeIntensity returns how strongly m should be expressed, in [1,10].
func (e *Engine) ComputeIntensity(t Triggers, m Mood) int {
	intensity := 5 + t.UserEngagement/2
	if m == Romantic && t.ConversationLength > 30 {
		intensity += 2
	}
	if t.TimeSinceLastMessageMinutes > 60 {
		intensity++
	}
	return clamp(intensity, 1, 10)
}

// EngagementScore rates how engaged the user is, in [1,10].
func EngagementScore(messageCount int, avgResponseMinutes, sessionDurationMinutes float64) int {
	score := 5
	switch {
	case messageCount > 20:
		score += 2
	case messageCount > 10:
		score++
	}
	switch {
	case avgResponseMinutes < 5:
		score += 2
	case avgResponseMinutes < 15:
		score++
	}
	if sessionDurationMinutes > 60 {
		score++
	}
	return clamp(score, 1, 10)
}

func ClampIntensity(n int) int { return clamp(n, 1, 10) }

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
