package mood

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed keywords.yaml
var keywordsYAML []byte

// Content classification order. The first pass is checked before the second,
// and inside a pass the first category with a hit wins.
var (
	primaryOrder   = []Mood{Jealous, Sad, Happy, Romantic}
	secondaryOrder = []Mood{Playful, Excited, Lonely}
)

// Keywords holds the lower-cased trigger phrases per mood.
type Keywords struct {
	lists map[Mood][]string
}

// ParseKeywords decodes a YAML document of mood -> phrase list.
func ParseKeywords(data []byte) (*Keywords, error) {
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("mood: parse keywords: %w", err)
	}
	k := &Keywords{lists: make(map[Mood][]string, len(raw))}
	for name, phrases := range raw {
		m := Mood(strings.ToLower(strings.TrimSpace(name)))
		if !m.Valid() {
			return nil, fmt.Errorf("mood: unknown keyword category %q", name)
		}
		out := make([]string, 0, len(phrases))
		for _, p := range phrases {
			p = strings.ToLower(strings.TrimSpace(p))
			if p != "" {
				out = append(out, p)
			}
		}
		k.lists[m] = out
	}
	return k, nil
}

var loadDefault = sync.OnceValues(func() (*Keywords, error) {
	return ParseKeywords(keywordsYAML)
})

// DefaultKeywords returns the embedded keyword tables, parsed once.
func DefaultKeywords() *Keywords {
	k, err := loadDefault()
	if err != nil {
		panic(err)
	}
	return k
}

// Phrases returns the trigger list for m.
func (k *Keywords) Phrases(m Mood) []string {
	return k.lists[m]
}

// Classify returns the first mood whose list has a substring hit in content.
func (k *Keywords) Classify(content string) (Mood, bool) {
	text := strings.ToLower(content)
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	for _, order := range [][]Mood{primaryOrder, secondaryOrder} {
		for _, m := range order {
			for _, p := range k.lists[m] {
				if strings.Contains(text, p) {
					return m, true
				}
			}
		}
	}
	return "", false
}
