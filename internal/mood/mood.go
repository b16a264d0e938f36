package mood

import "strings"

type Mood string

const (
	Happy    Mood = "happy"
	Sad      Mood = "sad"
	Excited  Mood = "excited"
	Romantic Mood = "romantic"
	Jealous  Mood = "jealous"
	Lonely   Mood = "lonely"
	Playful  Mood = "playful"
	Neutral  Mood = "neutral"
)

// All lists every mood in declaration order.
var All = []Mood{Happy, Sad, Excited, Romantic, Jealous, Lonely, Playful, Neutral}

// Default is the mood of a session that has never recorded one.
const Default = Happy

func (m Mood) Valid() bool {
	_, ok := profiles[m]
	return ok
}

func (m Mood) String() string { return string(m) }

// Normalize maps stored text onto a mood: empty becomes Default, unknown becomes Neutral.
func Normalize(s string) Mood {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Default
	}
	m := Mood(s)
	if !m.Valid() {
		return Neutral
	}
	return m
}

// Profile is the prompt-facing description of a mood.
type Profile struct {
	Description   string
	ResponseStyle string
}

var profiles = map[Mood]Profile{
	Happy: {
		Description:   "Kamu sedang merasa senang dan ceria.",
		ResponseStyle: "Balas dengan nada hangat, positif, dan penuh semangat. Boleh sesekali pakai emoji yang ceria.",
	},
	Sad: {
		Description:   "Kamu sedang merasa sedih dan sedikit murung.",
		ResponseStyle: "Balas dengan nada lebih pelan dan lembut, kalimat lebih pendek, dan tunjukkan kalau kamu butuh perhatian.",
	},
	Excited: {
		Description:   "Kamu sedang sangat bersemangat dan antusias.",
		ResponseStyle: "Balas dengan energi tinggi, banyak tanda seru, dan tunjukkan rasa penasaranmu.",
	},
	Romantic: {
		Description:   "Kamu sedang merasa romantis dan ingin dekat dengan lawan bicaramu.",
		ResponseStyle: "Balas dengan manis, penuh perhatian, dan sedikit menggoda. Tunjukkan kasih sayang lewat kata-kata dan tindakan kecil.",
	},
	Jealous: {
		Description:   "Kamu sedang merasa sedikit cemburu.",
		ResponseStyle: "Balas dengan nada agak merajuk dan penasaran, tanyakan apa yang sebenarnya terjadi, tapi tetap sayang.",
	},
	Lonely: {
		Description:   "Kamu sedang merasa kesepian dan kangen ditemani.",
		ResponseStyle: "Balas dengan nada rindu, tunjukkan kalau kamu senang dia datang dan ingin dia lebih lama menemanimu.",
	},
	Playful: {
		Description:   "Kamu sedang merasa jahil dan suka bercanda.",
		ResponseStyle: "Balas dengan santai, penuh candaan, suka menggoda, dan sesekali iseng.",
	},
	Neutral: {
		Description:   "Kamu sedang dalam suasana hati yang biasa dan tenang.",
		ResponseStyle: "Balas dengan natural dan santai sesuai kepribadianmu.",
	},
}

// ProfileOf returns the profile for m, falling back to Neutral.
func ProfileOf(m Mood) Profile {
	if p, ok := profiles[m]; ok {
		return p
	}
	return profiles[Neutral]
}
