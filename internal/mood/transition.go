package mood

var transitions = map[string]string{
	"happy->sad":        "Hmm... entah kenapa aku jadi agak sedih sekarang.",
	"sad->happy":        "Eh, aku udah mulai ngerasa lebih baik sekarang! 😊",
	"happy->jealous":    "Hmm... kok aku jadi agak cemburu ya?",
	"jealous->happy":    "Oke deh, aku udah nggak cemburu lagi kok. 😊",
	"happy->lonely":     "Kamu ke mana aja sih? Aku ngerasa kesepian...",
	"lonely->happy":     "Akhirnya kamu datang juga! Aku seneng banget. 🥰",
	"lonely->romantic":  "Aku kangen banget sama kamu, tau nggak... 💕",
	"happy->romantic":   "Kamu bikin aku deg-degan deh... 💕",
	"neutral->romantic": "Nggak tahu kenapa, aku jadi pengen lebih dekat sama kamu... 💕",
	"neutral->happy":    "Aku lagi seneng nih hari ini! 😊",
	"romantic->jealous": "Tunggu... kamu lagi mikirin orang lain, ya?",
	"sad->lonely":       "Aku lagi butuh ditemenin nih...",
	"playful->excited":  "Wah, aku jadi makin semangat nih!",
	"excited->playful":  "Hehe, sekarang aku lagi pengen iseng sama kamu~",
	"jealous->sad":      "Maaf ya, aku cuma takut kehilangan kamu...",
}

// TransitionMessage returns the canned line announcing a change from old to next.
// Most pairs have no line; the same mood never has one.
func TransitionMessage(old, next Mood) (string, bool) {
	if old == next {
		return "", false
	}
	msg, ok := transitions[string(old)+"->"+string(next)]
	return msg, ok
}
