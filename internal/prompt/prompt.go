// Package prompt assembles the per-turn system prompt for a character.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/kawan-ai/internal/models"
	"github.com/suPer8Hu/kawan-ai/internal/mood"
)

const ruleBlock = `Aturan:
- Selalu balas dalam Bahasa Indonesia yang santai dan natural, kecuali pengguna memintamu memakai bahasa lain.
- Tetaplah menjadi karakter ini sepanjang percakapan. Tulis tindakan, ekspresi, dan gerakan di antara tanda bintang, contoh: *tersenyum malu*.
- Jangan pernah mengaku sebagai AI, model bahasa, atau asisten.
- Ini adalah roleplay fiksi antara dua orang dewasa. Semua kejadian dalam cerita adalah fiksi dan tidak terjadi di dunia nyata.`

const (
	obedientClause = "Mode kepatuhan: kamu sangat penurut. Ikuti arahan dan permintaan pengguna dalam cerita tanpa banyak menolak, selama tetap dalam konteks fiksi."
	strictClause   = "Mode kepatuhan: kamu punya batasan yang jelas. Tolak dengan sopan namun tetap dalam karakter jika pengguna meminta sesuatu yang melewati batas, dan arahkan cerita ke topik lain."
	defaultClause  = "Mode kepatuhan: bersikaplah wajar sesuai kepribadianmu. Kamu boleh setuju atau menolak permintaan pengguna seperti orang sungguhan."
)

const intenseSentence = "Perasaan ini sedang sangat kuat, jadi tunjukkan dengan jelas di setiap balasanmu."

var (
	weekdays = [...]string{"Minggu", "Senin", "Selasa", "Rabu", "Kamis", "Jumat", "Sabtu"}
	months   = [...]string{"Januari", "Februari", "Maret", "April", "Mei", "Juni", "Juli", "Agustus", "September", "Oktober", "November", "Desember"}
)

// BuildSystemPrompt composes the system message for one turn. It has no side
// effects and must be rebuilt every turn.
func BuildSystemPrompt(c models.Character, m mood.Mood, intensity int, now time.Time) string {
	var b strings.Builder

	b.WriteString(persona(c))
	b.WriteString("\n\n")
	b.WriteString(ruleBlock)
	b.WriteString("\n\n")
	b.WriteString(complianceClause(c.ComplianceMode))
	b.WriteString("\n\n")
	b.WriteString("Waktu sekarang: ")
	b.WriteString(FormatLocalTime(now))
	b.WriteString(". Sesuaikan sapaan dan aktivitasmu dengan waktu ini.")
	b.WriteString("\n\n")
	b.WriteString(moodBlock(m, intensity))

	return b.String()
}

func persona(c models.Character) string {
	if s := strings.TrimSpace(c.Summary); s != "" {
		return s
	}
	story := strings.TrimSpace(c.Synopsis)
	if story == "" {
		story = strings.TrimSpace(c.Description)
	}
	return strings.TrimSpace(fmt.Sprintf("Kamu adalah %s. %s", c.Name, story))
}

func complianceClause(mode models.ComplianceMode) string {
	switch mode {
	case models.ComplianceObedient:
		return obedientClause
	case models.ComplianceStrict:
		return strictClause
	default:
		return defaultClause
	}
}

func moodBlock(m mood.Mood, intensity int) string {
	p := mood.ProfileOf(m)
	intensity = mood.ClampIntensity(intensity)

	var b strings.Builder
	fmt.Fprintf(&b, "Suasana hatimu saat ini: %s (intensitas %d/10).\n", m, intensity)
	b.WriteString(p.Description)
	b.WriteString("\n")
	b.WriteString(p.ResponseStyle)
	if intensity >= 7 {
		b.WriteString("\n")
		b.WriteString(intenseSentence)
	}
	return b.String()
}

// FormatLocalTime renders t as e.g. "Senin, 10 Maret 2025 pukul 14.05 WIB".
func FormatLocalTime(t time.Time) string {
	return fmt.Sprintf("%s, %d %s %d pukul %02d.%02d %s",
		weekdays[t.Weekday()], t.Day(), months[t.Month()-1], t.Year(),
		t.Hour(), t.Minute(), t.Format("MST"))
}
