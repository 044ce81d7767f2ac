// Package locale derives a task's working language from its text, per
// spec.md §4.7.1.
package locale

// Detect returns "ko", "ja", "zh", or "en" based on Unicode-range
// character ratios in text: Hangul > 15% → ko, Hiragana/Katakana > 15% →
// ja, Han > 30% → zh, else en. override, if non-empty, short-circuits
// detection (the persisted "language" setting).
func Detect(text, override string) string {
	if override != "" {
		return override
	}

	var hangul, kana, han, total int
	for _, r := range text {
		switch {
		case r == ' ' || r == '\n' || r == '\t':
			continue
		case isHangul(r):
			hangul++
		case isKana(r):
			kana++
		case isHan(r):
			han++
		}
		total++
	}
	if total == 0 {
		return "en"
	}

	if float64(hangul)/float64(total) > 0.15 {
		return "ko"
	}
	if float64(kana)/float64(total) > 0.15 {
		return "ja"
	}
	if float64(han)/float64(total) > 0.30 {
		return "zh"
	}
	return "en"
}

func isHangul(r rune) bool {
	return (r >= 0xAC00 && r <= 0xD7A3) || (r >= 0x1100 && r <= 0x11FF) || (r >= 0x3130 && r <= 0x318F)
}

func isKana(r rune) bool {
	return (r >= 0x3040 && r <= 0x309F) || (r >= 0x30A0 && r <= 0x30FF)
}

func isHan(r rune) bool {
	return r >= 0x4E00 && r <= 0x9FFF
}
