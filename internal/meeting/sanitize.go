package meeting

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/climpire/internal/locale"
	"github.com/nextlevelbuilder/climpire/internal/prettyprint"
)

// RevisionRegex is the single multi-lingual union the engine tests a
// leader's feedback reply against to detect a request for revision, per
// spec.md §4.7 step 3 / §9's design note ("keep it a single union of
// multi-lingual tokens, not per-language branches").
var RevisionRegex = regexp.MustCompile(`(?i)보완|수정|보류|리스크|추가.?필요|hold|revise|revision|required|pending|risk|block|保留|修正|补充|暂缓`)

var (
	metaMarkerRe   = regexp.MustCompile(`(?m)^\s*\[(thread|usage|reasoning|tool|spawn_agent|agent_done|mcp|init)[^\]]*\].*$`)
	codeFenceRe    = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe   = regexp.MustCompile("`([^`]*)`")
	shellLineRe    = regexp.MustCompile(`(?m)^\s*\$\s.*$`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
	sentenceSplit  = regexp.MustCompile(`(?s)([^.!?]+[.!?]+)`)
	narrationVerbs = regexp.MustCompile(`(?i)^(i need to|let me|i'll|i will|i'm going to|let's|analyzing|checking|first,? i|now i)\b`)
)

const (
	maxReplyLenDefault = 420
	maxReplyLenMeeting = 360
	maxOfficePreview   = 96
)

// SanitizeReply runs raw CLI output through the stream-JSON pretty
// printer, strips meta markers/tool-call brackets/shell/code fences/
// backticks/narration verbs, collapses whitespace, dedupes sentences
// down to at most two, and truncates to maxLen runes, per spec.md
// §4.7.2. An empty return means the caller must fall back to a canned
// reply.
func SanitizeReply(raw, provider, targetLanguage string, maxLen int) string {
	text := prettyprint.Render(provider, raw)

	text = codeFenceRe.ReplaceAllString(text, "")
	text = metaMarkerRe.ReplaceAllString(text, "")
	text = shellLineRe.ReplaceAllString(text, "")
	text = inlineCodeRe.ReplaceAllString(text, "$1")
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	sentences := dedupeSentences(splitSentences(text))
	if len(sentences) > 2 {
		sentences = sentences[:2]
	}
	text = strings.TrimSpace(strings.Join(sentences, " "))

	if text == "" {
		return ""
	}
	if looksLikeNarration(text) {
		return ""
	}
	if targetLanguage != "" && targetLanguage != "en" && isMostlyASCII(text) && len([]rune(text)) > 20 {
		return ""
	}

	return truncateRunes(text, maxLen)
}

func splitSentences(text string) []string {
	matches := sentenceSplit.FindAllString(text, -1)
	if matches == nil && text != "" {
		return []string{text}
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

func dedupeSentences(sentences []string) []string {
	seen := make(map[string]bool, len(sentences))
	out := make([]string, 0, len(sentences))
	for _, s := range sentences {
		key := strings.ToLower(strings.TrimSpace(s))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func looksLikeNarration(text string) bool {
	for _, sentence := range splitSentences(text) {
		if narrationVerbs.MatchString(strings.TrimSpace(sentence)) {
			return true
		}
	}
	return false
}

func isMostlyASCII(text string) bool {
	var ascii, total int
	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			continue
		}
		total++
		if r < 128 {
			ascii++
		}
	}
	if total == 0 {
		return false
	}
	return float64(ascii)/float64(total) > 0.8
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// truncateWidth caps s at cols display columns, so CJK office-bubble
// previews take the same visual space as ASCII ones.
func truncateWidth(s string, cols int) string {
	return runewidth.Truncate(s, cols, "…")
}

// DetectLanguage is re-exported for callers composing prompts outside
// this package.
func DetectLanguage(text, override string) string { return locale.Detect(text, override) }
