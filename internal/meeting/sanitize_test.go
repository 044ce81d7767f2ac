package meeting

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRevisionRegexMultilingual(t *testing.T) {
	hits := []string{
		"보완 필요합니다",
		"이 부분은 수정해야 합니다",
		"리스크가 있어 보류하겠습니다",
		"I'd hold this until QA signs off",
		"needs revision before we ship",
		"there is a real risk here",
		"修正が必要です",
		"这里需要补充说明",
		"建议暂缓上线",
	}
	for _, s := range hits {
		assert.True(t, RevisionRegex.MatchString(s), "expected revision match: %s", s)
	}

	misses := []string{
		"looks great, approve now",
		"좋습니다, 승인합니다",
		"問題ありません",
	}
	for _, s := range misses {
		assert.False(t, RevisionRegex.MatchString(s), "unexpected revision match: %s", s)
	}
}

func TestSanitizeReplyStripsNoise(t *testing.T) {
	raw := "Here is the plan.\n```bash\nrm -rf /tmp/x\n```\n[tool: Bash] ls -la\n$ make build\nHere is the plan."
	got := SanitizeReply(raw, "claude", "en", 360)
	assert.NotContains(t, got, "```")
	assert.NotContains(t, got, "[tool:")
	assert.NotContains(t, got, "make build")
	// Duplicate sentences collapse to one.
	assert.Equal(t, 1, strings.Count(got, "Here is the plan."))
}

func TestSanitizeReplyRejectsNarration(t *testing.T) {
	got := SanitizeReply("Let me check the repository structure first.", "claude", "en", 360)
	assert.Empty(t, got, "work narration must fall through to the canned reply")
}

func TestSanitizeReplyRejectsLocaleMismatch(t *testing.T) {
	english := "I think the overall plan is fine and we should proceed with it."
	got := SanitizeReply(english, "claude", "ko", 360)
	assert.Empty(t, got, "long English reply for a ko meeting falls back to canned")

	korean := "계획 확인했습니다. 진행하셔도 됩니다."
	got = SanitizeReply(korean, "claude", "ko", 360)
	assert.NotEmpty(t, got)
}

func TestSanitizeReplyKeepsAtMostTwoSentences(t *testing.T) {
	raw := "First point stands. Second point stands. Third point stands. Fourth point stands."
	got := SanitizeReply(raw, "claude", "en", 360)
	assert.LessOrEqual(t, strings.Count(got, "."), 2)
}

func TestCannedReplyLocalization(t *testing.T) {
	assert.Contains(t, cannedReply(turnApprovalNow, "en"), "Approve")
	assert.NotEmpty(t, cannedReply(turnApprovalNow, "ko"))
	assert.NotEmpty(t, cannedReply(turnSummaryRevision, "ja"))
	// Unknown language falls back to English.
	assert.Equal(t, cannedReply(turnFeedback, "en"), cannedReply(turnFeedback, "fr"))
}

func TestTruncateWidthCJK(t *testing.T) {
	s := "회의록을 정리해서 공유하겠습니다"
	got := truncateWidth(s, 10)
	assert.NotEqual(t, s, got)
}
