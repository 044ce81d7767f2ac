package delegation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nextlevelbuilder/climpire/internal/store"
)

func TestContainsMention(t *testing.T) {
	assert.True(t, containsMention("ping @design about the mockups", "design"))
	assert.True(t, containsMention("ping @Design about the mockups", "design"))
	assert.True(t, containsMention("@아리아 확인 부탁해요", "아리아"))
	assert.False(t, containsMention("the design team will handle it", "design"))
	assert.False(t, containsMention("anything", ""))
}

func TestStatusIcons(t *testing.T) {
	assert.Equal(t, "✅", statusIcon(store.SubtaskDone))
	assert.Equal(t, "🔄", statusIcon(store.SubtaskInProgress))
	assert.Equal(t, "⛔", statusIcon(store.SubtaskBlocked))
	assert.Equal(t, "⏳", statusIcon(store.SubtaskPending))
}

func TestTaskTitleTruncation(t *testing.T) {
	short := "do the thing"
	assert.Equal(t, short, taskTitle(short))

	long := make([]rune, 300)
	for i := range long {
		long[i] = '가'
	}
	got := taskTitle(string(long))
	assert.Len(t, []rune(got), 120)
}

func TestAckLineLocalization(t *testing.T) {
	assert.Contains(t, ackLine("ko", "카이"), "확인")
	assert.Contains(t, ackLine("en", "Kai"), "Kai")
}

func TestFallbackReplyByLanguage(t *testing.T) {
	for _, lang := range []string{"en", "ko", "ja", "zh"} {
		assert.NotEmpty(t, fallbackReply(lang))
	}
}
