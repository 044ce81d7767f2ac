package locale

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"디자인 시안과 QA 테스트 계획을 받아서 개발 배포 준비", "ko"},
		{"ログイン画面のバグを直してください", "ja"},
		{"修复登录页面的错误并部署到生产环境", "zh"},
		{"Add a CHANGELOG.md with an initial entry", "en"},
		{"", "en"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Detect(c.text, ""), "text: %s", c.text)
	}
}

func TestDetectOverrideWins(t *testing.T) {
	assert.Equal(t, "ja", Detect("plain english text", "ja"))
}
