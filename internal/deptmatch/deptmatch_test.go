package deptmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nextlevelbuilder/climpire/internal/store"
)

func TestDetectOrdersByEarliestMatch(t *testing.T) {
	got := Detect("디자인 시안과 QA 테스트 계획을 받아서 개발 준비", store.DeptPlanning)
	assert.Equal(t, []string{store.DeptDesign, store.DeptQA, store.DeptDevelopment}, got)
}

func TestDetectExcludesOwnDepartment(t *testing.T) {
	got := Detect("백엔드 코드 버그 수정", store.DeptDevelopment)
	assert.NotContains(t, got, store.DeptDevelopment)
}

func TestDetectEnglishKeywords(t *testing.T) {
	got := Detect("fix the backend bug, then have QA write a test plan and deploy", "")
	assert.Contains(t, got, store.DeptDevelopment)
	assert.Contains(t, got, store.DeptQA)
	assert.Contains(t, got, store.DeptOperations)
}

func TestDetectNoMentions(t *testing.T) {
	assert.Empty(t, Detect("hello there", ""))
}
