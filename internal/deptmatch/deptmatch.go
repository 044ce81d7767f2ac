// Package deptmatch implements the department keyword scan shared by the
// Delegation Engine and the Meeting Engine, per spec.md §4.9: mentioned
// departments are detected by scanning a directive's text for fixed
// per-department keyword lists, ordered by the position of each
// department's earliest matching keyword in the text.
package deptmatch

import (
	"sort"
	"strings"

	"github.com/nextlevelbuilder/climpire/internal/store"
)

// Keywords lists the fixed keyword set per department, per spec.md §4.9.
var Keywords = map[string][]string{
	store.DeptDevelopment: {"개발", "코딩", "백엔드", "API", "서버", "코드", "버그", "테스트", "dev", "backend", "code", "bug"},
	store.DeptDesign:      {"디자인", "UI", "UX", "목업", "design", "mockup", "시안"},
	store.DeptPlanning:    {"기획", "planning", "PRD", "요구사항", "로드맵"},
	store.DeptQA:          {"QA", "테스트", "품질", "quality", "test", "테스트 계획"},
	store.DeptDevSecOps:   {"보안", "devsecops", "security", "취약점", "vulnerability"},
	store.DeptOperations:  {"운영", "배포", "operations", "deploy", "인프라", "infra", "배포 준비"},
}

// Detect scans text for every department's keywords and returns the
// matched department ids (excluding exclude, if set) ordered by the
// position of each department's earliest match — the order in which a
// human reader would encounter the mentions, per spec.md §8 scenario S2.
func Detect(text, exclude string) []string {
	lower := strings.ToLower(text)

	type hit struct {
		dept string
		pos  int
	}
	var hits []hit
	for dept, keywords := range Keywords {
		if dept == exclude {
			continue
		}
		best := -1
		for _, kw := range keywords {
			idx := strings.Index(lower, strings.ToLower(kw))
			if idx < 0 {
				continue
			}
			if best == -1 || idx < best {
				best = idx
			}
		}
		if best >= 0 {
			hits = append(hits, hit{dept: dept, pos: best})
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.dept)
	}
	return out
}
