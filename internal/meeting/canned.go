package meeting

import "github.com/nextlevelbuilder/climpire/internal/store"

// cannedReplies holds the localized fallback line per turn kind, used
// when a sanitized reply is empty, times out, reads as internal work
// narration, or mismatches the target locale, per spec.md §4.7.2.
var cannedReplies = map[turnKind]map[string]string{
	turnOpening: {
		"en": "Kickoff noted — let's walk through the plan.",
		"ko": "킥오프 확인했습니다. 계획을 살펴보겠습니다.",
		"ja": "キックオフを確認しました。計画を確認しましょう。",
		"zh": "已确认启动,我们来过一遍计划。",
	},
	turnFeedback: {
		"en":  "Feedback acknowledged, no blocking concerns from my side.",
		"ko": "피드백 확인했습니다. 제 쪽에서는 막는 이슈 없습니다.",
		"ja": "フィードバックを確認しました。こちらからのブロック事項はありません。",
		"zh":  "已确认反馈,目前没有阻塞性问题。",
	},
	turnSummaryRevision: {
		"en": "I will consolidate the revision plan and circle back.",
		"ko": "수정 계획을 정리해서 다시 공유하겠습니다.",
		"ja": "修正計画をまとめて共有します。",
		"zh": "我会整理修订计划并再次同步。",
	},
	turnSummaryFinal: {
		"en": "I will consolidate and request final approval now.",
		"ko": "내용을 정리해서 최종 승인을 요청하겠습니다.",
		"ja": "内容をまとめて最終承認を依頼します。",
		"zh": "我会整理内容并申请最终批准。",
	},
	turnApprovalHold: {
		"en": "Holding my approval until the revision lands.",
		"ko": "수정 사항 반영 전까지는 승인 보류하겠습니다.",
		"ja": "修正が反映されるまで承認は保留します。",
		"zh": "在修订落地前暂缓批准。",
	},
	turnApprovalConditional: {
		"en": "I agree, with conditional approval pending the revision.",
		"ko": "수정 조건부로 동의합니다.",
		"ja": "修正を条件に同意します。",
		"zh": "我同意,但以修订为条件。",
	},
	turnApprovalNow: {
		"en": "Approve now, no further changes needed from me.",
		"ko": "지금 승인합니다. 추가로 필요한 사항 없습니다.",
		"ja": "今承認します。追加で必要な事項はありません。",
		"zh": "现在批准,暂无其他需要。",
	},
}

func cannedReply(kind turnKind, language string) string {
	byLang, ok := cannedReplies[kind]
	if !ok {
		return ""
	}
	if line, ok := byLang[language]; ok {
		return line
	}
	return byLang["en"]
}

// deptRoleConstraint restricts a speaker to their department's domain in
// the meeting prompt, per spec.md §4.7.1 (e.g. QA may not write
// production code).
func deptRoleConstraint(departmentID string) string {
	switch departmentID {
	case store.DeptDevelopment:
		return "Speak only to implementation feasibility, architecture, and timeline. Do not weigh in on visual design or marketing copy."
	case store.DeptDesign:
		return "Speak only to UX/UI, visual consistency, and user flows. Do not propose backend architecture or write code."
	case store.DeptQA:
		return "Speak only to test coverage, quality risk, and acceptance criteria. Do not write production code or design UI."
	case store.DeptPlanning:
		return "Speak to scope, priority, and cross-team sequencing. Do not dictate low-level implementation details."
	case store.DeptDevSecOps:
		return "Speak only to security posture, compliance, and deployment safety. Do not design product features."
	case store.DeptOperations:
		return "Speak only to operational readiness, monitoring, and rollout risk. Do not design features or write code."
	default:
		return "Speak only within your department's domain."
	}
}

func meetingLabel(meetingType string) string {
	if meetingType == store.MeetingReview {
		return "[Review Consensus]"
	}
	return "[Planned Approval]"
}
