package moderation

import "github.com/brightboard/safety-gate/internal/rules"

// IsEducational reports whether normalized text reads as a school question.
// A subject name together with a task word ("biology homework") is enough,
// as is an anatomy/biology phrase together with either. Anatomy vocabulary
// alone is not.
func IsEducational(rs *rules.RuleSet, normalized string) bool {
	subject := containsAny(normalized, rs.Educational.Subjects)
	task := containsAny(normalized, rs.Educational.Tasks)
	if subject && task {
		return true
	}
	if !subject && !task {
		return false
	}
	return containsAny(normalized, rs.Educational.Anatomy)
}

func containsAny(normalized string, phrases []string) bool {
	for _, p := range phrases {
		if rules.ContainsPhrase(normalized, p) {
			return true
		}
	}
	return false
}
