// Package alerting implements the alert rule engine: evaluating configured
// rules against freshly analyzed profiles, transactional cooldown dedup, and
// scheduling of the notification fan-out.
package alerting

import (
	"fmt"
	"strings"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
)

// Placeholders the message template may reference. Anything else is a
// configuration error surfaced to the operator.
const (
	PlaceholderStudentName = "student_name"
	PlaceholderRiskLevel   = "risk_level"
	PlaceholderRiskScore   = "risk_score"
)

// RenderTemplate substitutes {placeholder} tokens in the configured message
// template. A reference to an unknown placeholder fails the render: the
// configuration is broken, not the evaluation.
func RenderTemplate(template string, values map[string]string) (string, error) {
	var b strings.Builder
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		close := strings.IndexByte(rest[open:], '}')
		if close < 0 {
			return "", shared.WrapError("alert", "Render", shared.ErrConfiguration,
				fmt.Sprintf("unclosed placeholder near %q", rest[open:]), nil)
		}
		b.WriteString(rest[:open])

		name := rest[open+1 : open+close]
		value, ok := values[name]
		if !ok {
			return "", shared.WrapError("alert", "Render", shared.ErrConfiguration,
				fmt.Sprintf("unknown placeholder {%s}", name), nil)
		}
		b.WriteString(value)
		rest = rest[open+close+1:]
	}
}
