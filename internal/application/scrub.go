package application

import (
	"regexp"
	"strings"
)

const redacted = "[hidden]"

var (
	emailPattern  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?\d[\d\s().\-]{8,}\d`)
	handlePattern = regexp.MustCompile(`(^|[^\w@])@[A-Za-z0-9_]{3,}`)
	datePattern   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}|\d{2}\.\d{2}\.\d{4}`)
)

// scrubIdentity removes contact details and the sender's display name from
// relayed text. Display name matching ignores case and respects letter
// boundaries in any script.
func scrubIdentity(text, displayName string) string {
	text = emailPattern.ReplaceAllString(text, redacted)
	text = phonePattern.ReplaceAllStringFunc(text, func(match string) string {
		if looksLikePhone(match) {
			return redacted
		}
		return match
	})
	text = handlePattern.ReplaceAllString(text, "${1}"+redacted)

	for _, name := range nameVariants(displayName) {
		re, err := regexp.Compile(`(?i)(^|[^\p{L}\p{N}_])` + regexp.QuoteMeta(name) + `($|[^\p{L}\p{N}_])`)
		if err != nil {
			continue
		}
		text = re.ReplaceAllString(text, "${1}"+redacted+"${2}")
	}
	return text
}

// nameVariants returns the full display name followed by its parts that are
// long enough to identify someone.
func nameVariants(displayName string) []string {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil
	}
	variants := []string{displayName}
	for _, part := range strings.Fields(displayName) {
		if len([]rune(part)) >= 3 && part != displayName {
			variants = append(variants, part)
		}
	}
	return variants
}

// looksLikePhone rejects dates and short digit runs caught by phonePattern.
func looksLikePhone(s string) bool {
	if datePattern.MatchString(s) {
		return false
	}
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 10 && digits <= 15
}
