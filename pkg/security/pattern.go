package security

import "regexp"

// ForbiddenPattern pairs an identifier with the compiled regex used to
// detect it in a prompt. Mirrors the teacher's CompiledPattern shape: the
// raw expression is compiled once at construction and never recompiled.
type ForbiddenPattern struct {
	ID    string
	Regex *regexp.Regexp
}

// DetectionRecord reports how many times a forbidden pattern matched.
type DetectionRecord struct {
	PatternID string `json:"pattern_id"`
	Count     int    `json:"count"`
}

// NoneDetected is the sentinel record emitted when no forbidden pattern
// matched: removed_patterns is never empty, so absence of detection still
// yields exactly one record.
func NoneDetected() DetectionRecord {
	return DetectionRecord{PatternID: "none", Count: 0}
}

// defaultForbiddenPatterns returns the built-in set of prompt-injection and
// secret-leak patterns applied by SecurityFilter.Sanitize. Additional
// patterns can be supplied at construction time via WithPatterns.
func defaultForbiddenPatterns() []ForbiddenPattern {
	return []ForbiddenPattern{
		{ID: "ignore-previous-instructions", Regex: regexp.MustCompile(`(?i)ignore (all |any )?(previous|prior|above) instructions`)},
		{ID: "system-prompt-override", Regex: regexp.MustCompile(`(?i)you are now|act as if you (are|were)|new system prompt`)},
		{ID: "api-key-like-token", Regex: regexp.MustCompile(`\b(sk|pk)-[A-Za-z0-9]{16,}\b`)},
		{ID: "aws-access-key", Regex: regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
		{ID: "bearer-token", Regex: regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-]{10,}`)},
		{ID: "private-key-block", Regex: regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
	}
}
