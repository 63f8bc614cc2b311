package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SanitizedResult is the output of SecurityFilter.Sanitize.
type SanitizedResult struct {
	SanitizedText   string            `json:"sanitized_text"`
	RedactionMap    map[string]string `json:"redaction_map"`
	RemovedPatterns []DetectionRecord `json:"removed_patterns"`
	OriginalLength  int               `json:"original_length"`
}

const maskedTokenWidth = 32

// Filter sanitizes prompts before they reach an LLM: it normalizes control
// sequences, neutralizes zero-width characters, and masks any fragment
// matching a forbidden pattern. Created once at startup (stateless aside
// from its compiled pattern set), safe for concurrent use.
type Filter struct {
	patterns []ForbiddenPattern
	hashMode bool
}

// NewFilter constructs a SecurityFilter. hashMode selects between opaque
// counter-based mask tokens and masked:sha256:<hex8> tokens derived from the
// redacted fragment itself.
func NewFilter(hashMode bool) *Filter {
	return &Filter{
		patterns: defaultForbiddenPatterns(),
		hashMode: hashMode,
	}
}

// Sanitize normalizes and masks forbidden fragments in text, returning the
// sanitized text alongside a record of everything that was redacted.
func (f *Filter) Sanitize(text string) SanitizedResult {
	originalLength := len([]rune(text))

	normalized := normalizeControlSequences(text)

	result := SanitizedResult{
		RedactionMap:    make(map[string]string),
		RemovedPatterns: nil,
		OriginalLength:  originalLength,
	}

	sanitized := normalized
	for _, pattern := range f.patterns {
		matches := pattern.Regex.FindAllString(sanitized, -1)
		if len(matches) == 0 {
			continue
		}

		record := DetectionRecord{PatternID: pattern.ID, Count: len(matches)}
		result.RemovedPatterns = append(result.RemovedPatterns, record)

		sanitized = pattern.Regex.ReplaceAllStringFunc(sanitized, func(match string) string {
			token := f.maskToken(match)
			result.RedactionMap[token] = match
			return token
		})
	}

	if len(result.RemovedPatterns) == 0 {
		result.RemovedPatterns = []DetectionRecord{NoneDetected()}
	}

	result.SanitizedText = sanitized

	slog.Debug("prompt sanitized",
		"original_length", originalLength,
		"patterns_matched", len(result.RemovedPatterns),
		"redactions", len(result.RedactionMap))

	return result
}

// maskToken builds the replacement token for a redacted fragment: a fixed
// 8-character opaque identifier (or a sha256-derived one in hash mode),
// padded or truncated to exactly 32 UTF-8 code points.
func (f *Filter) maskToken(fragment string) string {
	var token string
	if f.hashMode {
		sum := sha256.Sum256([]byte(fragment))
		token = "masked:sha256:" + hex.EncodeToString(sum[:])[:8]
	} else {
		sum := sha256.Sum256([]byte(fragment))
		token = "masked:" + hex.EncodeToString(sum[:])[:8]
	}
	return fitToRuneWidth(token, maskedTokenWidth)
}

// fitToRuneWidth pads with trailing '=' or truncates so that s occupies
// exactly width UTF-8 code points.
func fitToRuneWidth(s string, width int) string {
	runes := []rune(s)
	if len(runes) >= width {
		return string(runes[:width])
	}
	return s + strings.Repeat("=", width-len(runes))
}

// normalizeControlSequences converts CRLF to LF, strips NUL and zero-width
// characters, then applies Unicode NFC normalization.
func normalizeControlSequences(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == 0 || isZeroWidth(r) {
			continue
		}
		b.WriteRune(r)
	}

	return norm.NFC.String(b.String())
}

const (
	zeroWidthSpace      = '​'
	zeroWidthNonJoiner  = '‌'
	zeroWidthJoiner     = '‍'
	byteOrderMark       = '﻿'
	softHyphen          = '­'
)

func isZeroWidth(r rune) bool {
	switch r {
	case zeroWidthSpace, zeroWidthNonJoiner, zeroWidthJoiner, byteOrderMark:
		return true
	default:
		return unicode.Is(unicode.Cf, r) && r != softHyphen
	}
}
