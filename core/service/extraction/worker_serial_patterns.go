package extraction

import (
	"regexp"
	"sort"
	"strings"
)

var (
	// "Serial: ABC-123", "S/N: XYZ789", "SN# 12345", "numer seryjny: X1Y2Z3"
	labelledPattern = regexp.MustCompile(`(?i)(?:\bserial(?:\s+(?:number|no\.?|nr))?|\bs/n|\bsn|\bnumer\s+seryjny|\bnr\s+seryjny)\s*[:#]\s*([A-Z0-9][A-Z0-9-]{2,19})\b`)

	// "SN12345", "SN-12345"
	prefixedPattern = regexp.MustCompile(`(?i)\bSN-?\d{4,}\b`)

	// bare tokens; only kept when they mix letters and digits
	bareTokenPattern = regexp.MustCompile(`\b[A-Za-z0-9]{5,20}\b`)

	// addresses and links are blanked before the bare scan
	noisePattern = regexp.MustCompile(`(?i)\S+@\S+|https?://\S+|www\.\S+`)

	validSerial = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{2,24}$`)
)

// Placeholders customers and models write instead of a serial.
var noSerialWords = map[string]struct{}{
	"":          {},
	"NONE":      {},
	"NULL":      {},
	"N/A":       {},
	"NA":        {},
	"NO SERIAL": {},
	"UNKNOWN":   {},
	"MISSING":   {},
	"BRAK":      {},
	"NIEZNANY":  {},
	"NIE WIEM":  {},
}

func isNoSerial(s string) bool {
	_, ok := noSerialWords[strings.ToUpper(strings.TrimSpace(s))]
	return ok
}

type candidate struct {
	value  string
	strong bool
	pos    int
}

// findCandidates returns deduplicated serial candidates in reading order.
// A value seen as both strong and weak is kept once, as strong.
func findCandidates(text string) []candidate {
	byValue := make(map[string]*candidate)
	add := func(value string, strong bool, pos int) {
		value = strings.ToUpper(strings.Trim(value, "-"))
		if len(value) < 3 {
			return
		}
		if c, ok := byValue[value]; ok {
			if strong && !c.strong {
				c.strong = true
			}
			if pos < c.pos {
				c.pos = pos
			}
			return
		}
		byValue[value] = &candidate{value: value, strong: strong, pos: pos}
	}

	for _, m := range labelledPattern.FindAllStringSubmatchIndex(text, -1) {
		value := text[m[2]:m[3]]
		// "Serial: unknown" is a label without a serial
		if isNoSerial(value) || !hasDigit(value) {
			continue
		}
		add(value, true, m[2])
	}
	for _, m := range prefixedPattern.FindAllStringIndex(text, -1) {
		add(text[m[0]:m[1]], true, m[0])
	}

	cleaned := noisePattern.ReplaceAllStringFunc(text, func(s string) string {
		return strings.Repeat(" ", len(s))
	})
	for _, m := range bareTokenPattern.FindAllStringIndex(cleaned, -1) {
		token := cleaned[m[0]:m[1]]
		if mixesLettersAndDigits(token) {
			add(token, false, m[0])
		}
	}

	out := make([]candidate, 0, len(byValue))
	for _, c := range byValue {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].pos != out[j].pos {
			return out[i].pos < out[j].pos
		}
		return out[i].value < out[j].value
	})
	return out
}

func mixesLettersAndDigits(s string) bool {
	var letter, digit bool
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digit = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			letter = true
		}
	}
	return letter && digit
}

func hasDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}

func values(cands []candidate) []string {
	if len(cands) == 0 {
		return nil
	}
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.value
	}
	return out
}

func strongOnly(cands []candidate) []candidate {
	var out []candidate
	for _, c := range cands {
		if c.strong {
			out = append(out, c)
		}
	}
	return out
}

// normalize makes "SN-12345" and "sn12345" compare equal.
func normalize(s string) string {
	return strings.ReplaceAll(strings.ToUpper(s), "-", "")
}
