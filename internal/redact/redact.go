// Package redact masks personal data in free-form text before it is
// persisted in execution logs or action errors.
package redact

import (
	"regexp"
	"sort"
	"strings"
)

// Kind names a category of personal data
type Kind string

const (
	KindEmail  Kind = "email"
	KindPhone  Kind = "phone"
	KindSSN    Kind = "ssn"
	KindCard   Kind = "card"
	KindSecret Kind = "secret"
)

// Match is one detected span in the input
type Match struct {
	Kind  Kind
	Start int
	End   int
}

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	// separators are required so timestamps and ids are left alone
	phonePattern = regexp.MustCompile(`(?:\+1[ .\-])?\(?\b[0-9]{3}\)?[ .\-][0-9]{3}[ .\-][0-9]{4}\b`)

	ssnPattern = regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`)

	cardPattern = regexp.MustCompile(`\b(?:[0-9][ \-]?){12,18}[0-9]\b`)

	secretPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-\.=]{20,}`),
		regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`),
		regexp.MustCompile(`(?i)(?:api[_\-]?key|access[_\-]?token|password|secret)["']?\s*[:=]\s*["']?[^\s"',}]{8,}`),
		regexp.MustCompile(`(?i)(?:postgres|postgresql|mysql|redis)://[^\s:/@]+:[^\s@]+@[^\s'"]+`),
	}
)

// Find returns the non-overlapping personal data spans in s, in order
func Find(s string) []Match {
	var found []Match
	add := func(kind Kind, re *regexp.Regexp, keep func(string) bool) {
		for _, loc := range re.FindAllStringIndex(s, -1) {
			if keep != nil && !keep(s[loc[0]:loc[1]]) {
				continue
			}
			found = append(found, Match{Kind: kind, Start: loc[0], End: loc[1]})
		}
	}

	for _, re := range secretPatterns {
		add(KindSecret, re, nil)
	}
	add(KindEmail, emailPattern, nil)
	add(KindCard, cardPattern, luhnValid)
	add(KindSSN, ssnPattern, plausibleSSN)
	add(KindPhone, phonePattern, nil)

	sort.SliceStable(found, func(i, j int) bool { return found[i].Start < found[j].Start })

	out := found[:0]
	end := -1
	for _, m := range found {
		if m.Start < end {
			continue
		}
		out = append(out, m)
		end = m.End
	}
	return out
}

// Contains reports whether s holds any personal data
func Contains(s string) bool {
	return len(Find(s)) > 0
}

// String replaces every detected span with a placeholder naming its kind
func String(s string) string {
	matches := Find(s)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m.Start])
		b.WriteString(placeholder(m.Kind))
		last = m.End
	}
	b.WriteString(s[last:])
	return b.String()
}

func placeholder(k Kind) string {
	return "[" + strings.ToUpper(string(k)) + "_REDACTED]"
}

func plausibleSSN(s string) bool {
	digits := strings.ReplaceAll(s, "-", "")
	if digits[:3] == "000" || digits[3:5] == "00" || digits[5:] == "0000" {
		return false
	}
	return !strings.HasPrefix(digits, "666") && !strings.HasPrefix(digits, "9")
}

func luhnValid(s string) bool {
	sum, n := 0, 0
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c == ' ' || c == '-' {
			continue
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		n++
		double = !double
	}
	return n >= 13 && n <= 19 && sum%10 == 0
}
