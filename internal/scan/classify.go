package scan

import (
	"strings"

	"go-pagewatch/internal/data"

	"github.com/pmezard/go-difflib/difflib"
)

// Classify compares the stored snapshot with freshly normalized content.
// It depends only on its arguments.
//
//   - identical text is NONE;
//   - text that only differs in whitespace or in lines matching an ignore
//     pattern is MINOR;
//   - otherwise the changed characters of a line diff decide: below
//     MinChangedChars or below ChangeRatioThreshold of the combined length
//     is MINOR, anything else MAJOR.
func Classify(previous, current string, p Policy) data.ChangeType {
	if previous == current {
		return data.ChangeNone
	}

	a := significantLines(previous, p)
	b := significantLines(current, p)
	if collapse(a) == collapse(b) {
		return data.ChangeMinor
	}

	changed, total := diffSize(a, b)
	if total == 0 || changed < p.MinChangedChars {
		return data.ChangeMinor
	}
	if float64(changed)/float64(total) < p.ChangeRatioThreshold {
		return data.ChangeMinor
	}
	return data.ChangeMajor
}

// significantLines splits text into lines, dropping lines that match an
// ignore pattern.
func significantLines(text string, p Policy) []string {
	lines := difflib.SplitLines(text)
	if len(p.IgnorePatterns) == 0 {
		return lines
	}
	kept := lines[:0:0]
	for _, line := range lines {
		ignored := false
		for _, re := range p.IgnorePatterns {
			if re.MatchString(line) {
				ignored = true
				break
			}
		}
		if !ignored {
			kept = append(kept, line)
		}
	}
	return kept
}

func collapse(lines []string) string {
	return strings.Join(strings.Fields(strings.Join(lines, "")), " ")
}

// diffSize returns the number of characters in replaced, deleted and
// inserted lines, and the combined length of both sides.
func diffSize(a, b []string) (changed, total int) {
	for _, l := range a {
		total += len(l)
	}
	for _, l := range b {
		total += len(l)
	}

	m := difflib.NewMatcher(a, b)
	for _, op := range m.GetOpCodes() {
		if op.Tag == 'e' {
			continue
		}
		for _, l := range a[op.I1:op.I2] {
			changed += len(l)
		}
		for _, l := range b[op.J1:op.J2] {
			changed += len(l)
		}
	}
	return changed, total
}
