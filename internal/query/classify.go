package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

var (
	lastWeekRe   = regexp.MustCompile(`(?i)\b(?:last|past)\s+week\b`)
	lastNDaysRe  = regexp.MustCompile(`(?i)\b(?:last|past)\s+(\d{1,4})\s+days?\b`)
	recentlyRe   = regexp.MustCompile(`(?i)\brecently\b`)
	betweenRe    = regexp.MustCompile(`(?i)\bbetween\s+(\S+)\s+and\s+(\S+)`)
	fromOnRe     = regexp.MustCompile(`(?i)\b(?:from|on)\s+(\S+)`)
	showNoteRe   = regexp.MustCompile(`(?i)^show\s+note\s+(.+)$`)
	// Year-first only, so version numbers like 1.20.3 are not dates.
	dateLikeRe   = regexp.MustCompile(`^\d{4}[-/.]\d{1,2}[-/.]\d{1,2}$`)
	fillerTokens = map[string]struct{}{
		"from": {}, "in": {}, "during": {}, "over": {}, "for": {}, "of": {}, "the": {},
		"my": {}, "notes": {}, "note": {}, "on": {}, "about": {}, "what": {}, "did": {},
		"i": {}, "do": {}, "write": {}, "wrote": {}, "a": {},
	}
)

const trimCutset = " \t\r\n.,;:!?\"'()"

// Classify maps raw to exactly one Intent. It is pure: known reports whether
// an id exists, today anchors relative dates, and windowDays sizes "recently".
// Rules are tried in order and the first match wins.
func Classify(raw string, known func(id string) bool, today models.Date, windowDays int) Intent {
	in := strings.TrimSpace(raw)
	base := Intent{Raw: raw}

	// 1. exact note id
	if in != "" && known != nil && known(in) {
		base.Kind, base.ID = IntentExactID, in
		return base
	}

	// 2. rolling window
	if days, rest, ok := rollingWindow(in, windowDays); ok {
		base.Kind, base.Days, base.SubQuery = IntentRollingWindow, days, subQuery(rest)
		return base
	}

	// 3. date range
	if m := betweenRe.FindStringSubmatch(in); m != nil {
		a, b := strings.Trim(m[1], trimCutset), strings.Trim(m[2], trimCutset)
		if dateToken(a) || dateToken(b) {
			base.Kind = IntentDateRange
			start, err1 := parseLiteral(a, today)
			end, err2 := parseLiteral(b, today)
			if err1 != nil || err2 != nil {
				base.Err = firstErr(err1, err2)
				return base
			}
			if end.Before(start) {
				start, end = end, start
			}
			base.Start, base.End = start, end
			return base
		}
	}

	// 4. exact date
	for _, m := range fromOnRe.FindAllStringSubmatch(in, -1) {
		tok := strings.Trim(m[1], trimCutset)
		if !dateToken(tok) {
			continue
		}
		base.Kind = IntentDateExact
		d, err := parseLiteral(tok, today)
		if err != nil {
			base.Err = err
			return base
		}
		base.Start, base.End = d, d
		return base
	}

	// 5. substring
	if m := showNoteRe.FindStringSubmatch(in); m != nil {
		if term := strings.Trim(m[1], trimCutset); term != "" {
			base.Kind, base.Term = IntentSubstring, term
			return base
		}
	}

	// 6. semantic
	base.Kind, base.Text = IntentSemantic, in
	return base
}

// Today returns the local calendar date of t.
func Today(t time.Time) models.Date {
	return models.DateOf(t.Local())
}

func rollingWindow(in string, windowDays int) (int, string, bool) {
	if loc := lastNDaysRe.FindStringSubmatchIndex(in); loc != nil {
		n, err := strconv.Atoi(in[loc[2]:loc[3]])
		if err == nil && n > 0 {
			return n, in[:loc[0]] + " " + in[loc[1]:], true
		}
	}
	if loc := lastWeekRe.FindStringIndex(in); loc != nil {
		return 7, in[:loc[0]] + " " + in[loc[1]:], true
	}
	if loc := recentlyRe.FindStringIndex(in); loc != nil && windowDays > 0 {
		return windowDays, in[:loc[0]] + " " + in[loc[1]:], true
	}
	return 0, "", false
}

// subQuery strips punctuation and leading/trailing filler words from what
// is left of a rolling-window query.
func subQuery(rest string) string {
	words := strings.Fields(rest)
	for i := range words {
		words[i] = strings.Trim(words[i], trimCutset)
	}
	isFiller := func(w string) bool {
		if w == "" {
			return true
		}
		_, ok := fillerTokens[strings.ToLower(w)]
		return ok
	}
	for len(words) > 0 && isFiller(words[0]) {
		words = words[1:]
	}
	for len(words) > 0 && isFiller(words[len(words)-1]) {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

// dateToken reports whether tok is meant as a date: a numeric date shape
// (strictly parsed later) or yesterday/today.
func dateToken(tok string) bool {
	switch strings.ToLower(tok) {
	case "yesterday", "today":
		return true
	}
	return dateLikeRe.MatchString(tok)
}

func parseLiteral(tok string, today models.Date) (models.Date, error) {
	switch strings.ToLower(tok) {
	case "today":
		return today, nil
	case "yesterday":
		return today.AddDays(-1), nil
	}
	d, err := models.ParseDate(tok)
	if err != nil {
		return models.Date{}, fmt.Errorf("%w: %q (want %s)", apperr.ErrBadDateFormat, tok, models.DateLayout)
	}
	return d, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
