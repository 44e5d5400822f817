// Package normalize converts heterogeneous raw poll text into typed values.
// Each normalizer is a pure function over one field: a small closed set of
// patterns tried in fixed priority order, never a guessing fallback.
package normalize

import (
	"regexp"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/wahldaten/poll-pipeline/internal/model"
)

// DateRange is a parsed survey period. A single-date period has Start == End.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Known survey-date patterns, most specific first. Ranges accept a hyphen or
// an en-dash between the dates.
var (
	singleDateRe = regexp.MustCompile(`^\s*(\d{1,2})\.(\d{1,2})\.(\d{4})\s*$`)
	fullRangeRe  = regexp.MustCompile(`^\s*(\d{1,2})\.(\d{1,2})\.\s*[-–]\s*(\d{1,2})\.(\d{1,2})\.(\d{4})\s*$`)
	shortRangeRe = regexp.MustCompile(`^\s*(\d{1,2})\.\s*[-–]\s*(\d{1,2})\.(\d{1,2})\.(\d{4})\s*$`)
)

// Date parses a single DD.MM.YYYY date.
func Date(text string) (time.Time, error) {
	m := singleDateRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, eris.Wrapf(model.ErrMalformedDate, "date %q", text)
	}
	d, err := makeDate(m[3], m[2], m[1])
	if err != nil {
		return time.Time{}, eris.Wrapf(model.ErrMalformedDate, "date %q: %v", text, err)
	}
	return d, nil
}

// SurveyPeriod parses a survey period: a single date, a full range
// DD.MM.-DD.MM.YYYY, or an abbreviated range DD.-DD.MM.YYYY where only the
// end carries month and year.
//
// Abbreviated starts inherit the end's month and year unless the start day
// exceeds the end day, in which case the start falls in the previous month;
// a January end rolls the start back into December of the prior year. Full
// ranges whose start month exceeds the end month cross a year boundary the
// same way.
func SurveyPeriod(text string) (DateRange, error) {
	if m := singleDateRe.FindStringSubmatch(text); m != nil {
		d, err := makeDate(m[3], m[2], m[1])
		if err != nil {
			return DateRange{}, eris.Wrapf(model.ErrMalformedDate, "survey period %q: %v", text, err)
		}
		return DateRange{Start: d, End: d}, nil
	}

	if m := fullRangeRe.FindStringSubmatch(text); m != nil {
		end, err := makeDate(m[5], m[4], m[3])
		if err != nil {
			return DateRange{}, eris.Wrapf(model.ErrMalformedDate, "survey period %q: %v", text, err)
		}
		startYear := end.Year()
		startMonth := atoi(m[2])
		if startMonth > int(end.Month()) {
			startYear--
		}
		start, err := makeYMD(startYear, startMonth, atoi(m[1]))
		if err != nil {
			return DateRange{}, eris.Wrapf(model.ErrMalformedDate, "survey period %q: %v", text, err)
		}
		return checkOrder(text, DateRange{Start: start, End: end})
	}

	if m := shortRangeRe.FindStringSubmatch(text); m != nil {
		end, err := makeDate(m[4], m[3], m[2])
		if err != nil {
			return DateRange{}, eris.Wrapf(model.ErrMalformedDate, "survey period %q: %v", text, err)
		}
		startDay := atoi(m[1])
		startYear, startMonth := end.Year(), int(end.Month())
		if startDay > end.Day() {
			startMonth--
			if startMonth < 1 {
				startMonth = 12
				startYear--
			}
		}
		start, err := makeYMD(startYear, startMonth, startDay)
		if err != nil {
			return DateRange{}, eris.Wrapf(model.ErrMalformedDate, "survey period %q: %v", text, err)
		}
		return checkOrder(text, DateRange{Start: start, End: end})
	}

	return DateRange{}, eris.Wrapf(model.ErrMalformedDate, "survey period %q", text)
}

// checkOrder rejects ranges whose computed start still falls after the end.
func checkOrder(text string, r DateRange) (DateRange, error) {
	if r.Start.After(r.End) {
		return DateRange{}, eris.Wrapf(model.ErrMalformedDate, "survey period %q: start after end", text)
	}
	return r, nil
}

func makeDate(year, month, day string) (time.Time, error) {
	return makeYMD(atoi(year), atoi(month), atoi(day))
}

// makeYMD builds a UTC calendar date, rejecting values time.Date would
// silently normalize (e.g. 31.02. becoming 02.03.).
func makeYMD(year, month, day int) (time.Time, error) {
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Year() != year || int(d.Month()) != month || d.Day() != day {
		return time.Time{}, eris.Errorf("no such date %04d-%02d-%02d", year, month, day)
	}
	return d, nil
}

func atoi(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}
