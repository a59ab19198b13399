// Package codec translates between wire lines and session messages.
//
// Inbound lines are decoded tolerantly: anything that does not look like a
// control verb, a progress number or a key/value pair is a log line, and a
// recognized line with a malformed payload still yields a log message next to
// its *model.ParseError. A single line never fails a session.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/carthingy/carthingy/internal/query/model"
)

// Control verbs.
const (
	VerbQuery    = "QUERY"
	VerbProgress = "PROGRESS"
	VerbError    = "ERROR"
	VerbLog      = "LOG"
	VerbDone     = "DONE"

	flagKnown = "KNOWN"
	flagNew   = "NEW"
	kindPlate = "PLATE"
	kindText  = "TEXT"

	unspecifiedBackendError = "unspecified backend error"
)

var (
	terminalMarkers = map[string]struct{}{VerbDone: {}, "END": {}, "FINISHED": {}}

	progressPattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*%?$`)
	fieldPattern    = regexp.MustCompile(`^(\+)?([a-z][a-z0-9_\-]*)\s*:\s*(.*)$`)

	errEmptyEntry = errors.New("empty list entry")

	// ErrFractional is returned by ParseNumber for values with a decimal part.
	ErrFractional = errors.New("fractional values are not supported")
)

// Decode turns one raw line into a SessionMessage.
// When err is non-nil it is a *model.ParseError and msg is a log message carrying the raw line.
func Decode(line string) (model.SessionMessage, error) {
	raw := strings.TrimRight(line, "\r\n")
	text := strings.TrimSpace(raw)

	if _, ok := terminalMarkers[text]; ok {
		return model.SessionMessage{Kind: model.KindDone, Raw: raw}, nil
	}

	verb, rest := splitVerb(text)
	switch verb {
	case VerbError:
		reason := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), ":"))
		if reason == "" {
			reason = unspecifiedBackendError
		}
		return model.SessionMessage{Kind: model.KindError, Text: reason, Raw: raw}, nil
	case VerbProgress:
		pct, err := parsePercentage(rest)
		if err != nil {
			return malformed(raw, err)
		}
		return model.SessionMessage{Kind: model.KindProgress, Percentage: pct, Raw: raw}, nil
	case VerbLog:
		return model.SessionMessage{Kind: model.KindLog, Text: strings.TrimSpace(rest), Raw: raw}, nil
	}

	if m := progressPattern.FindStringSubmatch(text); m != nil {
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return malformed(raw, err)
		}
		return model.SessionMessage{Kind: model.KindProgress, Percentage: pct, Raw: raw}, nil
	}

	if m := fieldPattern.FindStringSubmatch(text); m != nil {
		appendOnly, key, value := m[1] == "+", model.CanonicalKey(m[2]), strings.TrimSpace(m[3])
		if appendOnly || model.IsListCategory(key) {
			entry, err := decodeEntry(key, value)
			if err != nil {
				return malformed(raw, err)
			}
			return model.SessionMessage{Kind: model.KindListAppend, Key: key, Value: value, Entry: entry, Raw: raw}, nil
		}
		return model.SessionMessage{Kind: model.KindFieldUpdate, Key: key, Value: value, Raw: raw}, nil
	}

	return model.SessionMessage{Kind: model.KindLog, Text: raw, Raw: raw}, nil
}

// EncodeQuery renders the outbound request line.
func EncodeQuery(q model.Query) (string, error) {
	id := q.NormalizedIdentifier()
	if id == "" {
		return "", model.ErrEmptyQuery
	}
	flag, kind := flagNew, kindPlate
	if q.Known {
		flag = flagKnown
	}
	if q.FreeText {
		kind = kindText
	}
	return fmt.Sprintf("%s %s %s %s", VerbQuery, flag, kind, id), nil
}

// DecodeQuery parses a line produced by EncodeQuery.
func DecodeQuery(line string) (model.Query, error) {
	fields := strings.SplitN(strings.TrimSpace(line), " ", 4)
	if len(fields) != 4 || fields[0] != VerbQuery {
		return model.Query{}, &model.ParseError{Line: line, Err: errors.New("not a query line")}
	}

	var q model.Query
	switch fields[1] {
	case flagKnown:
		q.Known = true
	case flagNew:
	default:
		return model.Query{}, &model.ParseError{Line: line, Err: fmt.Errorf("unknown lookup flag %q", fields[1])}
	}
	switch fields[2] {
	case kindText:
		q.FreeText = true
	case kindPlate:
	default:
		return model.Query{}, &model.ParseError{Line: line, Err: fmt.Errorf("unknown identifier kind %q", fields[2])}
	}

	q.Identifier = fields[3]
	q.Identifier = q.NormalizedIdentifier()
	if q.Identifier == "" {
		return model.Query{}, &model.ParseError{Line: line, Err: model.ErrEmptyQuery}
	}
	return q, nil
}

func splitVerb(text string) (string, string) {
	i := strings.IndexAny(text, " :\t")
	if i < 0 {
		return text, ""
	}
	verb := text[:i]
	if verb != strings.ToUpper(verb) {
		return "", text
	}
	return verb, text[i:]
}

func parsePercentage(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), ":"))
	s = strings.TrimSuffix(s, "%")
	pct, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return 0, fmt.Errorf("percentage %q is not a finite number", s)
	}
	return pct, nil
}

func malformed(raw string, err error) (model.SessionMessage, error) {
	return model.SessionMessage{Kind: model.KindLog, Text: raw, Raw: raw}, &model.ParseError{Line: raw, Err: err}
}

// decodeEntry decodes the structured payload of a list append.
// Categories the codec does not know keep the raw value; the aggregator reports them.
func decodeEntry(category, value string) (any, error) {
	if value == "" {
		return nil, errEmptyEntry
	}

	switch category {
	case model.ListRestriction:
		return value, nil

	case model.ListAccident:
		var e model.AccidentEntry
		if isJSONObject(value) {
			if err := json.Unmarshal([]byte(value), &e); err != nil {
				return nil, fmt.Errorf("accident entry: %w", err)
			}
			return e, nil
		}
		date, role, _ := strings.Cut(value, "|")
		e.Date, e.Role = strings.TrimSpace(date), strings.TrimSpace(role)
		return e, nil

	case model.ListInspection:
		var e model.InspectionEntry
		if isJSONObject(value) {
			if err := json.Unmarshal([]byte(value), &e); err != nil {
				return nil, fmt.Errorf("inspection entry: %w", err)
			}
			return e, nil
		}
		e.Name = value
		return e, nil

	case model.ListMileage:
		return decodeMileage(value)
	}

	return value, nil
}

func decodeMileage(value string) (model.MileageEntry, error) {
	var e model.MileageEntry
	if isJSONObject(value) {
		if err := json.Unmarshal([]byte(value), &e); err != nil {
			return e, fmt.Errorf("mileage entry: %w", err)
		}
		return e, nil
	}

	date, reading, ok := strings.Cut(value, "=")
	if !ok {
		return e, fmt.Errorf("mileage entry %q: want <date>=<value>", value)
	}
	n, err := ParseNumber(reading)
	if err != nil {
		return e, fmt.Errorf("mileage entry: %w", err)
	}
	e.Date, e.Value = strings.TrimSpace(date), n
	return e, nil
}

// ParseNumber parses an integer that may carry thousands separators and a unit suffix ("123 456 km").
// '.' and ',' only count as thousands separators when followed by exactly three digits;
// anything else is a decimal part and yields ErrFractional ("1.6 l").
func ParseNumber(s string) (int, error) {
	var b strings.Builder
	// group counts digits since the last '.' or ','; -1 outside such a group.
	group := -1
	fractional := func() (int, error) {
		return 0, fmt.Errorf("%w: %q", ErrFractional, s)
	}

scan:
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			if group >= 0 {
				group++
			}
		case r == ',' || r == '.':
			if b.Len() == 0 {
				break scan
			}
			if group >= 0 && group != 3 {
				return fractional()
			}
			group = 0
		case r == ' ' || r == '\u00a0':
			if group >= 0 && group != 3 {
				return fractional()
			}
			group = -1
		default:
			break scan
		}
	}
	if group >= 0 && group != 3 {
		return fractional()
	}
	if b.Len() == 0 {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return strconv.Atoi(b.String())
}

func isJSONObject(s string) bool {
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}
