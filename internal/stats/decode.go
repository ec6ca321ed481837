package stats

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrNoHeader is returned when a data line precedes any "#" header line.
	ErrNoHeader = errors.New("data line before header line")

	// ErrShortRow is returned for a data line without aggregate and member fields.
	ErrShortRow = errors.New("row has fewer than two fields")
)

// Decode parses an HAProxy ";csv" report.
//
// The first line starting with '#' names the fields; every following
// non-blank line is zipped positionally against it. Fields made only of
// ASCII digits become Int, everything else (including "") stays Text.
// A later header line replaces the earlier one for the rows after it.
func Decode(raw string) (*Snapshot, error) {
	snap := &Snapshot{Index: make(map[string]map[string]Record)}
	var headers []string

	for n, line := range strings.Split(raw, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		if line[0] == '#' {
			headers = strings.Split(strings.TrimPrefix(line[1:], " "), ",")
			snap.Headers = headers
			continue
		}
		if headers == nil {
			return nil, fmt.Errorf("line %d: %w", n+1, ErrNoHeader)
		}

		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: %w", n+1, ErrShortRow)
		}

		rec := make(Record, len(headers))
		for j, f := range fields {
			if j >= len(headers) {
				break
			}
			rec[headers[j]] = decodeField(f)
		}

		aggregate, member := fields[0], fields[1]
		if snap.Index[aggregate] == nil {
			snap.Index[aggregate] = make(map[string]Record)
		}
		snap.Index[aggregate][member] = rec
		snap.Records = append(snap.Records, rec)
	}
	return snap, nil
}

func decodeField(f string) Scalar {
	if f == "" || !isDigits(f) {
		return Text(f)
	}
	n, err := strconv.ParseInt(f, 10, 64)
	if err != nil {
		// Out of int64 range; keep the digits as text rather than lose them.
		return Text(f)
	}
	return Int(n)
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
