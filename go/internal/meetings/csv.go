package meetings

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ParseStagesCSV reads stage rows of the form title,duration. A leading
// header row whose first cell is "title" is skipped. Durations may be plain
// seconds ("90"), clock notation ("5:00", "1:05:00") or Go durations ("5m").
func ParseStagesCSV(r io.Reader) ([]CreateStageRequest, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var reqs []CreateStageRequest
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %v: %w", err, ErrValidation)
		}
		line++

		if line == 1 && len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "title") {
			continue
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("line %d: expected title,duration: %w", line, ErrValidation)
		}

		seconds, err := ParseDuration(record[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %v: %w", line, err, ErrValidation)
		}
		reqs = append(reqs, CreateStageRequest{
			Title:       strings.TrimSpace(record[0]),
			DurationSec: seconds,
		})
	}

	if len(reqs) == 0 {
		return nil, fmt.Errorf("csv contains no stages: %w", ErrValidation)
	}
	return reqs, nil
}

// ParseDuration converts a stage duration cell into whole seconds.
func ParseDuration(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return n, nil
	}

	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		if len(parts) > 3 {
			return 0, fmt.Errorf("invalid clock duration %q", s)
		}
		total := 0
		for i, p := range parts {
			n, err := strconv.Atoi(p)
			if err != nil || n < 0 {
				return 0, fmt.Errorf("invalid clock duration %q", s)
			}
			if i > 0 && n >= 60 {
				return 0, fmt.Errorf("invalid clock duration %q", s)
			}
			total = total*60 + n
		}
		return total, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return int(d / time.Second), nil
}
