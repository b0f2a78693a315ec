package services

import (
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/territorios-app/territorios/internal/model"
)

type rowVariant int

const (
	// owner, address, number
	rowBasic rowVariant = iota + 1
	// owner, address, number, assignedTo, status[, comments]
	rowExtended
)

type importRow struct {
	Line       int
	Variant    rowVariant
	Owner      string
	Address    string
	Number     string
	AssignedTo string
	Status     model.CallStatus
	Comments   string
}

// splitFields reads one line as a record. Lines containing a tab are tab
// separated, anything else is comma separated. Quoted fields may contain the
// separator.
func splitFields(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = ','
	if strings.Contains(line, "\t") {
		r.Comma = '\t'
	}
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	fields, err := r.Read()
	if err != nil {
		return nil, err
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields, nil
}

// isHeaderRow reports whether fields look like column titles: the number
// column holds no digits at all.
func isHeaderRow(fields []string) bool {
	return len(fields) >= 3 && fields[2] != "" && model.NormalizeNumber(fields[2]) == ""
}

func parseRow(fields []string, line int) (*importRow, error) {
	row := &importRow{Line: line}

	switch len(fields) {
	case 3:
		row.Variant = rowBasic
	case 5, 6:
		row.Variant = rowExtended
	default:
		return nil, fmt.Errorf("expected 3, 5 or 6 fields, got %d", len(fields))
	}

	row.Owner = fields[0]
	row.Address = fields[1]
	row.Number = model.NormalizeNumber(fields[2])
	if row.Number == "" {
		return nil, fmt.Errorf("phone number %q has no digits", fields[2])
	}

	if row.Variant == rowExtended {
		row.AssignedTo = fields[3]
		status, err := model.ParseCallStatus(fields[4])
		if err != nil {
			return nil, fmt.Errorf("unknown call status %q", fields[4])
		}
		row.Status = status
		if len(fields) == 6 {
			row.Comments = fields[5]
		}
	}
	return row, nil
}

// splitLines breaks text into trimmed non-empty lines, keeping the 1-based
// line number of each.
func splitLines(text string) (lines []string, numbers []int) {
	for i, l := range strings.Split(text, "\n") {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, l)
		numbers = append(numbers, i+1)
	}
	return lines, numbers
}
