package model

import (
	"errors"
	"slices"
	"sort"
	"time"
)

const (
	DateLayout = "2006-01-02"

	AssignmentStateActive = "active"
)

const (
	TerritoryStatusAvailable = "available"
	TerritoryStatusAssigned  = "assigned"
	TerritoryStatusCompleted = "completed"
)

// territoryBlocks is the fixed block count of every territory in the congregation.
var territoryBlocks = map[int]int{
	1: 12, 2: 9, 3: 15, 4: 10, 5: 8, 6: 14, 7: 11, 8: 13, 9: 7, 10: 16, 11: 9,
	12: 12, 13: 10, 14: 8, 15: 11, 16: 14, 17: 6, 18: 9, 19: 13, 20: 10, 21: 12, 22: 8,
}

var ErrUnknownTerritory = errors.New("unknown territory")

// TerritoryNumbers returns the configured territories in ascending order.
func TerritoryNumbers() []int {
	out := make([]int, 0, len(territoryBlocks))
	for n := range territoryBlocks {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// BlockCount returns the number of blocks of territory n.
func BlockCount(n int) (int, error) {
	c, ok := territoryBlocks[n]
	if !ok {
		return 0, ErrUnknownTerritory
	}
	return c, nil
}

// ParseDate validates a YYYY-MM-DD date string.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

type Assignment struct {
	Conductor      string `json:"conductor"`
	BlockNumbers   []int  `json:"block_numbers"`
	AssignedAtDate string `json:"assigned_at_date"`
	Shift          string `json:"shift,omitempty"`
	State          string `json:"state"`
}

func (a Assignment) Equal(o Assignment) bool {
	return a.Conductor == o.Conductor &&
		a.AssignedAtDate == o.AssignedAtDate &&
		a.Shift == o.Shift &&
		a.State == o.State &&
		slices.Equal(a.BlockNumbers, o.BlockNumbers)
}

type HistoryEntry struct {
	ConductorReturningTo string `json:"conductor_returning_to"`
	ConductorOriginal    string `json:"conductor_original"`
	ReturnedAtDate       string `json:"returned_at_date"`
	BlockNumbers         []int  `json:"block_numbers"`
	AssignedAtDate       string `json:"assigned_at_date"`
	Shift                string `json:"shift,omitempty"`
}

func (h HistoryEntry) Equal(o HistoryEntry) bool {
	return h.ConductorReturningTo == o.ConductorReturningTo &&
		h.ConductorOriginal == o.ConductorOriginal &&
		h.ReturnedAtDate == o.ReturnedAtDate &&
		h.AssignedAtDate == o.AssignedAtDate &&
		h.Shift == o.Shift &&
		slices.Equal(h.BlockNumbers, o.BlockNumbers)
}

type Territory struct {
	Number            int            `json:"number"`
	TotalBlocks       int            `json:"total_blocks"`
	ActiveAssignments []Assignment   `json:"active_assignments"`
	History           []HistoryEntry `json:"history"`
	LastModified      time.Time      `json:"last_modified"`
	Version           int64          `json:"-"`
}

// NewTerritory returns the empty document for territory n.
func NewTerritory(n int) (*Territory, error) {
	blocks, err := BlockCount(n)
	if err != nil {
		return nil, err
	}
	return &Territory{
		Number:            n,
		TotalBlocks:       blocks,
		ActiveAssignments: []Assignment{},
		History:           []HistoryEntry{},
	}, nil
}

// BusyBlocks returns the blocks of blocks that already belong to an active
// assignment, in ascending order.
func (t *Territory) BusyBlocks(blocks []int) []int {
	active := make(map[int]struct{})
	for _, a := range t.ActiveAssignments {
		for _, b := range a.BlockNumbers {
			active[b] = struct{}{}
		}
	}
	var busy []int
	for _, b := range blocks {
		if _, ok := active[b]; ok {
			busy = append(busy, b)
		}
	}
	sort.Ints(busy)
	return slices.Compact(busy)
}

// Progress is the share of blocks held by active assignments, from 0 to 1.
func (t *Territory) Progress() float64 {
	if t.TotalBlocks == 0 {
		return 0
	}
	held := 0
	for _, a := range t.ActiveAssignments {
		held += len(a.BlockNumbers)
	}
	return float64(held) / float64(t.TotalBlocks)
}

// Coverage is the share of blocks, in percent, that appear in at least one
// returned assignment.
func (t *Territory) Coverage() float64 {
	if t.TotalBlocks == 0 {
		return 0
	}
	worked := make(map[int]struct{})
	for _, h := range t.History {
		for _, b := range h.BlockNumbers {
			if b >= 1 && b <= t.TotalBlocks {
				worked[b] = struct{}{}
			}
		}
	}
	return float64(len(worked)) * 100 / float64(t.TotalBlocks)
}

// Status derives the territory state: assigned while any assignment is
// active, completed once it has returned history and nothing active.
func (t *Territory) Status() string {
	switch {
	case len(t.ActiveAssignments) > 0:
		return TerritoryStatusAssigned
	case len(t.History) > 0:
		return TerritoryStatusCompleted
	default:
		return TerritoryStatusAvailable
	}
}

type AssignRequest struct {
	Territory      int    `json:"territory"`
	BlockNumbers   []int  `json:"block_numbers"`
	Conductor      string `json:"conductor"`
	AssignedAtDate string `json:"assigned_at_date"`
	Shift          string `json:"shift,omitempty"`
}

type ReturnRequest struct {
	Index          int    `json:"index"`
	ReturnedAtDate string `json:"returned_at_date"`
	ReturningTo    string `json:"returning_to,omitempty"`
}

// AssignmentRef identifies an entry by value. Exactly one of Active or History
// is set.
type AssignmentRef struct {
	Active  *Assignment   `json:"active,omitempty"`
	History *HistoryEntry `json:"history,omitempty"`
}

// AssignOutcome is the per-territory result of a multi-territory assignment.
type AssignOutcome struct {
	Territory int    `json:"territory"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

type TerritoryStats struct {
	Assigned        int     `json:"assigned"`
	Completed       int     `json:"completed"`
	Available       int     `json:"available"`
	AverageProgress float64 `json:"average_progress"`
}

// TerritorySummary is the list view of one territory.
type TerritorySummary struct {
	Number      int     `json:"number"`
	TotalBlocks int     `json:"total_blocks"`
	Status      string  `json:"status"`
	ActiveCount int     `json:"active_count"`
	Progress    float64 `json:"progress"`
	Coverage    float64 `json:"coverage"`
}
