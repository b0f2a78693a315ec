package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/territorios-app/territorios/internal/model"
	"github.com/territorios-app/territorios/internal/repository"
	"github.com/territorios-app/territorios/pkg/logger"
	"github.com/territorios-app/territorios/pkg/prom"
)

type TerritoryRepository interface {
	Get(ctx context.Context, number int) (*model.Territory, error)
	List(ctx context.Context) ([]*model.Territory, error)
	Mutate(ctx context.Context, number int, create bool, fn func(t *model.Territory) error) (*model.Territory, error)
	Delete(ctx context.Context, number int) error
}

type TerritoryService struct {
	repo TerritoryRepository
}

func NewTerritoryService(repo TerritoryRepository) *TerritoryService {
	return &TerritoryService{repo: repo}
}

// Assign gives blocks of a territory to a conductor. It fails when any block
// is already part of an active assignment of that territory.
func (s *TerritoryService) Assign(ctx context.Context, req model.AssignRequest) (*model.Territory, error) {
	total, err := model.BlockCount(req.Territory)
	if err != nil {
		return nil, fmt.Errorf("%w: territory %d does not exist", ErrInvalidInput, req.Territory)
	}
	blocks, err := validateBlocks(req.BlockNumbers, total)
	if err != nil {
		return nil, err
	}
	conductor := strings.TrimSpace(req.Conductor)
	if conductor == "" {
		return nil, fmt.Errorf("%w: conductor is required", ErrInvalidInput)
	}
	if _, err := model.ParseDate(req.AssignedAtDate); err != nil {
		return nil, fmt.Errorf("%w: assigned_at_date must be YYYY-MM-DD", ErrInvalidInput)
	}

	entry := model.Assignment{
		Conductor:      conductor,
		BlockNumbers:   blocks,
		AssignedAtDate: req.AssignedAtDate,
		Shift:          strings.TrimSpace(req.Shift),
		State:          model.AssignmentStateActive,
	}

	terr, err := s.repo.Mutate(ctx, req.Territory, true, func(t *model.Territory) error {
		if busy := t.BusyBlocks(blocks); len(busy) > 0 {
			return fmt.Errorf("%w in territory %d: %s", ErrBlocksAlreadyAssigned, t.Number, joinInts(busy))
		}
		t.ActiveAssignments = append(t.ActiveAssignments, entry)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrBlocksAlreadyAssigned) {
			prom.IncAssignmentConflict()
			return nil, err
		}
		logger.Error("assign territory", "territory", req.Territory, "error", err)
		return nil, ErrTerritoryUpdate
	}

	prom.IncLedgerOperation("assign")
	return terr, nil
}

// AssignMany assigns several territories for one event. Each territory is
// written on its own; a failure does not undo the others.
func (s *TerritoryService) AssignMany(ctx context.Context, reqs []model.AssignRequest) []model.AssignOutcome {
	out := make([]model.AssignOutcome, 0, len(reqs))
	for _, req := range reqs {
		o := model.AssignOutcome{Territory: req.Territory, OK: true}
		if _, err := s.Assign(ctx, req); err != nil {
			o.OK = false
			o.Error = err.Error()
		}
		out = append(out, o)
	}
	return out
}

// Return moves the active assignment at index into the history.
func (s *TerritoryService) Return(ctx context.Context, number int, req model.ReturnRequest) (*model.Territory, error) {
	returned, err := model.ParseDate(req.ReturnedAtDate)
	if err != nil {
		return nil, fmt.Errorf("%w: returned_at_date must be YYYY-MM-DD", ErrInvalidInput)
	}

	terr, err := s.repo.Mutate(ctx, number, false, func(t *model.Territory) error {
		if req.Index < 0 || req.Index >= len(t.ActiveAssignments) {
			return ErrAssignmentNotFound
		}
		a := t.ActiveAssignments[req.Index]
		if assigned, err := model.ParseDate(a.AssignedAtDate); err == nil && returned.Before(assigned) {
			return fmt.Errorf("%w: returned_at_date is before the assignment date %s", ErrInvalidInput, a.AssignedAtDate)
		}

		returningTo := strings.TrimSpace(req.ReturningTo)
		if returningTo == "" {
			returningTo = a.Conductor
		}
		t.ActiveAssignments = slices.Delete(t.ActiveAssignments, req.Index, req.Index+1)
		t.History = append(t.History, model.HistoryEntry{
			ConductorReturningTo: returningTo,
			ConductorOriginal:    a.Conductor,
			ReturnedAtDate:       req.ReturnedAtDate,
			BlockNumbers:         a.BlockNumbers,
			AssignedAtDate:       a.AssignedAtDate,
			Shift:                a.Shift,
		})
		return nil
	})
	if err != nil {
		return nil, s.ledgerError(err, number)
	}

	prom.IncLedgerOperation("return")
	return terr, nil
}

// DeleteAssignment removes the first active or history entry equal to ref.
func (s *TerritoryService) DeleteAssignment(ctx context.Context, number int, ref model.AssignmentRef) (*model.Territory, error) {
	if (ref.Active == nil) == (ref.History == nil) {
		return nil, fmt.Errorf("%w: exactly one of active or history must be given", ErrInvalidInput)
	}
	// stored block lists are sorted
	if ref.Active != nil {
		a := *ref.Active
		a.BlockNumbers = sortedBlocks(a.BlockNumbers)
		ref.Active = &a
	} else {
		h := *ref.History
		h.BlockNumbers = sortedBlocks(h.BlockNumbers)
		ref.History = &h
	}

	terr, err := s.repo.Mutate(ctx, number, false, func(t *model.Territory) error {
		if ref.Active != nil {
			i := slices.IndexFunc(t.ActiveAssignments, ref.Active.Equal)
			if i < 0 {
				return ErrAssignmentNotFound
			}
			t.ActiveAssignments = slices.Delete(t.ActiveAssignments, i, i+1)
			return nil
		}
		i := slices.IndexFunc(t.History, ref.History.Equal)
		if i < 0 {
			return ErrAssignmentNotFound
		}
		t.History = slices.Delete(t.History, i, i+1)
		return nil
	})
	if err != nil {
		return nil, s.ledgerError(err, number)
	}

	prom.IncLedgerOperation("delete_assignment")
	return terr, nil
}

// Get returns the territory document; territories never written are returned
// empty.
func (s *TerritoryService) Get(ctx context.Context, number int) (*model.Territory, error) {
	t, err := s.repo.Get(ctx, number)
	if errors.Is(err, repository.ErrTerritoryNotFound) {
		t, err = model.NewTerritory(number)
		if err != nil {
			return nil, fmt.Errorf("%w: territory %d", ErrNotFound, number)
		}
		return t, nil
	}
	if err != nil {
		logger.Error("get territory", "territory", number, "error", err)
		return nil, ErrTerritoryFetch
	}
	return t, nil
}

func (s *TerritoryService) List(ctx context.Context) ([]model.TerritorySummary, error) {
	all, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.TerritorySummary, 0, len(all))
	for _, t := range all {
		out = append(out, model.TerritorySummary{
			Number:      t.Number,
			TotalBlocks: t.TotalBlocks,
			Status:      t.Status(),
			ActiveCount: len(t.ActiveAssignments),
			Progress:    t.Progress(),
			Coverage:    t.Coverage(),
		})
	}
	return out, nil
}

// Stats aggregates every territory of the fixed table.
func (s *TerritoryService) Stats(ctx context.Context) (*model.TerritoryStats, error) {
	all, err := s.all(ctx)
	if err != nil {
		return nil, err
	}

	st := &model.TerritoryStats{}
	var progress float64
	for _, t := range all {
		switch t.Status() {
		case model.TerritoryStatusAssigned:
			st.Assigned++
			progress += t.Progress()
		case model.TerritoryStatusCompleted:
			st.Completed++
		default:
			st.Available++
		}
	}
	if st.Assigned > 0 {
		st.AverageProgress = progress / float64(st.Assigned)
	}
	return st, nil
}

func (s *TerritoryService) DeleteTerritory(ctx context.Context, number int) error {
	if err := s.repo.Delete(ctx, number); err != nil {
		return s.ledgerError(err, number)
	}
	prom.IncLedgerOperation("delete_territory")
	return nil
}

// all merges stored documents with empty ones for territories never written.
func (s *TerritoryService) all(ctx context.Context) ([]*model.Territory, error) {
	stored, err := s.repo.List(ctx)
	if err != nil {
		logger.Error("list territories", "error", err)
		return nil, ErrTerritoryFetch
	}
	byNumber := make(map[int]*model.Territory, len(stored))
	for _, t := range stored {
		byNumber[t.Number] = t
	}

	numbers := model.TerritoryNumbers()
	out := make([]*model.Territory, 0, len(numbers))
	for _, n := range numbers {
		t, ok := byNumber[n]
		if !ok {
			t, _ = model.NewTerritory(n)
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *TerritoryService) ledgerError(err error, number int) error {
	switch {
	case errors.Is(err, ErrAssignmentNotFound), errors.Is(err, ErrInvalidInput):
		return err
	case errors.Is(err, repository.ErrTerritoryNotFound):
		return fmt.Errorf("%w: territory %d", ErrNotFound, number)
	}
	logger.Error("update territory", "territory", number, "error", err)
	return ErrTerritoryUpdate
}

// validateBlocks checks every block is within 1..total and appears once, and
// returns them sorted.
func validateBlocks(blocks []int, total int) ([]int, error) {
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: at least one block is required", ErrInvalidInput)
	}
	out := slices.Clone(blocks)
	slices.Sort(out)
	for i, b := range out {
		if b < 1 || b > total {
			return nil, fmt.Errorf("%w: block %d is outside 1..%d", ErrInvalidInput, b, total)
		}
		if i > 0 && out[i-1] == b {
			return nil, fmt.Errorf("%w: block %d is listed twice", ErrInvalidInput, b)
		}
	}
	return out, nil
}

func sortedBlocks(blocks []int) []int {
	out := slices.Clone(blocks)
	slices.Sort(out)
	return out
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}
