package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"retailerp/backend/internal/domain"
)

func cloneTransfer(src domain.StockTransfer) domain.StockTransfer {
	dst := src
	dst.Items = slices.Clone(src.Items)
	return dst
}

func (s *Store) CreateTransfer(ctx context.Context, transfer domain.StockTransfer) error {
	defer s.wlock(ctx)()

	if transfer.ID == "" {
		return domain.Invalidf("transfer id is required")
	}
	if _, exists := s.transfers[transfer.ID]; exists {
		return domain.Invalidf("transfer %s already exists", transfer.ID)
	}
	remember(ctx, s.transfers, transfer.ID)
	s.transfers[transfer.ID] = cloneTransfer(transfer)
	return nil
}

func (s *Store) GetTransfer(ctx context.Context, id string) (*domain.StockTransfer, error) {
	defer s.rlock(ctx)()

	transfer, ok := s.transfers[id]
	if !ok {
		return nil, fmt.Errorf("%w: transfer %s", domain.ErrNotFound, id)
	}
	transfer = cloneTransfer(transfer)
	return &transfer, nil
}

func (s *Store) LockTransfer(ctx context.Context, id string) (*domain.StockTransfer, error) {
	return s.GetTransfer(ctx, id)
}

func (s *Store) UpdateTransfer(ctx context.Context, transfer domain.StockTransfer) error {
	defer s.wlock(ctx)()

	if _, ok := s.transfers[transfer.ID]; !ok {
		return fmt.Errorf("%w: transfer %s", domain.ErrNotFound, transfer.ID)
	}
	remember(ctx, s.transfers, transfer.ID)
	s.transfers[transfer.ID] = cloneTransfer(transfer)
	return nil
}

func (s *Store) ListTransfers(ctx context.Context, filter domain.TransferFilter) ([]domain.StockTransfer, error) {
	defer s.rlock(ctx)()

	result := make([]domain.StockTransfer, 0, 16)
	for _, transfer := range s.transfers {
		if filter.StoreID != "" && transfer.From.StoreID != filter.StoreID && transfer.To.StoreID != filter.StoreID {
			continue
		}
		if filter.Status != "" && transfer.Status != filter.Status {
			continue
		}
		result = append(result, cloneTransfer(transfer))
	}
	slices.SortFunc(result, func(a, b domain.StockTransfer) int {
		if c := newestFirst(a.RequestedAt, b.RequestedAt); c != 0 {
			return c
		}
		return cmpString(b.ID, a.ID)
	})
	return truncate(result, filter.Limit), nil
}

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) error {
	defer s.wlock(ctx)()

	if shift.ID == "" {
		return domain.Invalidf("shift id is required")
	}
	if shift.Status == domain.ShiftStatusActive && s.activeShiftOf(shift.UserID, "") != nil {
		return fmt.Errorf("%w: user %s", domain.ErrActiveShiftExists, shift.UserID)
	}
	remember(ctx, s.shifts, shift.ID)
	s.shifts[shift.ID] = shift
	return nil
}

func (s *Store) GetShift(ctx context.Context, id string) (*domain.Shift, error) {
	defer s.rlock(ctx)()

	shift, ok := s.shifts[id]
	if !ok {
		return nil, fmt.Errorf("%w: shift %s", domain.ErrNotFound, id)
	}
	return &shift, nil
}

func (s *Store) LockShift(ctx context.Context, id string) (*domain.Shift, error) {
	return s.GetShift(ctx, id)
}

// UpdateShift enforces one ACTIVE shift per user, as the postgres partial
// unique index does.
func (s *Store) UpdateShift(ctx context.Context, shift domain.Shift) error {
	defer s.wlock(ctx)()

	if _, ok := s.shifts[shift.ID]; !ok {
		return fmt.Errorf("%w: shift %s", domain.ErrNotFound, shift.ID)
	}
	if shift.Status == domain.ShiftStatusActive && s.activeShiftOf(shift.UserID, shift.ID) != nil {
		return fmt.Errorf("%w: user %s", domain.ErrActiveShiftExists, shift.UserID)
	}
	remember(ctx, s.shifts, shift.ID)
	s.shifts[shift.ID] = shift
	return nil
}

func (s *Store) FindActiveShiftByUser(ctx context.Context, userID string) (*domain.Shift, error) {
	defer s.rlock(ctx)()

	shift := s.activeShiftOf(userID, "")
	if shift == nil {
		return nil, fmt.Errorf("%w: active shift for %s", domain.ErrNotFound, userID)
	}
	return shift, nil
}

func (s *Store) activeShiftOf(userID string, exceptID string) *domain.Shift {
	for _, shift := range s.shifts {
		if shift.UserID == userID && shift.Status == domain.ShiftStatusActive && shift.ID != exceptID {
			found := shift
			return &found
		}
	}
	return nil
}

func (s *Store) ListShifts(ctx context.Context, filter domain.ShiftFilter) ([]domain.Shift, error) {
	defer s.rlock(ctx)()

	result := make([]domain.Shift, 0, 16)
	for _, shift := range s.shifts {
		if filter.StoreID != "" && shift.StoreID != filter.StoreID {
			continue
		}
		if filter.UserID != "" && shift.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && shift.Status != filter.Status {
			continue
		}
		if filter.Date != "" && shift.ShiftDate != filter.Date {
			continue
		}
		result = append(result, shift)
	}
	slices.SortFunc(result, func(a, b domain.Shift) int {
		if a.StartedAt.Equal(b.StartedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.StartedAt.Before(b.StartedAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) CreateShiftSwap(ctx context.Context, swap domain.ShiftSwap) error {
	defer s.wlock(ctx)()

	if swap.ID == "" {
		return domain.Invalidf("shift swap id is required")
	}
	remember(ctx, s.swaps, swap.ID)
	s.swaps[swap.ID] = swap
	return nil
}

func (s *Store) GetShiftSwap(ctx context.Context, id string) (*domain.ShiftSwap, error) {
	defer s.rlock(ctx)()

	swap, ok := s.swaps[id]
	if !ok {
		return nil, fmt.Errorf("%w: shift swap %s", domain.ErrNotFound, id)
	}
	return &swap, nil
}

func (s *Store) LockShiftSwap(ctx context.Context, id string) (*domain.ShiftSwap, error) {
	return s.GetShiftSwap(ctx, id)
}

func (s *Store) UpdateShiftSwap(ctx context.Context, swap domain.ShiftSwap) error {
	defer s.wlock(ctx)()

	if _, ok := s.swaps[swap.ID]; !ok {
		return fmt.Errorf("%w: shift swap %s", domain.ErrNotFound, swap.ID)
	}
	remember(ctx, s.swaps, swap.ID)
	s.swaps[swap.ID] = swap
	return nil
}

func (s *Store) ListShiftSwaps(ctx context.Context, filter domain.SwapFilter) ([]domain.ShiftSwap, error) {
	defer s.rlock(ctx)()

	result := make([]domain.ShiftSwap, 0, 8)
	for _, swap := range s.swaps {
		if filter.StoreID != "" && swap.StoreID != filter.StoreID {
			continue
		}
		if filter.ShiftID != "" && swap.ShiftID != filter.ShiftID {
			continue
		}
		if filter.RequestedBy != "" && swap.RequestedBy != filter.RequestedBy {
			continue
		}
		if filter.RequestedTo != "" && swap.RequestedTo != filter.RequestedTo {
			continue
		}
		if filter.Status != "" && swap.Status != filter.Status {
			continue
		}
		result = append(result, swap)
	}
	slices.SortFunc(result, func(a, b domain.ShiftSwap) int {
		return newestFirst(a.CreatedAt, b.CreatedAt)
	})
	return result, nil
}

func (s *Store) CreateLoginEvent(ctx context.Context, event domain.LoginEvent) error {
	defer s.wlock(ctx)()

	if event.ID == "" {
		return domain.Invalidf("login event id is required")
	}
	rememberLen(ctx, &s.loginEvents)
	s.loginEvents = append(s.loginEvents, event)
	return nil
}

func (s *Store) ListLoginEvents(ctx context.Context, userID string, from time.Time, to time.Time) ([]domain.LoginEvent, error) {
	defer s.rlock(ctx)()

	result := make([]domain.LoginEvent, 0, 8)
	for _, event := range s.loginEvents {
		if userID != "" && event.UserID != userID {
			continue
		}
		if !inWindow(event.At, from, to) {
			continue
		}
		result = append(result, event)
	}
	return result, nil
}

func businessDayKey(storeID string, date string) string {
	return storeID + "|" + date
}

func (s *Store) GetBusinessDay(ctx context.Context, storeID string, date string) (*domain.BusinessDay, error) {
	defer s.rlock(ctx)()

	day, ok := s.businessDays[businessDayKey(storeID, date)]
	if !ok {
		return nil, fmt.Errorf("%w: business day %s %s", domain.ErrNotFound, storeID, date)
	}
	return &day, nil
}

func (s *Store) SaveBusinessDay(ctx context.Context, day domain.BusinessDay) error {
	defer s.wlock(ctx)()

	key := businessDayKey(day.StoreID, day.Date)
	remember(ctx, s.businessDays, key)
	s.businessDays[key] = day
	return nil
}
