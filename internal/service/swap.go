package service

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"retailerp/backend/internal/domain"
	"retailerp/backend/internal/xid"
)

func (s *Service) CreateShiftSwap(ctx context.Context, req domain.CreateSwapRequest) (swap domain.ShiftSwap, err error) {
	ctx, done := s.begin(ctx, "swap.create", attribute.String("shift_id", req.ShiftID))
	defer func() { done(err) }()

	requester := s.actor(ctx).UserID
	requestedTo := strings.TrimSpace(req.RequestedTo)
	if requestedTo == "" || requestedTo == requester {
		return domain.ShiftSwap{}, domain.Invalidf("swap must be requested from another user")
	}

	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		shift, err := s.repo.LockShift(ctx, req.ShiftID)
		if err != nil {
			return err
		}
		if shift.UserID != requester {
			return fmt.Errorf("%w: shift %s belongs to %s", domain.ErrForbidden, shift.ID, shift.UserID)
		}
		if shift.Status != domain.ShiftStatusPending && shift.Status != domain.ShiftStatusActive {
			return fmt.Errorf("%w: shift %s is %s", domain.ErrShiftNotActive, shift.ID, shift.Status)
		}
		existing, err := s.repo.ListShiftSwaps(ctx, domain.SwapFilter{ShiftID: shift.ID})
		if err != nil {
			return err
		}
		for _, other := range existing {
			if other.Status.Open() {
				return fmt.Errorf("%w: shift %s already has open swap %s", domain.ErrInvalidSwapState, shift.ID, other.ID)
			}
		}

		swap = domain.ShiftSwap{
			ID:          xid.New("swap"),
			StoreID:     shift.StoreID,
			ShiftID:     shift.ID,
			RequestedBy: requester,
			RequestedTo: requestedTo,
			Reason:      strings.TrimSpace(req.Reason),
			Status:      domain.SwapStatusPending,
			CreatedAt:   s.now(),
		}
		return s.repo.CreateShiftSwap(ctx, swap)
	})
	if err != nil {
		return domain.ShiftSwap{}, err
	}

	s.logAudit(ctx, swap.StoreID, "swap_create", "shift_swap", swap.ID, fmt.Sprintf("shift=%s,to=%s", swap.ShiftID, swap.RequestedTo))
	return swap, nil
}

// AcceptShiftSwap is the requested employee agreeing to take the shift.
func (s *Service) AcceptShiftSwap(ctx context.Context, swapID string) (domain.ShiftSwap, error) {
	return s.stepSwap(ctx, swapID, domain.SwapEventAccept, func(ctx context.Context, swap *domain.ShiftSwap) error {
		actor := s.actor(ctx)
		if actor.UserID != swap.RequestedTo {
			return fmt.Errorf("%w: swap %s was requested from %s", domain.ErrForbidden, swap.ID, swap.RequestedTo)
		}
		now := s.now()
		swap.RespondedAt = &now
		return nil
	})
}

// ManagerApproveShiftSwap hands the shift to the requested employee.
func (s *Service) ManagerApproveShiftSwap(ctx context.Context, swapID string, req domain.SwapDecisionRequest) (domain.ShiftSwap, error) {
	return s.stepSwap(ctx, swapID, domain.SwapEventManagerApprove, func(ctx context.Context, swap *domain.ShiftSwap) error {
		manager, err := s.requireManager(ctx)
		if err != nil {
			return err
		}
		shift, err := s.repo.LockShift(ctx, swap.ShiftID)
		if err != nil {
			return err
		}
		switch shift.Status {
		case domain.ShiftStatusActive:
			active, err := s.repo.FindActiveShiftByUser(ctx, swap.RequestedTo)
			switch {
			case err == nil:
				return fmt.Errorf("%w: %s is already on shift %s", domain.ErrActiveShiftExists, swap.RequestedTo, active.ID)
			case !isNotFound(err):
				return err
			}
		case domain.ShiftStatusPending:
		default:
			return fmt.Errorf("%w: shift %s is %s", domain.ErrShiftNotActive, shift.ID, shift.Status)
		}
		shift.UserID = swap.RequestedTo
		if err := s.repo.UpdateShift(ctx, *shift); err != nil {
			return err
		}

		now := s.now()
		swap.ManagerID = manager.UserID
		swap.ManagerNotes = strings.TrimSpace(req.Notes)
		swap.ApprovedAt = &now
		return nil
	})
}

// RejectShiftSwap may come from the requested employee or a manager.
func (s *Service) RejectShiftSwap(ctx context.Context, swapID string, reason string) (domain.ShiftSwap, error) {
	return s.stepSwap(ctx, swapID, domain.SwapEventReject, func(ctx context.Context, swap *domain.ShiftSwap) error {
		actor := s.actor(ctx)
		if actor.UserID != swap.RequestedTo && !actor.IsManager() {
			return fmt.Errorf("%w: only %s or a manager can reject swap %s", domain.ErrForbidden, swap.RequestedTo, swap.ID)
		}
		now := s.now()
		swap.RejectedBy = actor.UserID
		swap.RejectionReason = strings.TrimSpace(reason)
		swap.RespondedAt = &now
		return nil
	})
}

func (s *Service) CancelShiftSwap(ctx context.Context, swapID string) (domain.ShiftSwap, error) {
	return s.stepSwap(ctx, swapID, domain.SwapEventCancel, func(ctx context.Context, swap *domain.ShiftSwap) error {
		if s.actor(ctx).UserID != swap.RequestedBy {
			return fmt.Errorf("%w: only %s can cancel swap %s", domain.ErrForbidden, swap.RequestedBy, swap.ID)
		}
		return nil
	})
}

func (s *Service) ListPendingSwaps(ctx context.Context, userID string) ([]domain.ShiftSwap, error) {
	if userID = strings.TrimSpace(userID); userID == "" {
		userID = s.actor(ctx).UserID
	}
	return s.repo.ListShiftSwaps(ctx, domain.SwapFilter{RequestedTo: userID, Status: domain.SwapStatusPending})
}

func (s *Service) ListSwapsByStore(ctx context.Context, storeID string) ([]domain.ShiftSwap, error) {
	return s.repo.ListShiftSwaps(ctx, domain.SwapFilter{StoreID: s.storeOrDefault(storeID)})
}

func (s *Service) stepSwap(ctx context.Context, swapID string, event domain.SwapEvent, effects func(ctx context.Context, swap *domain.ShiftSwap) error) (swap domain.ShiftSwap, err error) {
	ctx, done := s.begin(ctx, "swap."+string(event), attribute.String("swap_id", swapID))
	defer func() { done(err) }()

	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		locked, err := s.repo.LockShiftSwap(ctx, swapID)
		if err != nil {
			return err
		}
		swap = *locked
		if err := swap.Apply(event); err != nil {
			return err
		}
		if err := effects(ctx, &swap); err != nil {
			return err
		}
		return s.repo.UpdateShiftSwap(ctx, swap)
	})
	if err != nil {
		return domain.ShiftSwap{}, err
	}

	s.logAudit(ctx, swap.StoreID, "swap_"+string(event), "shift_swap", swap.ID, "status="+string(swap.Status))
	return swap, nil
}
