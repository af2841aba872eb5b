package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"retailerp/backend/internal/domain"
	"retailerp/backend/internal/events"
	"retailerp/backend/internal/xid"
)

func (s *Service) StartShift(ctx context.Context, req domain.StartShiftRequest) (shift domain.Shift, err error) {
	ctx, done := s.begin(ctx, "shift.start")
	defer func() { done(err) }()

	actor := s.actor(ctx)
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = actor.UserID
	}
	if userID != actor.UserID && !actor.IsManager() {
		return domain.Shift{}, fmt.Errorf("%w: only managers start shifts for other users", domain.ErrForbidden)
	}
	if req.StartingCash.IsNegative() {
		return domain.Shift{}, domain.Invalidf("starting cash cannot be negative")
	}

	now := s.now()
	shift = domain.Shift{
		ID:                xid.New("shift"),
		StoreID:           s.storeOrDefault(req.StoreID),
		UserID:            userID,
		ShiftDate:         now.Format(dateLayout),
		ExpectedStartTime: req.ExpectedStartTime,
		ExpectedEndTime:   req.ExpectedEndTime,
		StartedAt:         now,
		StartingCash:      domain.Money(req.StartingCash),
		Status:            domain.ShiftStatusPending,
		Notes:             strings.TrimSpace(req.Notes),
	}
	if err := shift.Apply(domain.ShiftEventStart); err != nil {
		return domain.Shift{}, err
	}

	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		active, err := s.repo.FindActiveShiftByUser(ctx, userID)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s since %s", domain.ErrActiveShiftExists, active.ID, active.StartedAt.Format(time.RFC3339))
		case !isNotFound(err):
			return err
		}
		if err := s.repo.CreateShift(ctx, shift); err != nil {
			return err
		}
		return s.recordLoginEvent(ctx, userID, shift.StoreID, shift.ID, domain.LoginEventShiftStart)
	})
	if err != nil {
		return domain.Shift{}, err
	}

	s.logAudit(ctx, shift.StoreID, "shift_start", "shift", shift.ID, fmt.Sprintf("user=%s,starting_cash=%s", userID, shift.StartingCash.StringFixed(2)))
	s.publish(ctx, events.TypeShiftStarted, shift.StoreID, shift.ID, shift)
	return shift, nil
}

// EndShift closes an active shift. Without a supplied expectation the drawer is
// expected to hold the starting cash plus the net cash the shift's cashier
// took at the store since the shift started.
func (s *Service) EndShift(ctx context.Context, shiftID string, req domain.EndShiftRequest) (shift domain.Shift, err error) {
	ctx, done := s.begin(ctx, "shift.end", attribute.String("shift_id", shiftID))
	defer func() { done(err) }()

	if req.EndingCash.IsNegative() {
		return domain.Shift{}, domain.Invalidf("ending cash cannot be negative")
	}
	actor := s.actor(ctx)

	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		locked, err := s.repo.LockShift(ctx, shiftID)
		if err != nil {
			return err
		}
		shift = *locked
		if shift.UserID != actor.UserID && !actor.IsManager() {
			return fmt.Errorf("%w: shift %s belongs to %s", domain.ErrForbidden, shift.ID, shift.UserID)
		}
		if shift.Status != domain.ShiftStatusActive {
			return fmt.Errorf("%w: shift %s is %s", domain.ErrShiftNotActive, shift.ID, shift.Status)
		}

		now := s.now()
		expected := shift.StartingCash
		if req.ExpectedCash != nil {
			expected = *req.ExpectedCash
		} else {
			cash, err := s.repo.ListPayments(ctx, domain.PaymentFilter{
				StoreID:   shift.StoreID,
				CashierID: shift.UserID,
				Type:      domain.PaymentCash,
				From:      shift.StartedAt,
				To:        now.Add(time.Nanosecond),
			})
			if err != nil {
				return err
			}
			expected = expected.Add(netAmount(cash))
		}
		if err := shift.Close(actor.UserID, req.EndingCash, expected, now); err != nil {
			return err
		}
		if notes := strings.TrimSpace(req.Notes); notes != "" {
			shift.Notes = strings.TrimSpace(shift.Notes + "\n" + notes)
		}
		if err := s.repo.UpdateShift(ctx, shift); err != nil {
			return err
		}
		return s.recordLoginEvent(ctx, shift.UserID, shift.StoreID, shift.ID, domain.LoginEventShiftEnd)
	})
	if err != nil {
		return domain.Shift{}, err
	}

	s.logAudit(ctx, shift.StoreID, "shift_end", "shift", shift.ID, fmt.Sprintf("expected=%s,ending=%s,difference=%s", shift.ExpectedCash.StringFixed(2), shift.EndingCash.StringFixed(2), shift.CashDifference.StringFixed(2)))
	s.publish(ctx, events.TypeShiftEnded, shift.StoreID, shift.ID, shift)
	return shift, nil
}

func (s *Service) CancelShift(ctx context.Context, shiftID string, reason string) (shift domain.Shift, err error) {
	ctx, done := s.begin(ctx, "shift.cancel", attribute.String("shift_id", shiftID))
	defer func() { done(err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Shift{}, domain.Invalidf("cancel reason is required")
	}
	actor, err := s.requireManager(ctx)
	if err != nil {
		return domain.Shift{}, err
	}

	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		locked, err := s.repo.LockShift(ctx, shiftID)
		if err != nil {
			return err
		}
		shift = *locked
		if err := shift.Apply(domain.ShiftEventCancel); err != nil {
			return err
		}
		now := s.now()
		shift.EndedAt = &now
		shift.EndedBy = actor.UserID
		shift.Notes = strings.TrimSpace(shift.Notes + "\ncancelled: " + reason)
		return s.repo.UpdateShift(ctx, shift)
	})
	if err != nil {
		return domain.Shift{}, err
	}

	s.logAudit(ctx, shift.StoreID, "shift_cancel", "shift", shift.ID, "reason="+reason)
	return shift, nil
}

func (s *Service) GetShift(ctx context.Context, shiftID string) (domain.Shift, error) {
	shift, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return domain.Shift{}, err
	}
	return *shift, nil
}

func (s *Service) ActiveShifts(ctx context.Context, storeID string) ([]domain.Shift, error) {
	return s.repo.ListShifts(ctx, domain.ShiftFilter{StoreID: s.storeOrDefault(storeID), Status: domain.ShiftStatusActive})
}

func (s *Service) ShiftsByDate(ctx context.Context, storeID string, date string) ([]domain.Shift, error) {
	day, err := parseDate(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListShifts(ctx, domain.ShiftFilter{StoreID: s.storeOrDefault(storeID), Date: day.Format(dateLayout)})
}

func (s *Service) StartNewDay(ctx context.Context, req domain.StartDayRequest) (day domain.BusinessDay, err error) {
	ctx, done := s.begin(ctx, "day.start")
	defer func() { done(err) }()

	date, err := parseDate(req.Date)
	if err != nil {
		return domain.BusinessDay{}, err
	}
	if req.InitialCash.IsNegative() {
		return domain.BusinessDay{}, domain.Invalidf("initial cash cannot be negative")
	}
	storeID := s.storeOrDefault(req.StoreID)
	actor := s.actor(ctx)

	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.ensureNoActiveShifts(ctx, storeID); err != nil {
			return err
		}
		existing, err := s.repo.GetBusinessDay(ctx, storeID, date.Format(dateLayout))
		switch {
		case err == nil && existing.Status == domain.DayStatusOpen:
			return domain.Invalidf("business day %s is already open", existing.Date)
		case err == nil:
			return domain.Invalidf("business day %s is already %s", existing.Date, strings.ToLower(string(existing.Status)))
		case err != nil && !isNotFound(err):
			return err
		}
		now := s.now()
		day = domain.BusinessDay{
			StoreID:             storeID,
			Date:                date.Format(dateLayout),
			Status:              domain.DayStatusOpen,
			InitialCash:         domain.Money(req.InitialCash),
			OpenedAt:            &now,
			OpenedBy:            actor.UserID,
			TotalCashDifference: decimal.Zero,
			TotalPayments:       decimal.Zero,
		}
		return s.repo.SaveBusinessDay(ctx, day)
	})
	if err != nil {
		return domain.BusinessDay{}, err
	}

	s.logAudit(ctx, storeID, "day_start", "business_day", day.Date, "initial_cash="+day.InitialCash.StringFixed(2))
	return day, nil
}

// EndDay closes the business day once no shift at the store is still active,
// rolling up the day's shifts and payments.
func (s *Service) EndDay(ctx context.Context, req domain.EndDayRequest) (day domain.BusinessDay, err error) {
	ctx, done := s.begin(ctx, "day.end")
	defer func() { done(err) }()

	date, err := parseDate(req.Date)
	if err != nil {
		return domain.BusinessDay{}, err
	}
	storeID := s.storeOrDefault(req.StoreID)
	actor := s.actor(ctx)
	dateKey := date.Format(dateLayout)

	err = s.repo.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.ensureNoActiveShifts(ctx, storeID); err != nil {
			return err
		}
		existing, err := s.repo.GetBusinessDay(ctx, storeID, dateKey)
		switch {
		case err == nil:
			if existing.Status == domain.DayStatusClosed {
				return domain.Invalidf("business day %s is already closed", dateKey)
			}
			day = *existing
		case isNotFound(err):
			day = domain.BusinessDay{StoreID: storeID, Date: dateKey, InitialCash: decimal.Zero}
		default:
			return err
		}

		shifts, err := s.repo.ListShifts(ctx, domain.ShiftFilter{StoreID: storeID, Date: dateKey})
		if err != nil {
			return err
		}
		day.ShiftCount = 0
		day.TotalCashDifference = decimal.Zero
		for _, shift := range shifts {
			if shift.Status != domain.ShiftStatusCompleted {
				continue
			}
			day.ShiftCount++
			if shift.CashDifference != nil {
				day.TotalCashDifference = day.TotalCashDifference.Add(*shift.CashDifference)
			}
		}
		payments, err := s.repo.ListPayments(ctx, domain.PaymentFilter{StoreID: storeID, From: date, To: date.Add(24 * time.Hour)})
		if err != nil {
			return err
		}
		day.TotalPayments = netAmount(payments)

		now := s.now()
		day.Status = domain.DayStatusClosed
		day.ClosedAt = &now
		day.ClosedBy = actor.UserID
		day.Notes = strings.TrimSpace(req.Notes)
		return s.repo.SaveBusinessDay(ctx, day)
	})
	if err != nil {
		return domain.BusinessDay{}, err
	}

	s.logAudit(ctx, storeID, "day_end", "business_day", day.Date, fmt.Sprintf("shifts=%d,cash_difference=%s,payments=%s", day.ShiftCount, day.TotalCashDifference.StringFixed(2), day.TotalPayments.StringFixed(2)))
	s.publish(ctx, events.TypeBusinessDayClosed, storeID, storeID+"/"+day.Date, day)
	return day, nil
}

func (s *Service) GetBusinessDay(ctx context.Context, storeID string, date string) (domain.BusinessDay, error) {
	day, err := parseDate(date)
	if err != nil {
		return domain.BusinessDay{}, err
	}
	found, err := s.repo.GetBusinessDay(ctx, s.storeOrDefault(storeID), day.Format(dateLayout))
	if err != nil {
		return domain.BusinessDay{}, err
	}
	return *found, nil
}

func (s *Service) ensureNoActiveShifts(ctx context.Context, storeID string) error {
	active, err := s.repo.ListShifts(ctx, domain.ShiftFilter{StoreID: storeID, Status: domain.ShiftStatusActive})
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return fmt.Errorf("%w: %d active at %s", domain.ErrActiveShiftsPresent, len(active), storeID)
	}
	return nil
}

func (s *Service) RecordLogin(ctx context.Context, req domain.LoginEventRequest) error {
	actor := s.actor(ctx)
	return s.recordLoginEvent(ctx, actor.UserID, s.storeOrDefault(req.StoreID), strings.TrimSpace(req.ShiftID), domain.LoginEventLogin)
}

func (s *Service) RecordLogout(ctx context.Context, req domain.LoginEventRequest) error {
	actor := s.actor(ctx)
	return s.recordLoginEvent(ctx, actor.UserID, s.storeOrDefault(req.StoreID), strings.TrimSpace(req.ShiftID), domain.LoginEventLogout)
}

// LoginHistory lists a user's login events on one day, oldest first.
func (s *Service) LoginHistory(ctx context.Context, userID string, date string) ([]domain.LoginEvent, error) {
	if userID = strings.TrimSpace(userID); userID == "" {
		return nil, domain.Invalidf("user_id is required")
	}
	day, err := parseDate(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListLoginEvents(ctx, userID, day, day.Add(24*time.Hour))
}

func (s *Service) recordLoginEvent(ctx context.Context, userID string, storeID string, shiftID string, kind domain.LoginEventType) error {
	return s.repo.CreateLoginEvent(ctx, domain.LoginEvent{
		ID:        xid.New("login"),
		UserID:    userID,
		StoreID:   storeID,
		ShiftID:   shiftID,
		EventType: kind,
		At:        s.now(),
	})
}
