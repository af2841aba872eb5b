package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"retailerp/backend/internal/domain"
)

const transferColumns = `id, transfer_number, from_store_id, from_warehouse_id, to_store_id, to_warehouse_id, transfer_type, status, priority, notes,
	requested_by, approved_by, received_by, cancel_reason, requested_at, approved_at, shipped_at, received_at, cancelled_at`

func scanTransfer(row interface{ Scan(...any) error }) (domain.StockTransfer, error) {
	var t domain.StockTransfer
	err := row.Scan(&t.ID, &t.TransferNumber, &t.From.StoreID, &t.From.WarehouseID, &t.To.StoreID, &t.To.WarehouseID, &t.TransferType, &t.Status, &t.Priority, &t.Notes,
		&t.RequestedBy, &t.ApprovedBy, &t.ReceivedBy, &t.CancelReason, &t.RequestedAt, &t.ApprovedAt, &t.ShippedAt, &t.ReceivedAt, &t.CancelledAt)
	return t, err
}

func (s *Store) CreateTransfer(ctx context.Context, t domain.StockTransfer) error {
	return s.WithTransaction(ctx, func(ctx context.Context) error {
		_, err := s.q(ctx).ExecContext(ctx, `
			INSERT INTO stock_transfers (`+transferColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		`, t.ID, t.TransferNumber, t.From.StoreID, t.From.WarehouseID, t.To.StoreID, t.To.WarehouseID, t.TransferType, t.Status, t.Priority, t.Notes,
			t.RequestedBy, t.ApprovedBy, t.ReceivedBy, t.CancelReason, t.RequestedAt, nullTime(t.ApprovedAt), nullTime(t.ShippedAt), nullTime(t.ReceivedAt), nullTime(t.CancelledAt))
		if err != nil {
			if isUniqueViolation(err) {
				return domain.Invalidf("transfer %s already exists", t.TransferNumber)
			}
			return domain.NewStorageError("create transfer", err)
		}
		for i, item := range t.Items {
			_, err := s.q(ctx).ExecContext(ctx, `
				INSERT INTO stock_transfer_items (transfer_id, id, line_no, product_id, requested_quantity, received_quantity, damaged_quantity)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, t.ID, item.ID, i, item.ProductID, item.RequestedQuantity, item.ReceivedQuantity, item.DamagedQuantity)
			if err != nil {
				return domain.NewStorageError("create transfer item", err)
			}
		}
		return nil
	})
}

func (s *Store) GetTransfer(ctx context.Context, id string) (*domain.StockTransfer, error) {
	return s.getTransfer(ctx, id, "")
}

func (s *Store) LockTransfer(ctx context.Context, id string) (*domain.StockTransfer, error) {
	return s.getTransfer(ctx, id, " FOR UPDATE")
}

func (s *Store) getTransfer(ctx context.Context, id string, suffix string) (*domain.StockTransfer, error) {
	t, err := scanTransfer(s.q(ctx).QueryRowContext(ctx, `SELECT `+transferColumns+` FROM stock_transfers WHERE id = $1`+suffix, id))
	if err != nil {
		return nil, notFound("get transfer", "transfer "+id, err)
	}
	items, err := s.transferItems(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Items = items
	return &t, nil
}

func (s *Store) transferItems(ctx context.Context, transferID string) ([]domain.StockTransferItem, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, product_id, requested_quantity, received_quantity, damaged_quantity
		FROM stock_transfer_items
		WHERE transfer_id = $1
		ORDER BY line_no
	`, transferID)
	if err != nil {
		return nil, domain.NewStorageError("list transfer items", err)
	}
	defer rows.Close()

	items := make([]domain.StockTransferItem, 0, 8)
	for rows.Next() {
		var item domain.StockTransferItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.RequestedQuantity, &item.ReceivedQuantity, &item.DamagedQuantity); err != nil {
			return nil, domain.NewStorageError("list transfer items", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("list transfer items", err)
	}
	return items, nil
}

func (s *Store) UpdateTransfer(ctx context.Context, t domain.StockTransfer) error {
	return s.WithTransaction(ctx, func(ctx context.Context) error {
		res, err := s.q(ctx).ExecContext(ctx, `
			UPDATE stock_transfers
			SET status = $2, approved_by = $3, received_by = $4, cancel_reason = $5,
				approved_at = $6, shipped_at = $7, received_at = $8, cancelled_at = $9, notes = $10
			WHERE id = $1
		`, t.ID, t.Status, t.ApprovedBy, t.ReceivedBy, t.CancelReason,
			nullTime(t.ApprovedAt), nullTime(t.ShippedAt), nullTime(t.ReceivedAt), nullTime(t.CancelledAt), t.Notes)
		if err := mustAffect("update transfer", "transfer "+t.ID, res, err); err != nil {
			return err
		}
		for _, item := range t.Items {
			_, err := s.q(ctx).ExecContext(ctx, `
				UPDATE stock_transfer_items
				SET received_quantity = $3, damaged_quantity = $4
				WHERE transfer_id = $1 AND id = $2
			`, t.ID, item.ID, item.ReceivedQuantity, item.DamagedQuantity)
			if err != nil {
				if isCheckViolation(err) {
					return fmt.Errorf("%w: item %s", domain.ErrOverReceipt, item.ID)
				}
				return domain.NewStorageError("update transfer item", err)
			}
		}
		return nil
	})
}

func (s *Store) ListTransfers(ctx context.Context, filter domain.TransferFilter) ([]domain.StockTransfer, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 200
	}
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+transferColumns+`
		FROM stock_transfers
		WHERE ($1 = '' OR from_store_id = $1 OR to_store_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY requested_at DESC, id DESC
		LIMIT $3
	`, filter.StoreID, string(filter.Status), limit)
	if err != nil {
		return nil, domain.NewStorageError("list transfers", err)
	}
	transfers := make([]domain.StockTransfer, 0, 16)
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			_ = rows.Close()
			return nil, domain.NewStorageError("list transfers", err)
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, domain.NewStorageError("list transfers", err)
	}
	_ = rows.Close()

	for i := range transfers {
		items, err := s.transferItems(ctx, transfers[i].ID)
		if err != nil {
			return nil, err
		}
		transfers[i].Items = items
	}
	return transfers, nil
}

const shiftColumns = `id, store_id, user_id, shift_date, expected_start_time, expected_end_time, started_at, ended_at, ended_by,
	starting_cash, ending_cash, expected_cash, cash_difference, status, notes`

func scanShift(row interface{ Scan(...any) error }) (domain.Shift, error) {
	var sh domain.Shift
	err := row.Scan(&sh.ID, &sh.StoreID, &sh.UserID, &sh.ShiftDate, &sh.ExpectedStartTime, &sh.ExpectedEndTime, &sh.StartedAt, &sh.EndedAt, &sh.EndedBy,
		&sh.StartingCash, &sh.EndingCash, &sh.ExpectedCash, &sh.CashDifference, &sh.Status, &sh.Notes)
	return sh, err
}

// CreateShift relies on the partial unique index on shifts(user_id) WHERE
// status = 'ACTIVE' to reject a second active shift under concurrency.
func (s *Store) CreateShift(ctx context.Context, sh domain.Shift) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO shifts (`+shiftColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, sh.ID, sh.StoreID, sh.UserID, sh.ShiftDate, nullTime(sh.ExpectedStartTime), nullTime(sh.ExpectedEndTime), sh.StartedAt, nullTime(sh.EndedAt), sh.EndedBy,
		sh.StartingCash, nullDecimal(sh.EndingCash), nullDecimal(sh.ExpectedCash), nullDecimal(sh.CashDifference), sh.Status, sh.Notes)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s", domain.ErrActiveShiftExists, sh.UserID)
		}
		return domain.NewStorageError("create shift", err)
	}
	return nil
}

func (s *Store) GetShift(ctx context.Context, id string) (*domain.Shift, error) {
	sh, err := scanShift(s.q(ctx).QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("get shift", "shift "+id, err)
	}
	return &sh, nil
}

func (s *Store) LockShift(ctx context.Context, id string) (*domain.Shift, error) {
	sh, err := scanShift(s.q(ctx).QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound("lock shift", "shift "+id, err)
	}
	return &sh, nil
}

func (s *Store) UpdateShift(ctx context.Context, sh domain.Shift) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE shifts
		SET user_id = $2, ended_at = $3, ended_by = $4, ending_cash = $5, expected_cash = $6, cash_difference = $7, status = $8, notes = $9
		WHERE id = $1
	`, sh.ID, sh.UserID, nullTime(sh.EndedAt), sh.EndedBy, nullDecimal(sh.EndingCash), nullDecimal(sh.ExpectedCash), nullDecimal(sh.CashDifference), sh.Status, sh.Notes)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: user %s", domain.ErrActiveShiftExists, sh.UserID)
	}
	return mustAffect("update shift", "shift "+sh.ID, res, err)
}

func (s *Store) FindActiveShiftByUser(ctx context.Context, userID string) (*domain.Shift, error) {
	sh, err := scanShift(s.q(ctx).QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE user_id = $1 AND status = $2`, userID, domain.ShiftStatusActive))
	if err != nil {
		return nil, notFound("find active shift", "active shift for "+userID, err)
	}
	return &sh, nil
}

func (s *Store) ListShifts(ctx context.Context, filter domain.ShiftFilter) ([]domain.Shift, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE ($1 = '' OR store_id = $1) AND ($2 = '' OR user_id = $2) AND ($3 = '' OR status = $3) AND ($4 = '' OR shift_date = $4)
		ORDER BY started_at, id
	`, filter.StoreID, filter.UserID, string(filter.Status), filter.Date)
	if err != nil {
		return nil, domain.NewStorageError("list shifts", err)
	}
	defer rows.Close()

	shifts := make([]domain.Shift, 0, 16)
	for rows.Next() {
		sh, err := scanShift(rows)
		if err != nil {
			return nil, domain.NewStorageError("list shifts", err)
		}
		shifts = append(shifts, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("list shifts", err)
	}
	return shifts, nil
}

const swapColumns = `id, store_id, shift_id, requested_by, requested_to, reason, status, manager_id, manager_notes, rejected_by, rejection_reason,
	created_at, responded_at, approved_at`

func scanSwap(row interface{ Scan(...any) error }) (domain.ShiftSwap, error) {
	var sw domain.ShiftSwap
	err := row.Scan(&sw.ID, &sw.StoreID, &sw.ShiftID, &sw.RequestedBy, &sw.RequestedTo, &sw.Reason, &sw.Status, &sw.ManagerID, &sw.ManagerNotes, &sw.RejectedBy, &sw.RejectionReason,
		&sw.CreatedAt, &sw.RespondedAt, &sw.ApprovedAt)
	return sw, err
}

func (s *Store) CreateShiftSwap(ctx context.Context, sw domain.ShiftSwap) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO shift_swaps (`+swapColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, sw.ID, sw.StoreID, sw.ShiftID, sw.RequestedBy, sw.RequestedTo, sw.Reason, sw.Status, sw.ManagerID, sw.ManagerNotes, sw.RejectedBy, sw.RejectionReason,
		sw.CreatedAt, nullTime(sw.RespondedAt), nullTime(sw.ApprovedAt))
	if err != nil {
		return domain.NewStorageError("create shift swap", err)
	}
	return nil
}

func (s *Store) GetShiftSwap(ctx context.Context, id string) (*domain.ShiftSwap, error) {
	sw, err := scanSwap(s.q(ctx).QueryRowContext(ctx, `SELECT `+swapColumns+` FROM shift_swaps WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("get shift swap", "shift swap "+id, err)
	}
	return &sw, nil
}

func (s *Store) LockShiftSwap(ctx context.Context, id string) (*domain.ShiftSwap, error) {
	sw, err := scanSwap(s.q(ctx).QueryRowContext(ctx, `SELECT `+swapColumns+` FROM shift_swaps WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound("lock shift swap", "shift swap "+id, err)
	}
	return &sw, nil
}

func (s *Store) UpdateShiftSwap(ctx context.Context, sw domain.ShiftSwap) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE shift_swaps
		SET status = $2, manager_id = $3, manager_notes = $4, rejected_by = $5, rejection_reason = $6, responded_at = $7, approved_at = $8
		WHERE id = $1
	`, sw.ID, sw.Status, sw.ManagerID, sw.ManagerNotes, sw.RejectedBy, sw.RejectionReason, nullTime(sw.RespondedAt), nullTime(sw.ApprovedAt))
	return mustAffect("update shift swap", "shift swap "+sw.ID, res, err)
}

func (s *Store) ListShiftSwaps(ctx context.Context, filter domain.SwapFilter) ([]domain.ShiftSwap, error) {
	where := []string{"true"}
	args := make([]any, 0, 5)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.StoreID != "" {
		add("store_id = $%d", filter.StoreID)
	}
	if filter.ShiftID != "" {
		add("shift_id = $%d", filter.ShiftID)
	}
	if filter.RequestedBy != "" {
		add("requested_by = $%d", filter.RequestedBy)
	}
	if filter.RequestedTo != "" {
		add("requested_to = $%d", filter.RequestedTo)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}

	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+swapColumns+` FROM shift_swaps WHERE `+strings.Join(where, " AND ")+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, domain.NewStorageError("list shift swaps", err)
	}
	defer rows.Close()

	swaps := make([]domain.ShiftSwap, 0, 8)
	for rows.Next() {
		sw, err := scanSwap(rows)
		if err != nil {
			return nil, domain.NewStorageError("list shift swaps", err)
		}
		swaps = append(swaps, sw)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("list shift swaps", err)
	}
	return swaps, nil
}

func (s *Store) CreateLoginEvent(ctx context.Context, e domain.LoginEvent) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO login_events (id, user_id, store_id, shift_id, event_type, at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, e.ID, e.UserID, e.StoreID, e.ShiftID, e.EventType, e.At)
	if err != nil {
		return domain.NewStorageError("create login event", err)
	}
	return nil
}

func (s *Store) ListLoginEvents(ctx context.Context, userID string, from time.Time, to time.Time) ([]domain.LoginEvent, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, user_id, store_id, shift_id, event_type, at
		FROM login_events
		WHERE ($1 = '' OR user_id = $1) AND at >= $2 AND at < $3
		ORDER BY at, id
	`, userID, from, to)
	if err != nil {
		return nil, domain.NewStorageError("list login events", err)
	}
	defer rows.Close()

	events := make([]domain.LoginEvent, 0, 8)
	for rows.Next() {
		var e domain.LoginEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.StoreID, &e.ShiftID, &e.EventType, &e.At); err != nil {
			return nil, domain.NewStorageError("list login events", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("list login events", err)
	}
	return events, nil
}

func (s *Store) GetBusinessDay(ctx context.Context, storeID string, date string) (*domain.BusinessDay, error) {
	var d domain.BusinessDay
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT store_id, date, status, initial_cash, opened_at, opened_by, closed_at, closed_by, notes, shift_count, total_cash_difference, total_payments
		FROM business_days
		WHERE store_id = $1 AND date = $2
	`, storeID, date).Scan(&d.StoreID, &d.Date, &d.Status, &d.InitialCash, &d.OpenedAt, &d.OpenedBy, &d.ClosedAt, &d.ClosedBy, &d.Notes, &d.ShiftCount, &d.TotalCashDifference, &d.TotalPayments)
	if err != nil {
		return nil, notFound("get business day", "business day "+storeID+" "+date, err)
	}
	return &d, nil
}

func (s *Store) SaveBusinessDay(ctx context.Context, d domain.BusinessDay) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO business_days (store_id, date, status, initial_cash, opened_at, opened_by, closed_at, closed_by, notes, shift_count, total_cash_difference, total_payments)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (store_id, date) DO UPDATE SET
			status = EXCLUDED.status,
			initial_cash = EXCLUDED.initial_cash,
			opened_at = EXCLUDED.opened_at,
			opened_by = EXCLUDED.opened_by,
			closed_at = EXCLUDED.closed_at,
			closed_by = EXCLUDED.closed_by,
			notes = EXCLUDED.notes,
			shift_count = EXCLUDED.shift_count,
			total_cash_difference = EXCLUDED.total_cash_difference,
			total_payments = EXCLUDED.total_payments
	`, d.StoreID, d.Date, d.Status, d.InitialCash, nullTime(d.OpenedAt), d.OpenedBy, nullTime(d.ClosedAt), d.ClosedBy, d.Notes, d.ShiftCount, d.TotalCashDifference, d.TotalPayments)
	if err != nil {
		return domain.NewStorageError("save business day", err)
	}
	return nil
}
