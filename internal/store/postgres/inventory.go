package postgres

import (
	"context"
	"fmt"
	"strings"

	"retailerp/backend/internal/domain"
)

const productColumns = `id, sku, COALESCE(barcode, ''), name, unit_price, unit_cost, tax_rate, minimum_stock_level, maximum_stock_level, active`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Barcode, &p.Name, &p.UnitPrice, &p.UnitCost, &p.TaxRate, &p.MinimumStockLevel, &p.MaximumStockLevel, &p.Active)
	return p, err
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.q(ctx).QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("get product", "product "+id, err)
	}
	return &p, nil
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	p, err := scanProduct(s.q(ctx).QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE barcode = $1`, barcode))
	if err != nil {
		return nil, notFound("get product by barcode", "barcode "+barcode, err)
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE active = true ORDER BY name`)
	if err != nil {
		return nil, domain.NewStorageError("list products", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, domain.NewStorageError("list products", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("list products", err)
	}
	return products, nil
}

const inventoryColumns = `id, product_id, store_id, warehouse_id, location, current_quantity, reserved_quantity,
	minimum_stock_level, maximum_stock_level, unit_cost, total_value, last_updated, last_updated_by`

func scanInventory(row interface{ Scan(...any) error }) (domain.InventoryRecord, error) {
	var r domain.InventoryRecord
	err := row.Scan(&r.ID, &r.ProductID, &r.StoreID, &r.WarehouseID, &r.Location, &r.CurrentQuantity, &r.ReservedQuantity,
		&r.MinimumStockLevel, &r.MaximumStockLevel, &r.UnitCost, &r.TotalValue, &r.LastUpdated, &r.LastUpdatedBy)
	return r, err
}

func (s *Store) GetInventory(ctx context.Context, productID string, loc domain.LocationRef) (*domain.InventoryRecord, error) {
	return s.getInventory(ctx, productID, loc, "")
}

func (s *Store) LockInventory(ctx context.Context, productID string, loc domain.LocationRef) (*domain.InventoryRecord, error) {
	return s.getInventory(ctx, productID, loc, " FOR UPDATE")
}

func (s *Store) getInventory(ctx context.Context, productID string, loc domain.LocationRef, suffix string) (*domain.InventoryRecord, error) {
	rec, err := scanInventory(s.q(ctx).QueryRowContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory_records
		WHERE product_id = $1 AND store_id = $2 AND warehouse_id = $3`+suffix,
		productID, loc.StoreID, loc.WarehouseID))
	if err != nil {
		return nil, notFound("get inventory", fmt.Sprintf("inventory for %s at %s", productID, loc), err)
	}
	return &rec, nil
}

// LockOrCreateInventory inserts record when its key is absent and then takes
// the row lock. A concurrent creator blocks on the unique key until the first
// one commits, so both end up incrementing the same locked row.
func (s *Store) LockOrCreateInventory(ctx context.Context, r domain.InventoryRecord) (*domain.InventoryRecord, error) {
	if err := r.CheckInvariant(); err != nil {
		return nil, domain.Invalidf("%v", err)
	}
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO inventory_records (`+inventoryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (product_id, store_id, warehouse_id) DO NOTHING
	`, r.ID, r.ProductID, r.StoreID, r.WarehouseID, r.Location, r.CurrentQuantity, r.ReservedQuantity,
		r.MinimumStockLevel, r.MaximumStockLevel, r.UnitCost, r.TotalValue, r.LastUpdated, r.LastUpdatedBy)
	if err != nil {
		return nil, domain.NewStorageError("create inventory", err)
	}
	return s.LockInventory(ctx, r.ProductID, r.Ref())
}

// SaveInventory upserts on the (product, store, warehouse) key. The table's
// CHECK constraints back the ledger invariant.
func (s *Store) SaveInventory(ctx context.Context, r domain.InventoryRecord) error {
	if err := r.CheckInvariant(); err != nil {
		return domain.Invalidf("%v", err)
	}
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO inventory_records (`+inventoryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (product_id, store_id, warehouse_id) DO UPDATE SET
			location = EXCLUDED.location,
			current_quantity = EXCLUDED.current_quantity,
			reserved_quantity = EXCLUDED.reserved_quantity,
			minimum_stock_level = EXCLUDED.minimum_stock_level,
			maximum_stock_level = EXCLUDED.maximum_stock_level,
			unit_cost = EXCLUDED.unit_cost,
			total_value = EXCLUDED.total_value,
			last_updated = EXCLUDED.last_updated,
			last_updated_by = EXCLUDED.last_updated_by
	`, r.ID, r.ProductID, r.StoreID, r.WarehouseID, r.Location, r.CurrentQuantity, r.ReservedQuantity,
		r.MinimumStockLevel, r.MaximumStockLevel, r.UnitCost, r.TotalValue, r.LastUpdated, r.LastUpdatedBy)
	if err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("%w: product %s at %s", domain.ErrInsufficientStock, r.ProductID, r.Ref())
		}
		return domain.NewStorageError("save inventory", err)
	}
	return nil
}

func (s *Store) ListInventory(ctx context.Context, filter domain.InventoryFilter) ([]domain.InventoryRecord, error) {
	where := make([]string, 0, 3)
	args := make([]any, 0, 3)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.ProductID != "" {
		add("product_id = $%d", filter.ProductID)
	}
	if filter.Location != nil {
		add("store_id = $%d", filter.Location.StoreID)
		add("warehouse_id = $%d", filter.Location.WarehouseID)
	} else if filter.StoreID != "" {
		add("store_id = $%d", filter.StoreID)
	}
	query := `SELECT ` + inventoryColumns + ` FROM inventory_records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY product_id, store_id, warehouse_id`

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStorageError("list inventory", err)
	}
	defer rows.Close()

	records := make([]domain.InventoryRecord, 0, 64)
	for rows.Next() {
		rec, err := scanInventory(rows)
		if err != nil {
			return nil, domain.NewStorageError("list inventory", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("list inventory", err)
	}
	return records, nil
}

func (s *Store) CreateMovement(ctx context.Context, m domain.InventoryMovement) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO inventory_movements (id, product_id, store_id, warehouse_id, kind, quantity, current_after, reserved_after, actor, reason, reference, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, m.ID, m.ProductID, m.StoreID, m.WarehouseID, m.Kind, m.Quantity, m.CurrentAfter, m.ReservedAfter, m.Actor, m.Reason, m.Reference, m.CreatedAt)
	if err != nil {
		return domain.NewStorageError("create movement", err)
	}
	return nil
}

func (s *Store) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.InventoryMovement, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 500
	}
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, product_id, store_id, warehouse_id, kind, quantity, current_after, reserved_after, actor, reason, reference, created_at
		FROM inventory_movements
		WHERE ($1 = '' OR product_id = $1) AND ($2 = '' OR store_id = $2) AND ($3 = '' OR reference = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, filter.ProductID, filter.StoreID, filter.Reference, limit)
	if err != nil {
		return nil, domain.NewStorageError("list movements", err)
	}
	defer rows.Close()

	movements := make([]domain.InventoryMovement, 0, 64)
	for rows.Next() {
		var m domain.InventoryMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.StoreID, &m.WarehouseID, &m.Kind, &m.Quantity, &m.CurrentAfter, &m.ReservedAfter, &m.Actor, &m.Reason, &m.Reference, &m.CreatedAt); err != nil {
			return nil, domain.NewStorageError("list movements", err)
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("list movements", err)
	}
	return movements, nil
}

const discountColumns = `id, code, name, type, value, min_purchase_amount, max_discount_amount, valid_from, valid_to, max_usage_count, current_usage_count, active`

func (s *Store) GetDiscountByCode(ctx context.Context, code string) (*domain.Discount, error) {
	var d domain.Discount
	err := s.q(ctx).QueryRowContext(ctx, `SELECT `+discountColumns+` FROM discounts WHERE upper(code) = upper($1)`, strings.TrimSpace(code)).
		Scan(&d.ID, &d.Code, &d.Name, &d.Type, &d.Value, &d.MinPurchaseAmount, &d.MaxDiscountAmount, &d.ValidFrom, &d.ValidTo, &d.MaxUsageCount, &d.CurrentUsageCount, &d.Active)
	if err != nil {
		return nil, notFound("get discount", "discount "+code, err)
	}
	return &d, nil
}

// IncrementDiscountUsage is a single conditional UPDATE so two checkouts
// cannot both take the last use.
func (s *Store) IncrementDiscountUsage(ctx context.Context, discountID string) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE discounts
		SET current_usage_count = current_usage_count + 1
		WHERE id = $1 AND (max_usage_count IS NULL OR current_usage_count < max_usage_count)
	`, discountID)
	if err != nil {
		return domain.NewStorageError("increment discount usage", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.NewStorageError("increment discount usage", err)
	}
	if n == 0 {
		var exists bool
		if err := s.q(ctx).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM discounts WHERE id = $1)`, discountID).Scan(&exists); err != nil {
			return domain.NewStorageError("increment discount usage", err)
		}
		if !exists {
			return fmt.Errorf("%w: discount %s", domain.ErrNotFound, discountID)
		}
		return fmt.Errorf("%w: %s", domain.ErrDiscountExhausted, discountID)
	}
	return nil
}

func (s *Store) ReleaseDiscountUsage(ctx context.Context, discountID string) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		UPDATE discounts
		SET current_usage_count = current_usage_count - 1
		WHERE id = $1 AND current_usage_count > 0
	`, discountID)
	if err != nil {
		return domain.NewStorageError("release discount usage", err)
	}
	return nil
}
