package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"retailerp/backend/internal/domain"
	"retailerp/backend/internal/xid"
)

func (s *Service) CreateCart(ctx context.Context, req domain.CreateCartRequest) (domain.Cart, error) {
	cashierID := strings.TrimSpace(req.CashierID)
	if cashierID == "" {
		cashierID = s.actor(ctx).UserID
	}
	cart := domain.NewCart(xid.New("cart"), s.storeOrDefault(req.StoreID), cashierID, s.now())
	if err := s.carts.Put(ctx, *cart); err != nil {
		return domain.Cart{}, err
	}
	return *cart, nil
}

func (s *Service) GetCart(ctx context.Context, cartID string) (domain.Cart, error) {
	cart, err := s.carts.Get(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}
	return *cart, nil
}

func (s *Service) AddItem(ctx context.Context, cartID string, req domain.AddCartItemRequest) (domain.Cart, error) {
	return s.mutateCart(ctx, cartID, func(cart *domain.Cart) error {
		if req.Quantity < 1 {
			return domain.Invalidf("quantity must be greater than 0")
		}
		product, err := s.resolveProduct(ctx, req.ProductID, req.Barcode)
		if err != nil {
			return err
		}
		if err := s.checkAvailable(ctx, cart.StoreID, *product, cart.QuantityOf(product.ID)+req.Quantity); err != nil {
			return err
		}
		_, err = cart.AddProduct(xid.New("item"), *product, req.Quantity, s.taxRateFor(*product))
		return err
	})
}

func (s *Service) AddItemByBarcode(ctx context.Context, cartID string, barcode string, qty int) (domain.Cart, error) {
	if strings.TrimSpace(barcode) == "" {
		return domain.Cart{}, domain.Invalidf("barcode is required")
	}
	return s.AddItem(ctx, cartID, domain.AddCartItemRequest{Barcode: barcode, Quantity: qty})
}

func (s *Service) UpdateItem(ctx context.Context, cartID string, itemID string, qty int) (domain.Cart, error) {
	return s.mutateCart(ctx, cartID, func(cart *domain.Cart) error {
		item, ok := cart.Item(itemID)
		if !ok {
			return fmt.Errorf("%w: cart item %s", domain.ErrNotFound, itemID)
		}
		if qty < 1 {
			return domain.Invalidf("quantity must be greater than 0")
		}
		if qty > item.Quantity {
			product, err := s.repo.GetProduct(ctx, item.ProductID)
			if err != nil {
				return err
			}
			if err := s.checkAvailable(ctx, cart.StoreID, *product, cart.QuantityOf(item.ProductID)-item.Quantity+qty); err != nil {
				return err
			}
		}
		return cart.SetQuantity(itemID, qty)
	})
}

func (s *Service) RemoveItem(ctx context.Context, cartID string, itemID string) (domain.Cart, error) {
	return s.mutateCart(ctx, cartID, func(cart *domain.Cart) error {
		return cart.Remove(itemID)
	})
}

func (s *Service) ApplyDiscount(ctx context.Context, cartID string, code string) (domain.Cart, error) {
	return s.mutateCart(ctx, cartID, func(cart *domain.Cart) error {
		code = strings.TrimSpace(code)
		if code == "" {
			return domain.Invalidf("discount code is required")
		}
		discount, err := s.repo.GetDiscountByCode(ctx, code)
		if err != nil {
			return err
		}
		if err := discount.CheckApplicable(cart.Subtotal, s.now()); err != nil {
			return err
		}
		cart.SetDiscount(discount)
		return nil
	})
}

func (s *Service) RemoveDiscount(ctx context.Context, cartID string) (domain.Cart, error) {
	return s.mutateCart(ctx, cartID, func(cart *domain.Cart) error {
		cart.SetDiscount(nil)
		return nil
	})
}

func (s *Service) ClearCart(ctx context.Context, cartID string) (domain.Cart, error) {
	return s.mutateCart(ctx, cartID, func(cart *domain.Cart) error {
		cart.Clear()
		return nil
	})
}

func (s *Service) DeleteCart(ctx context.Context, cartID string) error {
	if _, err := s.carts.Get(ctx, cartID); err != nil {
		return err
	}
	return s.carts.Delete(ctx, cartID)
}

// mutateCart loads a cart, applies fn, recomputes every total and stores the
// result. A failing fn leaves the stored cart untouched.
func (s *Service) mutateCart(ctx context.Context, cartID string, fn func(cart *domain.Cart) error) (domain.Cart, error) {
	cart, err := s.carts.Get(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}
	if err := fn(cart); err != nil {
		return domain.Cart{}, err
	}
	cart.Recalculate()
	cart.UpdatedAt = s.now()
	if err := s.carts.Put(ctx, *cart); err != nil {
		return domain.Cart{}, err
	}
	return *cart, nil
}

func (s *Service) resolveProduct(ctx context.Context, productID string, barcode string) (*domain.Product, error) {
	var (
		product *domain.Product
		err     error
	)
	if productID = strings.TrimSpace(productID); productID != "" {
		product, err = s.repo.GetProduct(ctx, productID)
	} else {
		product, err = s.repo.GetProductByBarcode(ctx, strings.TrimSpace(barcode))
	}
	if err != nil {
		return nil, err
	}
	if !product.Active {
		return nil, domain.Invalidf("product %s is not active", product.ID)
	}
	return product, nil
}

// checkAvailable is advisory: nothing is reserved, checkout deducts again
// under the row lock.
func (s *Service) checkAvailable(ctx context.Context, storeID string, product domain.Product, wanted int) error {
	available := 0
	record, err := s.repo.GetInventory(ctx, product.ID, domain.LocationRef{StoreID: storeID})
	switch {
	case err == nil:
		available = record.AvailableQuantity()
	case !isNotFound(err):
		return err
	}
	if wanted > available {
		return fmt.Errorf("%w: %s has %d available, cart needs %d", domain.ErrInsufficientInventory, product.Name, available, wanted)
	}
	return nil
}

func (s *Service) taxRateFor(product domain.Product) decimal.Decimal {
	if product.TaxRate != nil {
		return *product.TaxRate
	}
	return s.defaultTaxRate
}
