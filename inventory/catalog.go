package inventory

import (
	"context"
	"errors"
	"strings"
)

// Directory manages the catalog and party records the ledger refers to.
// Derived fields (stock, customer totals, tier) are never accepted here.
type Directory struct {
	ledger      *Ledger
	phoneRegion string
}

func NewDirectory(l *Ledger, phoneRegion string) *Directory {
	return &Directory{ledger: l, phoneRegion: phoneRegion}
}

// PutVariant creates a variant or updates its catalog fields and prices.
// New prices apply to future claims only.
func (d *Directory) PutVariant(ctx context.Context, v Variant) (Variant, error) {
	v.ID = strings.TrimSpace(v.ID)
	v.ProductID = strings.TrimSpace(v.ProductID)
	switch {
	case v.ProductID == "":
		return Variant{}, &ValidationError{Code: CodeInvalidInput, Field: "product_id", Message: "product is required"}
	case v.RetailPrice.IsNegative() || v.CostPrice.IsNegative():
		return Variant{}, &ValidationError{Code: CodeInvalidInput, Field: "retail_price", Message: "prices cannot be negative"}
	}
	if v.ID == "" {
		v.ID = newID()
	}
	v.UpdatedAt = d.ledger.Now()

	var out Variant
	err := d.ledger.store.WithTx(ctx, func(s Store) error {
		prev, err := s.GetVariant(ctx, v.ID)
		switch {
		case err == nil:
			if prev.ProductID != v.ProductID {
				return &ValidationError{Code: CodeInvalidInput, Field: "product_id", Message: "variant " + v.ID + " belongs to product " + prev.ProductID}
			}
			v.StockCount = prev.StockCount
		case errors.Is(err, ErrNotFound):
			v.StockCount = 0
		default:
			return err
		}
		if err := s.PutVariant(ctx, v); err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (d *Directory) ListVariants(ctx context.Context) ([]Variant, error) {
	return d.ledger.store.ListVariants(ctx)
}

// CreateCustomer registers a customer with a normalized phone number.
func (d *Directory) CreateCustomer(ctx context.Context, c Customer) (Customer, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return Customer{}, &ValidationError{Code: CodeInvalidCustomerInfo, Field: "name", Message: "customer name is required"}
	}
	phone, err := NormalizePhone(c.Phone, d.phoneRegion)
	if err != nil {
		return Customer{}, err
	}
	c = Customer{
		ID:        newID(),
		Name:      c.Name,
		Phone:     phone,
		Email:     strings.ToLower(strings.TrimSpace(c.Email)),
		IsActive:  true,
		Tier:      TierNew,
		CreatedAt: d.ledger.Now(),
	}
	err = d.ledger.store.WithTx(ctx, func(s Store) error {
		if _, err := s.FindCustomerByPhone(ctx, phone); err == nil {
			return &DuplicateError{Entity: "customer", Key: phone}
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		return s.InsertCustomer(ctx, c)
	})
	return c, err
}

func (d *Directory) GetCustomer(ctx context.Context, id string) (Customer, error) {
	return d.ledger.store.GetCustomer(ctx, id)
}

// CreateUser registers a staff account.
func (d *Directory) CreateUser(ctx context.Context, u User) (User, error) {
	u.Name = strings.TrimSpace(u.Name)
	if u.Name == "" {
		return User{}, &ValidationError{Code: CodeInvalidInput, Field: "name", Message: "user name is required"}
	}
	if u.Phone != "" {
		phone, err := NormalizePhone(u.Phone, d.phoneRegion)
		if err != nil {
			return User{}, &ValidationError{Code: CodeInvalidInput, Field: "phone", Message: err.Error()}
		}
		u.Phone = phone
	}
	u.ID = newID()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.IsActive = true
	u.CreatedAt = d.ledger.Now()
	return u, d.ledger.store.InsertUser(ctx, u)
}
