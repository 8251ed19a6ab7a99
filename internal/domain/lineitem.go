package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyCart           = errors.New("cart has no items")
	ErrInvalidLineItem     = errors.New("invalid line item")
	ErrInvalidLineQuantity = errors.New("invalid line quantity")
)

// NormalizeLineItems validates cart lines and merges duplicate products,
// keeping the order in which products first appear.
func NormalizeLineItems(items []LineItem) ([]LineItem, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}
	index := make(map[string]int, len(items))
	out := make([]LineItem, 0, len(items))
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrInvalidLineItem)
		}
		if item.Qty < 1 {
			return nil, fmt.Errorf("%w: quantity for %s must be at least 1", ErrInvalidLineQuantity, productID)
		}
		if i, ok := index[productID]; ok {
			out[i].Qty += item.Qty
			continue
		}
		index[productID] = len(out)
		out = append(out, LineItem{ProductID: productID, Qty: item.Qty})
	}
	return out, nil
}
