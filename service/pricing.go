package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/begoneskadedjur/kundportal-sub013/pkg/logger"
)

// Amount wraps the provider's {"amount": ...} objects
type Amount struct {
	Amount FlexString `json:"amount"`
}

// Product is one line item on a document
type Product struct {
	ID        FlexString `json:"id"`
	Name      string     `json:"name"`
	UnitPrice *Amount    `json:"unit_price"`
	Quantity  *Amount    `json:"quantity"`
}

// ParseAmount parses provider amounts. Spaces are thousand separators and a
// lone comma is a decimal comma, so "1 200,50" reads as 1200.50.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\t':
			return -1
		}
		return r
	}, s)

	if strings.Contains(s, ",") {
		if strings.Contains(s, ".") {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ",", ".")
		}
	}
	return decimal.NewFromString(s)
}

// TotalValue sums unit price times quantity over all products. Quantity
// defaults to 1. A product that can't be priced adds nothing.
func TotalValue(ctx context.Context, products []Product) decimal.Decimal {
	total := decimal.Zero
	for _, p := range products {
		if p.UnitPrice == nil || p.UnitPrice.Amount == "" {
			logger.Warn(ctx, "product has no unit price, counting as zero", "product_id", p.ID.String(), "product", p.Name)
			continue
		}
		price, err := ParseAmount(p.UnitPrice.Amount.String())
		if err != nil {
			logger.Warn(ctx, "unparsable product price, counting as zero",
				"product_id", p.ID.String(),
				"product", p.Name,
				"price", p.UnitPrice.Amount.String(),
			)
			continue
		}

		qty := decimal.NewFromInt(1)
		if p.Quantity != nil && p.Quantity.Amount != "" {
			q, err := ParseAmount(p.Quantity.Amount.String())
			if err != nil {
				logger.Warn(ctx, "unparsable product quantity, counting as zero",
					"product_id", p.ID.String(),
					"product", p.Name,
					"quantity", p.Quantity.Amount.String(),
				)
				continue
			}
			qty = q
		}

		total = total.Add(price.Mul(qty))
	}
	return total
}
