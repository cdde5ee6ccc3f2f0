package services

import (
	"fmt"

	"github.com/tenpo-pos/core/internal/domain"
	"github.com/tenpo-pos/core/internal/platform/apperrors"
)

// Reprice recomputes the cart bottom-up: line amounts, line discounts,
// subtotal discount allocation, taxes, summary and balance. It is
// deterministic over the cart's frozen masters, so replaying the same cart
// always yields the same totals.
func Reprice(cart *domain.Cart, mode domain.RoundingMode) error {
	if cart == nil {
		return apperrors.New(apperrors.KindUnexpected, "reprice: cart is nil")
	}

	var (
		subtotal      int64
		totalQuantity int64
		totalDiscount int64
	)

	for i := range cart.LineItems {
		line := &cart.LineItems[i]
		if line.IsCancelled {
			line.Amount = 0
			line.DiscountsAllocated = nil
			continue
		}

		gross := line.UnitPrice * line.Quantity
		var lineDiscount int64
		for j := range line.Discounts {
			d := &line.Discounts[j]
			switch d.DiscountType {
			case domain.DiscountAmount:
				d.DiscountAmount = int64(d.DiscountValue) * line.Quantity
			case domain.DiscountPercentage:
				d.DiscountAmount = domain.PercentageAmount(gross, d.DiscountValue, mode)
			default:
				return apperrors.Newf(apperrors.KindValidation, "reprice: unknown discount type %q", d.DiscountType)
			}
			lineDiscount += d.DiscountAmount
		}
		if lineDiscount > gross {
			return apperrors.Newf(apperrors.KindValidation,
				"reprice: discount %d exceeds line amount %d on line %d", lineDiscount, gross, line.LineNo)
		}

		line.Amount = gross - lineDiscount
		line.DiscountsAllocated = nil
		subtotal += line.Amount
		totalQuantity += line.Quantity
		totalDiscount += lineDiscount
	}

	if err := allocateSubtotalDiscounts(cart, subtotal, mode); err != nil {
		return err
	}
	for _, d := range cart.SubtotalDiscounts {
		totalDiscount += d.DiscountAmount
	}

	if err := computeTaxes(cart, mode); err != nil {
		return err
	}

	var totalAmount, externalTax int64
	for i := range cart.LineItems {
		line := cart.LineItems[i]
		if line.IsCancelled {
			continue
		}
		totalAmount += lineNetAmount(line)
	}
	for _, tax := range cart.Taxes {
		if tax.TaxType == domain.TaxExternal {
			externalTax += tax.TaxAmount
		}
	}

	var paid int64
	for _, p := range cart.Payments {
		paid += p.Amount
	}

	cart.Sales.TotalAmount = totalAmount
	cart.Sales.TaxAmount = externalTax
	cart.Sales.TotalAmountWithTax = totalAmount + externalTax
	cart.Sales.TotalQuantity = totalQuantity
	cart.Sales.TotalDiscountAmount = totalDiscount
	cart.BalanceAmount = cart.Sales.TotalAmountWithTax - paid
	return nil
}

// allocateSubtotalDiscounts pushes each subtotal discount down onto eligible
// lines proportionally to their net amounts, so tax targets see the discount.
func allocateSubtotalDiscounts(cart *domain.Cart, subtotal int64, mode domain.RoundingMode) error {
	if len(cart.SubtotalDiscounts) == 0 {
		return nil
	}

	eligible := make([]int, 0, len(cart.LineItems))
	weights := make([]int64, 0, len(cart.LineItems))
	var eligibleAmount int64
	for i := range cart.LineItems {
		line := cart.LineItems[i]
		if line.IsCancelled || line.IsDiscountRestricted {
			continue
		}
		eligible = append(eligible, i)
		weights = append(weights, line.Amount)
		eligibleAmount += line.Amount
	}
	if len(eligible) == 0 {
		return apperrors.New(apperrors.KindValidation, "reprice: no lines eligible for subtotal discount")
	}

	for di := range cart.SubtotalDiscounts {
		d := &cart.SubtotalDiscounts[di]
		switch d.DiscountType {
		case domain.DiscountAmount:
			d.DiscountAmount = int64(d.DiscountValue)
		case domain.DiscountPercentage:
			d.DiscountAmount = domain.PercentageAmount(eligibleAmount, d.DiscountValue, mode)
		default:
			return apperrors.Newf(apperrors.KindValidation, "reprice: unknown discount type %q", d.DiscountType)
		}
		if d.DiscountAmount > remainingDiscountable(cart, eligible) {
			return apperrors.Newf(apperrors.KindValidation,
				"reprice: subtotal discount %d exceeds discountable amount", d.DiscountAmount)
		}

		// Re-weight against current net amounts so stacked discounts
		// allocate over what is actually left on each line.
		for wi, li := range eligible {
			weights[wi] = lineNetAmount(cart.LineItems[li])
		}
		parts := domain.AllocateProportionally(d.DiscountAmount, weights)
		for wi, li := range eligible {
			if parts[wi] == 0 {
				continue
			}
			cart.LineItems[li].DiscountsAllocated = append(cart.LineItems[li].DiscountsAllocated, domain.Discount{
				DiscountType:   d.DiscountType,
				DiscountValue:  d.DiscountValue,
				DiscountAmount: parts[wi],
				DiscountDetail: fmt.Sprintf("subtotal discount %d", di+1),
			})
		}
	}
	return nil
}

func remainingDiscountable(cart *domain.Cart, eligible []int) int64 {
	var remaining int64
	for _, li := range eligible {
		remaining += lineNetAmount(cart.LineItems[li])
	}
	return remaining
}

func lineNetAmount(line domain.LineItem) int64 {
	net := line.Amount
	for _, d := range line.DiscountsAllocated {
		net -= d.DiscountAmount
	}
	return net
}

// computeTaxes groups active lines by tax code and computes one tax bucket per
// code over the post-discount target amount.
func computeTaxes(cart *domain.Cart, mode domain.RoundingMode) error {
	type bucket struct {
		target   int64
		quantity int64
	}
	buckets := make(map[string]*bucket)
	order := make([]string, 0, 4)

	for i := range cart.LineItems {
		line := cart.LineItems[i]
		if line.IsCancelled {
			continue
		}
		b, ok := buckets[line.TaxCode]
		if !ok {
			b = &bucket{}
			buckets[line.TaxCode] = b
			order = append(order, line.TaxCode)
		}
		b.target += lineNetAmount(line)
		b.quantity += line.Quantity
	}

	taxes := make([]domain.Tax, 0, len(order))
	for i, code := range order {
		master, ok := findTaxMaster(cart.Masters.Taxes, code)
		if !ok {
			return apperrors.Newf(apperrors.KindValidation, "reprice: unknown tax code %q", code)
		}

		b := buckets[code]
		tax := domain.Tax{
			TaxNo:          i + 1,
			TaxCode:        code,
			TaxType:        master.TaxType,
			TaxName:        master.TaxName,
			TargetAmount:   b.target,
			TargetQuantity: b.quantity,
		}
		switch master.TaxType {
		case domain.TaxExternal:
			tax.TaxAmount = domain.ExternalTax(b.target, master.Rate, mode)
		case domain.TaxInternal:
			tax.TaxAmount = domain.InternalTax(b.target, master.Rate, mode)
		case domain.TaxExempt:
			tax.TaxAmount = 0
		default:
			return apperrors.Newf(apperrors.KindValidation, "reprice: unknown tax type %q", master.TaxType)
		}
		taxes = append(taxes, tax)
	}

	cart.Taxes = taxes
	return nil
}

func findTaxMaster(taxes []domain.TaxMaster, code string) (domain.TaxMaster, bool) {
	for _, t := range taxes {
		if t.TaxCode == code {
			return t, true
		}
	}
	return domain.TaxMaster{}, false
}
