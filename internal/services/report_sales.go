package services

import (
	"github.com/tenpo-pos/core/internal/domain"
)

// salesReportPlugin runs the staged sales reduction. Taxes and payments are
// collapsed to unique sets per transaction before summing, so a transaction
// carrying M taxes and N payments contributes each bucket exactly once
// instead of M·N times.
type salesReportPlugin struct{}

func (salesReportPlugin) ReportType() string { return "sales" }

func (salesReportPlugin) Build(query ReportQuery, logs []domain.TranLog) domain.SalesReport {
	return reduceSales(query, "sales", logs)
}

// paymentReportPlugin projects the same reduction down to the tender
// breakdown.
type paymentReportPlugin struct{}

func (paymentReportPlugin) ReportType() string { return "payment" }

func (paymentReportPlugin) Build(query ReportQuery, logs []domain.TranLog) domain.SalesReport {
	report := reduceSales(query, "payment", logs)
	report.Taxes = nil
	report.DiscountForLineItems = domain.ReportAmount{}
	report.DiscountForSubtotal = domain.ReportAmount{}
	return report
}

// itemReportPlugin projects the reduction down to per-item movement.
type itemReportPlugin struct{}

func (itemReportPlugin) ReportType() string { return "item" }

func (itemReportPlugin) Build(query ReportQuery, logs []domain.TranLog) domain.SalesReport {
	report := reduceSales(query, "item", logs)
	report.Taxes = nil
	report.Payments = nil
	report.Items = reduceLines(logs, func(line domain.LineItem) domain.ReportItem {
		return domain.ReportItem{
			ItemCode:     line.ItemCode,
			CategoryCode: line.CategoryCode,
			Description:  line.Description,
		}
	})
	return report
}

// categoryReportPlugin groups the same line movement by category.
type categoryReportPlugin struct{}

func (categoryReportPlugin) ReportType() string { return "category" }

func (categoryReportPlugin) Build(query ReportQuery, logs []domain.TranLog) domain.SalesReport {
	report := reduceSales(query, "category", logs)
	report.Taxes = nil
	report.Payments = nil
	report.Items = reduceLines(logs, func(line domain.LineItem) domain.ReportItem {
		return domain.ReportItem{CategoryCode: line.CategoryCode}
	})
	return report
}

// reduceLines buckets non-cancelled line items by the key fields of the
// prototype bucket keyFor returns, factor-weighted like the main reduction.
func reduceLines(logs []domain.TranLog, keyFor func(domain.LineItem) domain.ReportItem) []domain.ReportItem {
	buckets := map[domain.ReportItem]*domain.ReportItem{}
	var order []domain.ReportItem

	for _, tran := range logs {
		if tran.Sales.IsCancelled {
			continue
		}
		factor := tran.TransactionType.Factor()
		if factor == 0 {
			continue
		}
		for _, line := range tran.LineItems {
			if line.IsCancelled {
				continue
			}
			key := keyFor(line)
			bucket, ok := buckets[key]
			if !ok {
				fresh := key
				bucket = &fresh
				buckets[key] = bucket
				order = append(order, key)
			}
			bucket.Quantity += factor * line.Quantity
			bucket.Amount += factor * line.Amount
			bucket.Count += factor
		}
	}

	items := make([]domain.ReportItem, 0, len(order))
	for _, key := range order {
		items = append(items, *buckets[key])
	}
	if len(items) == 0 {
		return nil
	}
	return items
}

type paymentKey struct {
	PaymentNo   int
	PaymentCode string
	Amount      int64
}

func reduceSales(query ReportQuery, reportType string, logs []domain.TranLog) domain.SalesReport {
	report := domain.SalesReport{
		TenantID:       query.TenantID,
		StoreCode:      query.StoreCode,
		TerminalNo:     query.TerminalNo,
		BusinessDate:   query.BusinessDate,
		BusinessDateTo: query.BusinessDateTo,
		OpenCounter:    query.OpenCounter,
		ReportScope:    query.ReportScope,
		ReportType:     reportType,
	}

	taxBuckets := map[string]*domain.ReportTax{}
	var taxOrder []string
	paymentBuckets := map[string]*domain.ReportPayment{}
	var paymentOrder []string

	for _, tran := range logs {
		if tran.Sales.IsCancelled {
			continue
		}
		factor := tran.TransactionType.Factor()
		if factor == 0 {
			continue
		}
		report.TransactionCount++

		taxes := uniqueTaxes(tran.Taxes)
		payments := uniquePayments(tran.Payments)

		var taxTotal int64
		for _, tax := range taxes {
			taxTotal += tax.TaxAmount
		}

		// Net subtracts every tax entry, internal included; gross is
		// pre-discount and covers the sales types only.
		report.SalesNet += factor * (tran.Sales.TotalAmount - taxTotal)
		switch tran.TransactionType {
		case domain.TypeNormalSales, domain.TypeVoidSales:
			report.SalesGross += factor * (tran.Sales.TotalAmount + tran.Sales.TotalDiscountAmount)
		case domain.TypeReturnSales:
			report.Returns += tran.Sales.TotalAmount
		case domain.TypeVoidReturn:
			report.Returns -= tran.Sales.TotalAmount
		}

		for _, line := range tran.LineItems {
			if line.IsCancelled {
				continue
			}
			for _, d := range line.Discounts {
				report.DiscountForLineItems.Amount += factor * d.DiscountAmount
				report.DiscountForLineItems.Quantity += factor * line.Quantity
				report.DiscountForLineItems.Count += factor
			}
		}
		for _, d := range tran.SubtotalDiscounts {
			report.DiscountForSubtotal.Amount += factor * d.DiscountAmount
			report.DiscountForSubtotal.Quantity += factor * tran.Sales.TotalQuantity
			report.DiscountForSubtotal.Count += factor
		}

		for _, tax := range taxes {
			if tax.TaxCode == "" {
				continue
			}
			bucket, ok := taxBuckets[tax.TaxCode]
			if !ok {
				bucket = &domain.ReportTax{TaxCode: tax.TaxCode, TaxName: tax.TaxName}
				taxBuckets[tax.TaxCode] = bucket
				taxOrder = append(taxOrder, tax.TaxCode)
			}
			bucket.TaxAmount += factor * tax.TaxAmount
			bucket.TargetAmount += factor * tax.TargetAmount
		}
		for _, p := range payments {
			if p.PaymentCode == "" {
				continue
			}
			bucket, ok := paymentBuckets[p.PaymentCode]
			if !ok {
				bucket = &domain.ReportPayment{PaymentCode: p.PaymentCode, Description: p.Description}
				paymentBuckets[p.PaymentCode] = bucket
				paymentOrder = append(paymentOrder, p.PaymentCode)
			}
			bucket.Amount += factor * p.Amount
			bucket.Count += factor
		}
	}

	for _, code := range taxOrder {
		report.Taxes = append(report.Taxes, *taxBuckets[code])
	}
	for _, code := range paymentOrder {
		report.Payments = append(report.Payments, *paymentBuckets[code])
	}
	return report
}

// uniqueTaxes collapses duplicate tax entries on one transaction. Tax rows
// may arrive duplicated when an upstream projection has already multiplied
// the arrays; identity is the full value.
func uniqueTaxes(taxes []domain.Tax) []domain.Tax {
	if len(taxes) < 2 {
		return taxes
	}
	seen := map[domain.Tax]struct{}{}
	out := taxes[:0:0]
	for _, tax := range taxes {
		if _, ok := seen[tax]; ok {
			continue
		}
		seen[tax] = struct{}{}
		out = append(out, tax)
	}
	return out
}

func uniquePayments(payments []domain.Payment) []domain.Payment {
	if len(payments) < 2 {
		return payments
	}
	seen := map[paymentKey]struct{}{}
	out := payments[:0:0]
	for _, p := range payments {
		key := paymentKey{PaymentNo: p.PaymentNo, PaymentCode: p.PaymentCode, Amount: p.Amount}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}
