package services

import (
	"fmt"
	"strings"

	"github.com/tenpo-pos/core/internal/domain"
)

// ReceiptBuilder renders receipt and journal text for a committed
// transaction. Builders are registered by strategy name; tenants select one
// via settings, falling back to the standard layout.
type ReceiptBuilder interface {
	Build(log domain.TranLog) (receiptText, journalText string)
}

// ReceiptRegistry maps strategy names to builders.
type ReceiptRegistry struct {
	builders map[string]ReceiptBuilder
	fallback ReceiptBuilder
}

// NewReceiptRegistry builds the registry with the standard builder installed.
func NewReceiptRegistry() *ReceiptRegistry {
	standard := standardReceiptBuilder{width: 32}
	return &ReceiptRegistry{
		builders: map[string]ReceiptBuilder{"standard": standard},
		fallback: standard,
	}
}

// Register binds a builder to a strategy name.
func (r *ReceiptRegistry) Register(name string, builder ReceiptBuilder) {
	if r == nil || builder == nil {
		return
	}
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		r.builders[trimmed] = builder
	}
}

// Build renders with the named strategy, or the standard layout when the name
// is unknown.
func (r *ReceiptRegistry) Build(name string, log domain.TranLog) (string, string) {
	if r == nil {
		return "", ""
	}
	builder := r.fallback
	if b, ok := r.builders[strings.TrimSpace(name)]; ok {
		builder = b
	}
	return builder.Build(log)
}

// standardReceiptBuilder renders a fixed-width text receipt and a denser
// journal representation of the same transaction.
type standardReceiptBuilder struct {
	width int
}

func (b standardReceiptBuilder) Build(log domain.TranLog) (string, string) {
	var receipt strings.Builder

	for _, line := range log.AdditionalInfo.ReceiptHeaders {
		receipt.WriteString(b.align(line) + "\n")
	}
	receipt.WriteString(b.center(string(log.TransactionType)) + "\n")
	receipt.WriteString(fmt.Sprintf("%s No.%d\n", log.BusinessDate, log.ReceiptNo))
	receipt.WriteString(strings.Repeat("-", b.width) + "\n")

	for _, item := range log.LineItems {
		if item.IsCancelled {
			continue
		}
		receipt.WriteString(item.Description + "\n")
		receipt.WriteString(b.amountLine(fmt.Sprintf("  %d x %d", item.Quantity, item.UnitPrice), lineNetAmount(item)))
		for _, d := range item.Discounts {
			receipt.WriteString(b.amountLine("  discount", -d.DiscountAmount))
		}
	}
	for _, d := range log.SubtotalDiscounts {
		receipt.WriteString(b.amountLine("discount", -d.DiscountAmount))
	}

	receipt.WriteString(strings.Repeat("-", b.width) + "\n")
	receipt.WriteString(b.amountLine("subtotal", log.Sales.TotalAmount))
	for _, tax := range log.Taxes {
		label := fmt.Sprintf("%s (on %d)", tax.TaxName, tax.TargetAmount)
		receipt.WriteString(b.amountLine(label, tax.TaxAmount))
	}
	receipt.WriteString(b.amountLine("total", log.Sales.TotalAmountWithTax))
	if log.Sales.IsStampDutyApplied {
		receipt.WriteString(b.amountLine("stamp duty", log.Sales.StampDutyAmount))
	}
	for _, p := range log.Payments {
		amount := p.Amount
		if p.DepositAmount != nil {
			amount = *p.DepositAmount
		}
		receipt.WriteString(b.amountLine(p.Description, amount))
	}
	if log.Sales.ChangeAmount != 0 {
		receipt.WriteString(b.amountLine("change", log.Sales.ChangeAmount))
	}

	if log.AdditionalInfo.InvoiceRegistrationNumber != "" {
		receipt.WriteString(log.AdditionalInfo.InvoiceRegistrationNumber + "\n")
	}
	for _, line := range log.AdditionalInfo.ReceiptFooters {
		receipt.WriteString(b.align(line) + "\n")
	}

	journal := fmt.Sprintf("%s %s %s-%s-%d tran=%d receipt=%d total=%d staff=%s\n%s",
		log.GenerateDateTime,
		log.TransactionType,
		log.TenantID, log.StoreCode, log.TerminalNo,
		log.TransactionNo, log.ReceiptNo,
		log.Sales.TotalAmountWithTax,
		log.Staff.ID,
		receipt.String(),
	)
	return receipt.String(), journal
}

func (b standardReceiptBuilder) amountLine(label string, amount int64) string {
	value := fmt.Sprintf("%d", amount)
	pad := b.width - len(label) - len(value)
	if pad < 1 {
		pad = 1
	}
	return label + strings.Repeat(" ", pad) + value + "\n"
}

func (b standardReceiptBuilder) center(text string) string {
	if len(text) >= b.width {
		return text
	}
	pad := (b.width - len(text)) / 2
	return strings.Repeat(" ", pad) + text
}

func (b standardReceiptBuilder) align(line domain.ReceiptLine) string {
	switch strings.ToLower(line.Align) {
	case "center":
		return b.center(line.Text)
	case "right":
		if pad := b.width - len(line.Text); pad > 0 {
			return strings.Repeat(" ", pad) + line.Text
		}
		return line.Text
	default:
		return line.Text
	}
}
