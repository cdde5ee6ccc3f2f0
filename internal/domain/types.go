package domain

import (
	"fmt"
	"time"
)

// TerminalStatus tracks the open/close lifecycle of a terminal.
type TerminalStatus string

const (
	TerminalIdle   TerminalStatus = "Idle"
	TerminalOpened TerminalStatus = "Opened"
	TerminalClosed TerminalStatus = "Closed"
)

// FunctionMode is the operator-facing mode a terminal is currently in.
type FunctionMode string

const (
	ModeMainMenu      FunctionMode = "MainMenu"
	ModeOpenTerminal  FunctionMode = "OpenTerminal"
	ModeSales         FunctionMode = "Sales"
	ModeReturns       FunctionMode = "Returns"
	ModeVoid          FunctionMode = "Void"
	ModeCashInOut     FunctionMode = "CashInOut"
	ModeCloseTerminal FunctionMode = "CloseTerminal"
)

// CartStatus is a state of the cart lifecycle FSM.
type CartStatus string

const (
	CartInitial      CartStatus = "Initial"
	CartIdle         CartStatus = "Idle"
	CartEnteringItem CartStatus = "EnteringItem"
	CartPaying       CartStatus = "Paying"
	CartCompleted    CartStatus = "Completed"
	CartCancelled    CartStatus = "Cancelled"
)

// TransactionType classifies a transaction log entry.
type TransactionType string

const (
	TypeNormalSales TransactionType = "NormalSales"
	TypeReturnSales TransactionType = "ReturnSales"
	TypeVoidSales   TransactionType = "VoidSales"
	TypeVoidReturn  TransactionType = "VoidReturn"
	TypeFlashReport TransactionType = "FlashReport"
	TypeDailyReport TransactionType = "DailyReport"
)

// Factor returns the sign a transaction type contributes to aggregates:
// sales count positive, voids and returns reverse their originals.
func (t TransactionType) Factor() int64 {
	switch t {
	case TypeNormalSales, TypeVoidReturn:
		return 1
	case TypeReturnSales, TypeVoidSales:
		return -1
	default:
		return 0
	}
}

// DiscountType distinguishes fixed-amount from percentage discounts.
type DiscountType string

const (
	DiscountAmount     DiscountType = "DiscountAmount"
	DiscountPercentage DiscountType = "DiscountPercentage"
)

// TaxType classifies how a tax applies to quoted prices.
type TaxType string

const (
	TaxInternal TaxType = "Internal"
	TaxExternal TaxType = "External"
	TaxExempt   TaxType = "Exempt"
)

// CounterType names the per-terminal sequences.
type CounterType string

const (
	CounterTransaction CounterType = "transaction"
	CounterReceipt     CounterType = "receipt"
)

// StaffRef embeds the identity of the operating staff member.
type StaffRef struct {
	ID   string `firestore:"id" json:"id"`
	Name string `firestore:"name" json:"name"`
}

// Terminal is the registry entry for one point-of-sale terminal.
type Terminal struct {
	TenantID        string         `firestore:"tenantId" json:"tenant_id"`
	StoreCode       string         `firestore:"storeCode" json:"store_code"`
	TerminalNo      int            `firestore:"terminalNo" json:"terminal_no"`
	Description     string         `firestore:"description" json:"description"`
	Status          TerminalStatus `firestore:"status" json:"status"`
	FunctionMode    FunctionMode   `firestore:"functionMode" json:"function_mode"`
	BusinessDate    string         `firestore:"businessDate" json:"business_date"`
	OpenCounter     int            `firestore:"openCounter" json:"open_counter"`
	BusinessCounter int            `firestore:"businessCounter" json:"business_counter"`
	InitialAmount   *int64         `firestore:"initialAmount,omitempty" json:"initial_amount,omitempty"`
	PhysicalAmount  *int64         `firestore:"physicalAmount,omitempty" json:"physical_amount,omitempty"`
	Staff           *StaffRef      `firestore:"staff,omitempty" json:"staff,omitempty"`
	APIKey          string         `firestore:"apiKey" json:"-"`
	CreatedAt       time.Time      `firestore:"createdAt" json:"created_at"`
	UpdatedAt       time.Time      `firestore:"updatedAt" json:"updated_at"`
}

// ID derives the terminal's string identity from its domain key.
func (t Terminal) ID() string {
	return TerminalID(t.TenantID, t.StoreCode, t.TerminalNo)
}

// TerminalID builds the derived terminal identifier "{tenant}-{store}-{no}".
func TerminalID(tenantID, storeCode string, terminalNo int) string {
	return fmt.Sprintf("%s-%s-%d", tenantID, storeCode, terminalNo)
}

// Discount is one applied discount, at line or subtotal level.
type Discount struct {
	DiscountType   DiscountType `firestore:"discountType" json:"discount_type"`
	DiscountValue  float64      `firestore:"discountValue" json:"discount_value"`
	DiscountAmount int64        `firestore:"discountAmount" json:"discount_amount"`
	DiscountDetail string       `firestore:"discountDetail,omitempty" json:"discount_detail,omitempty"`
	DiscountReason string       `firestore:"discountReason,omitempty" json:"discount_reason,omitempty"`
}

// LineItem is one entry line inside a cart or transaction.
type LineItem struct {
	LineNo               int        `firestore:"lineNo" json:"line_no"`
	ItemCode             string     `firestore:"itemCode" json:"item_code"`
	CategoryCode         string     `firestore:"categoryCode" json:"category_code"`
	Description          string     `firestore:"description" json:"description"`
	UnitPrice            int64      `firestore:"unitPrice" json:"unit_price"`
	UnitPriceOriginal    *int64     `firestore:"unitPriceOriginal,omitempty" json:"unit_price_original,omitempty"`
	IsUnitPriceChanged   bool       `firestore:"isUnitPriceChanged" json:"is_unit_price_changed"`
	Quantity             int64      `firestore:"quantity" json:"quantity"`
	TaxCode              string     `firestore:"taxCode" json:"tax_code"`
	IsCancelled          bool       `firestore:"isCancelled" json:"is_cancelled"`
	IsDiscountRestricted bool       `firestore:"isDiscountRestricted" json:"is_discount_restricted"`
	Amount               int64      `firestore:"amount" json:"amount"`
	Discounts            []Discount `firestore:"discounts,omitempty" json:"discounts,omitempty"`
	DiscountsAllocated   []Discount `firestore:"discountsAllocated,omitempty" json:"discounts_allocated,omitempty"`
}

// Payment is one tender applied against the cart balance.
type Payment struct {
	PaymentNo     int    `firestore:"paymentNo" json:"payment_no"`
	PaymentCode   string `firestore:"paymentCode" json:"payment_code"`
	Description   string `firestore:"description" json:"description"`
	Amount        int64  `firestore:"amount" json:"amount"`
	DepositAmount *int64 `firestore:"depositAmount,omitempty" json:"deposit_amount,omitempty"`
	Detail        string `firestore:"detail,omitempty" json:"detail,omitempty"`
}

// Tax is one computed tax bucket on a cart or transaction.
type Tax struct {
	TaxNo          int     `firestore:"taxNo" json:"tax_no"`
	TaxCode        string  `firestore:"taxCode" json:"tax_code"`
	TaxType        TaxType `firestore:"taxType" json:"tax_type"`
	TaxName        string  `firestore:"taxName" json:"tax_name"`
	TaxAmount      int64   `firestore:"taxAmount" json:"tax_amount"`
	TargetAmount   int64   `firestore:"targetAmount" json:"target_amount"`
	TargetQuantity int64   `firestore:"targetQuantity" json:"target_quantity"`
}

// SalesSummary aggregates cart/transaction totals. TotalAmount is
// post-discount and pre-external-tax; TaxAmount holds external tax only —
// internal tax lives solely in the taxes array.
type SalesSummary struct {
	TotalAmount         int64 `firestore:"totalAmount" json:"total_amount"`
	TaxAmount           int64 `firestore:"taxAmount" json:"tax_amount"`
	TotalAmountWithTax  int64 `firestore:"totalAmountWithTax" json:"total_amount_with_tax"`
	TotalDiscountAmount int64 `firestore:"totalDiscountAmount" json:"total_discount_amount"`
	TotalQuantity       int64 `firestore:"totalQuantity" json:"total_quantity"`
	ChangeAmount        int64 `firestore:"changeAmount" json:"change_amount"`
	IsCancelled         bool  `firestore:"isCancelled" json:"is_cancelled"`
	IsStampDutyApplied  bool  `firestore:"isStampDutyApplied" json:"is_stamp_duty_applied"`
	StampDutyAmount     int64 `firestore:"stampDutyAmount" json:"stamp_duty_amount"`
}

// ItemMaster is the frozen item master row a cart snapshots on add.
type ItemMaster struct {
	ItemCode             string `firestore:"itemCode" json:"item_code"`
	CategoryCode         string `firestore:"categoryCode" json:"category_code"`
	Description          string `firestore:"description" json:"description"`
	UnitPrice            int64  `firestore:"unitPrice" json:"unit_price"`
	TaxCode              string `firestore:"taxCode" json:"tax_code"`
	IsDiscountRestricted bool   `firestore:"isDiscountRestricted" json:"is_discount_restricted"`
}

// TaxMaster describes one tax code: its rate and application type.
type TaxMaster struct {
	TaxCode string  `firestore:"taxCode" json:"tax_code"`
	TaxType TaxType `firestore:"taxType" json:"tax_type"`
	TaxName string  `firestore:"taxName" json:"tax_name"`
	Rate    float64 `firestore:"rate" json:"rate"`
}

// PaymentMaster describes one payment method and its capabilities.
type PaymentMaster struct {
	PaymentCode    string `firestore:"paymentCode" json:"payment_code"`
	Description    string `firestore:"description" json:"description"`
	CanRefund      bool   `firestore:"canRefund" json:"can_refund"`
	CanDepositOver bool   `firestore:"canDepositOver" json:"can_deposit_over"`
	CanChange      bool   `firestore:"canChange" json:"can_change"`
}

// CartMasters holds the master data frozen into the cart at entry time so the
// pricing engine stays deterministic against master updates mid-sale. The
// snapshot belongs to the cart alone and is written atomically with it.
type CartMasters struct {
	Items    map[string]ItemMaster `firestore:"items,omitempty" json:"items,omitempty"`
	Taxes    []TaxMaster           `firestore:"taxes,omitempty" json:"taxes,omitempty"`
	Payments []PaymentMaster       `firestore:"payments,omitempty" json:"payments,omitempty"`
	Settings map[string]string     `firestore:"settings,omitempty" json:"settings,omitempty"`
}

// Cart is the mutable pre-transaction container scoped to one terminal.
type Cart struct {
	CartID            string          `firestore:"cartId" json:"cart_id"`
	TenantID          string          `firestore:"tenantId" json:"tenant_id"`
	StoreCode         string          `firestore:"storeCode" json:"store_code"`
	TerminalNo        int             `firestore:"terminalNo" json:"terminal_no"`
	Status            CartStatus      `firestore:"status" json:"status"`
	TransactionType   TransactionType `firestore:"transactionType" json:"transaction_type"`
	User              StaffRef        `firestore:"user" json:"user"`
	LineItems         []LineItem      `firestore:"lineItems,omitempty" json:"line_items,omitempty"`
	SubtotalDiscounts []Discount      `firestore:"subtotalDiscounts,omitempty" json:"subtotal_discounts,omitempty"`
	Payments          []Payment       `firestore:"payments,omitempty" json:"payments,omitempty"`
	Taxes             []Tax           `firestore:"taxes,omitempty" json:"taxes,omitempty"`
	Sales             SalesSummary    `firestore:"sales" json:"sales"`
	BalanceAmount     int64           `firestore:"balanceAmount" json:"balance_amount"`
	Masters           CartMasters     `firestore:"masters,omitempty" json:"masters,omitempty"`
	CreatedAt         time.Time       `firestore:"createdAt" json:"created_at"`
	UpdatedAt         time.Time       `firestore:"updatedAt" json:"updated_at"`
}

// TranReference points to another transaction on the same tenant.
type TranReference struct {
	TenantID      string `firestore:"tenantId" json:"tenant_id"`
	StoreCode     string `firestore:"storeCode" json:"store_code"`
	TerminalNo    int    `firestore:"terminalNo" json:"terminal_no"`
	TransactionNo int64  `firestore:"transactionNo" json:"transaction_no"`
}

// ReceiptLine is one configured receipt header or footer line.
type ReceiptLine struct {
	Text  string `firestore:"text" json:"text"`
	Align string `firestore:"align" json:"align"`
}

// TranAdditionalInfo carries receipt decorations resolved at finalisation.
type TranAdditionalInfo struct {
	InvoiceRegistrationNumber string        `firestore:"invoiceRegistrationNumber,omitempty" json:"invoice_registration_number,omitempty"`
	ReceiptHeaders            []ReceiptLine `firestore:"receiptHeaders,omitempty" json:"receipt_headers,omitempty"`
	ReceiptFooters            []ReceiptLine `firestore:"receiptFooters,omitempty" json:"receipt_footers,omitempty"`
	StampDutyAmount           int64         `firestore:"stampDutyAmount,omitempty" json:"stamp_duty_amount,omitempty"`
}

// TranLog is the immutable committed transaction record. Once written it is
// never updated; void/refund flags live on TransactionStatus.
type TranLog struct {
	TenantID          string             `firestore:"tenantId" json:"tenant_id"`
	StoreCode         string             `firestore:"storeCode" json:"store_code"`
	TerminalNo        int                `firestore:"terminalNo" json:"terminal_no"`
	TransactionNo     int64              `firestore:"transactionNo" json:"transaction_no"`
	TransactionType   TransactionType    `firestore:"transactionType" json:"transaction_type"`
	ReceiptNo         int64              `firestore:"receiptNo" json:"receipt_no"`
	BusinessDate      string             `firestore:"businessDate" json:"business_date"`
	OpenCounter       int                `firestore:"openCounter" json:"open_counter"`
	BusinessCounter   int                `firestore:"businessCounter" json:"business_counter"`
	GenerateDateTime  string             `firestore:"generateDateTime" json:"generate_date_time"`
	Staff             StaffRef           `firestore:"staff" json:"staff"`
	User              StaffRef           `firestore:"user" json:"user"`
	Origin            *TranReference     `firestore:"origin,omitempty" json:"origin,omitempty"`
	LineItems         []LineItem         `firestore:"lineItems,omitempty" json:"line_items,omitempty"`
	SubtotalDiscounts []Discount         `firestore:"subtotalDiscounts,omitempty" json:"subtotal_discounts,omitempty"`
	Payments          []Payment          `firestore:"payments,omitempty" json:"payments,omitempty"`
	Taxes             []Tax              `firestore:"taxes,omitempty" json:"taxes,omitempty"`
	Sales             SalesSummary       `firestore:"sales" json:"sales"`
	ReceiptText       string             `firestore:"receiptText,omitempty" json:"receipt_text,omitempty"`
	JournalText       string             `firestore:"journalText,omitempty" json:"journal_text,omitempty"`
	AdditionalInfo    TranAdditionalInfo `firestore:"additionalInfo,omitempty" json:"additional_info,omitempty"`
}

// ID derives the tranlog document identity.
func (t TranLog) ID() string {
	return TranLogID(t.TenantID, t.StoreCode, t.TerminalNo, t.TransactionNo)
}

// TranLogID builds the tranlog document key.
func TranLogID(tenantID, storeCode string, terminalNo int, transactionNo int64) string {
	return fmt.Sprintf("%s-%s-%d-%d", tenantID, storeCode, terminalNo, transactionNo)
}

// TransactionStatus tracks the mutable void/refund flags of a transaction,
// decoupled from the immutable tranlog.
type TransactionStatus struct {
	TenantID            string    `firestore:"tenantId" json:"tenant_id"`
	StoreCode           string    `firestore:"storeCode" json:"store_code"`
	TerminalNo          int       `firestore:"terminalNo" json:"terminal_no"`
	TransactionNo       int64     `firestore:"transactionNo" json:"transaction_no"`
	IsVoided            bool      `firestore:"isVoided" json:"is_voided"`
	VoidTransactionNo   int64     `firestore:"voidTransactionNo,omitempty" json:"void_transaction_no,omitempty"`
	IsRefunded          bool      `firestore:"isRefunded" json:"is_refunded"`
	ReturnTransactionNo int64     `firestore:"returnTransactionNo,omitempty" json:"return_transaction_no,omitempty"`
	UpdatedAt           time.Time `firestore:"updatedAt" json:"updated_at"`
}

// CashInOutLog is one immutable cash drawer movement; Amount is signed
// (positive cash in, negative cash out).
type CashInOutLog struct {
	TenantID         string   `firestore:"tenantId" json:"tenant_id"`
	StoreCode        string   `firestore:"storeCode" json:"store_code"`
	TerminalNo       int      `firestore:"terminalNo" json:"terminal_no"`
	BusinessDate     string   `firestore:"businessDate" json:"business_date"`
	OpenCounter      int      `firestore:"openCounter" json:"open_counter"`
	BusinessCounter  int      `firestore:"businessCounter" json:"business_counter"`
	GenerateDateTime string   `firestore:"generateDateTime" json:"generate_date_time"`
	Amount           int64    `firestore:"amount" json:"amount"`
	Description      string   `firestore:"description" json:"description"`
	Staff            StaffRef `firestore:"staff" json:"staff"`
}

// OpenCloseLog records a terminal open or close. Close embeds repository
// snapshots the reconciliation gate later verifies against.
type OpenCloseLog struct {
	TenantID              string       `firestore:"tenantId" json:"tenant_id"`
	StoreCode             string       `firestore:"storeCode" json:"store_code"`
	TerminalNo            int          `firestore:"terminalNo" json:"terminal_no"`
	BusinessDate          string       `firestore:"businessDate" json:"business_date"`
	OpenCounter           int          `firestore:"openCounter" json:"open_counter"`
	BusinessCounter       int          `firestore:"businessCounter" json:"business_counter"`
	Operation             string       `firestore:"operation" json:"operation"`
	GenerateDateTime      string       `firestore:"generateDateTime" json:"generate_date_time"`
	Staff                 StaffRef     `firestore:"staff" json:"staff"`
	InitialAmount         *int64       `firestore:"initialAmount,omitempty" json:"initial_amount,omitempty"`
	PhysicalAmount        *int64       `firestore:"physicalAmount,omitempty" json:"physical_amount,omitempty"`
	CartTransactionCount  int64        `firestore:"cartTransactionCount" json:"cart_transaction_count"`
	CartTransactionLastNo int64        `firestore:"cartTransactionLastNo" json:"cart_transaction_last_no"`
	CashInOutCount        int64        `firestore:"cashInOutCount" json:"cash_in_out_count"`
	CashInOutLastDateTime string       `firestore:"cashInOutLastDatetime" json:"cash_in_out_last_datetime"`
	TerminalInfo          *Terminal    `firestore:"terminalInfo,omitempty" json:"terminal_info,omitempty"`
	Receipt               *ReceiptData `firestore:"-" json:"-"`
}

// ReceiptData carries rendered receipt and journal text for a log entry.
type ReceiptData struct {
	ReceiptText string `firestore:"receiptText,omitempty" json:"receipt_text,omitempty"`
	JournalText string `firestore:"journalText,omitempty" json:"journal_text,omitempty"`
}

const (
	OperationOpen  = "open"
	OperationClose = "close"
)

// DeliveryServiceState is the per-destination delivery status.
type DeliveryServiceState string

const (
	DeliveryServicePending  DeliveryServiceState = "pending"
	DeliveryServiceReceived DeliveryServiceState = "received"
	DeliveryServiceFailed   DeliveryServiceState = "failed"
)

// DeliveryState is the overall delivery status of one published event.
type DeliveryState string

const (
	DeliveryPending            DeliveryState = "pending"
	DeliveryPublished          DeliveryState = "published"
	DeliveryPartiallyDelivered DeliveryState = "partially_delivered"
	DeliveryDelivered          DeliveryState = "delivered"
	DeliveryFailed             DeliveryState = "failed"
)

// ServiceDelivery is the per-consumer ACK tracking entry.
type ServiceDelivery struct {
	Name      string               `firestore:"name" json:"name"`
	Status    DeliveryServiceState `firestore:"status" json:"status"`
	Message   string               `firestore:"message,omitempty" json:"message,omitempty"`
	UpdatedAt time.Time            `firestore:"updatedAt" json:"updated_at"`
}

// DeliveryStatus is the producer-side row tracking one published event across
// its consumer services.
type DeliveryStatus struct {
	EventID       string            `firestore:"eventId" json:"event_id"`
	Topic         string            `firestore:"topic" json:"topic"`
	EventType     string            `firestore:"eventType,omitempty" json:"event_type,omitempty"`
	Payload       string            `firestore:"payload" json:"payload"`
	Services      []ServiceDelivery `firestore:"services" json:"services"`
	OverallStatus DeliveryState     `firestore:"overallStatus" json:"overall_status"`
	CreatedAt     time.Time         `firestore:"createdAt" json:"created_at"`
	TenantID      string            `firestore:"tenantId" json:"tenant_id"`
	TransactionNo *int64            `firestore:"transactionNo,omitempty" json:"transaction_no,omitempty"`
}

// Overall recomputes the overall status from the per-service entries, given
// the current overall value (which encodes whether publish succeeded).
func (d DeliveryStatus) Overall() DeliveryState {
	if len(d.Services) == 0 {
		return d.OverallStatus
	}
	received, failed := 0, 0
	for _, svc := range d.Services {
		switch svc.Status {
		case DeliveryServiceReceived:
			received++
		case DeliveryServiceFailed:
			failed++
		}
	}
	switch {
	case received == len(d.Services):
		return DeliveryDelivered
	case failed == len(d.Services):
		return DeliveryFailed
	case received > 0:
		return DeliveryPartiallyDelivered
	default:
		return d.OverallStatus
	}
}

// StockUpdateType classifies an inventory movement.
type StockUpdateType string

const (
	StockUpdateSale       StockUpdateType = "sale"
	StockUpdateReturn     StockUpdateType = "return"
	StockUpdateVoidReturn StockUpdateType = "void_return"
	StockUpdateVoidSale   StockUpdateType = "void_sale"
	StockUpdateManualIn   StockUpdateType = "manual_in"
	StockUpdateManualOut  StockUpdateType = "manual_out"
	StockUpdateAdjustment StockUpdateType = "adjustment"
	StockUpdatePurchase   StockUpdateType = "purchase"
)

// StockUpdateTypeFor maps a transaction type onto its inventory movement type.
func StockUpdateTypeFor(t TransactionType) (StockUpdateType, bool) {
	switch t {
	case TypeNormalSales:
		return StockUpdateSale, true
	case TypeReturnSales:
		return StockUpdateReturn, true
	case TypeVoidReturn:
		return StockUpdateVoidReturn, true
	case TypeVoidSales:
		return StockUpdateVoidSale, true
	default:
		return "", false
	}
}

// Stock is the per-item inventory row.
type Stock struct {
	TenantID        string    `firestore:"tenantId" json:"tenant_id"`
	StoreCode       string    `firestore:"storeCode" json:"store_code"`
	ItemCode        string    `firestore:"itemCode" json:"item_code"`
	CurrentQuantity int64     `firestore:"currentQuantity" json:"current_quantity"`
	MinimumQuantity *int64    `firestore:"minimumQuantity,omitempty" json:"minimum_quantity,omitempty"`
	ReorderPoint    *int64    `firestore:"reorderPoint,omitempty" json:"reorder_point,omitempty"`
	ReorderQuantity *int64    `firestore:"reorderQuantity,omitempty" json:"reorder_quantity,omitempty"`
	LastUpdateTime  time.Time `firestore:"lastUpdateTime" json:"last_update_time"`
}

// StockID builds the stock document key.
func StockID(tenantID, storeCode, itemCode string) string {
	return fmt.Sprintf("%s-%s-%s", tenantID, storeCode, itemCode)
}

// StockUpdate is one append-only inventory movement record.
type StockUpdate struct {
	EventID          string          `firestore:"eventId" json:"event_id"`
	TenantID         string          `firestore:"tenantId" json:"tenant_id"`
	StoreCode        string          `firestore:"storeCode" json:"store_code"`
	ItemCode         string          `firestore:"itemCode" json:"item_code"`
	PreviousQuantity int64           `firestore:"previousQuantity" json:"previous_quantity"`
	QuantityChange   int64           `firestore:"quantityChange" json:"quantity_change"`
	NewQuantity      int64           `firestore:"newQuantity" json:"new_quantity"`
	UpdateType       StockUpdateType `firestore:"updateType" json:"update_type"`
	ReferenceID      string          `firestore:"referenceId,omitempty" json:"reference_id,omitempty"`
	OperatorID       string          `firestore:"operatorId,omitempty" json:"operator_id,omitempty"`
	Note             string          `firestore:"note,omitempty" json:"note,omitempty"`
	Timestamp        time.Time       `firestore:"timestamp" json:"timestamp"`
}

// SnapshotItem is one item quantity captured in a stock snapshot.
type SnapshotItem struct {
	ItemCode string `firestore:"itemCode" json:"item_code"`
	Quantity int64  `firestore:"quantity" json:"quantity"`
}

// StockSnapshot is a point-in-time copy of a tenant's stock collection.
type StockSnapshot struct {
	SnapshotID       string         `firestore:"snapshotId" json:"snapshot_id"`
	TenantID         string         `firestore:"tenantId" json:"tenant_id"`
	StoreCode        string         `firestore:"storeCode" json:"store_code"`
	GenerateDateTime string         `firestore:"generateDateTime" json:"generate_date_time"`
	CreatedBy        string         `firestore:"createdBy" json:"created_by"`
	Items            []SnapshotItem `firestore:"items" json:"items"`
}

// MinimumStockAlert / ReorderPointAlert names used for stock alert events.
const (
	AlertMinimumStock = "minimum_stock"
	AlertReorderPoint = "reorder_point"
)

// StockAlert is the fire-and-forget notification emitted when quantities fall
// below their configured thresholds.
type StockAlert struct {
	AlertType       string `json:"alert_type"`
	TenantID        string `json:"tenant_id"`
	StoreCode       string `json:"store_code"`
	ItemCode        string `json:"item_code"`
	CurrentQuantity int64  `json:"current_quantity"`
	Threshold       int64  `json:"threshold"`
}

// ReportAmount aggregates one discount bucket on a sales report.
type ReportAmount struct {
	Amount   int64 `firestore:"amount" json:"amount"`
	Quantity int64 `firestore:"quantity" json:"quantity"`
	Count    int64 `firestore:"count" json:"count"`
}

// ReportTax is one per-tax-code aggregation bucket.
type ReportTax struct {
	TaxCode      string `firestore:"taxCode" json:"tax_code"`
	TaxName      string `firestore:"taxName,omitempty" json:"tax_name,omitempty"`
	TaxAmount    int64  `firestore:"taxAmount" json:"tax_amount"`
	TargetAmount int64  `firestore:"targetAmount" json:"target_amount"`
}

// ReportPayment is one per-payment-code aggregation bucket.
type ReportPayment struct {
	PaymentCode string `firestore:"paymentCode" json:"payment_code"`
	Description string `firestore:"description,omitempty" json:"description,omitempty"`
	Amount      int64  `firestore:"amount" json:"amount"`
	Count       int64  `firestore:"count" json:"count"`
}

// ReportItem is one per-item (or per-category) aggregation bucket.
type ReportItem struct {
	ItemCode     string `firestore:"itemCode,omitempty" json:"item_code,omitempty"`
	CategoryCode string `firestore:"categoryCode,omitempty" json:"category_code,omitempty"`
	Description  string `firestore:"description,omitempty" json:"description,omitempty"`
	Quantity     int64  `firestore:"quantity" json:"quantity"`
	Amount       int64  `firestore:"amount" json:"amount"`
	Count        int64  `firestore:"count" json:"count"`
}

// CashSection joins the aggregated cash payments with the drawer logs.
type CashSection struct {
	LogicalAmount  int64 `firestore:"logicalAmount" json:"logical_amount"`
	PhysicalAmount int64 `firestore:"physicalAmount" json:"physical_amount"`
	Difference     int64 `firestore:"difference" json:"difference"`
	CashIn         int64 `firestore:"cashIn" json:"cash_in"`
	CashOut        int64 `firestore:"cashOut" json:"cash_out"`
}

// SalesReport is the derived settlement/flash report document.
type SalesReport struct {
	TenantID             string          `firestore:"tenantId" json:"tenant_id"`
	StoreCode            string          `firestore:"storeCode" json:"store_code"`
	TerminalNo           *int            `firestore:"terminalNo,omitempty" json:"terminal_no,omitempty"`
	BusinessDate         string          `firestore:"businessDate" json:"business_date"`
	BusinessDateTo       string          `firestore:"businessDateTo,omitempty" json:"business_date_to,omitempty"`
	OpenCounter          *int            `firestore:"openCounter,omitempty" json:"open_counter,omitempty"`
	ReportScope          string          `firestore:"reportScope" json:"report_scope"`
	ReportType           string          `firestore:"reportType" json:"report_type"`
	TransactionCount     int64           `firestore:"transactionCount" json:"transaction_count"`
	SalesGross           int64           `firestore:"salesGross" json:"sales_gross"`
	SalesNet             int64           `firestore:"salesNet" json:"sales_net"`
	Returns              int64           `firestore:"returns" json:"returns"`
	DiscountForLineItems ReportAmount    `firestore:"discountForLineitems" json:"discount_for_lineitems"`
	DiscountForSubtotal  ReportAmount    `firestore:"discountForSubtotal" json:"discount_for_subtotal"`
	Taxes                []ReportTax     `firestore:"taxes,omitempty" json:"taxes,omitempty"`
	Payments             []ReportPayment `firestore:"payments,omitempty" json:"payments,omitempty"`
	Items                []ReportItem    `firestore:"items,omitempty" json:"items,omitempty"`
	Cash                 *CashSection    `firestore:"cash,omitempty" json:"cash,omitempty"`
	GenerateDateTime     string          `firestore:"generateDateTime" json:"generate_date_time"`
}

// DailyInfo records the reconciliation gate verdict for one business session.
type DailyInfo struct {
	TenantID     string    `firestore:"tenantId" json:"tenant_id"`
	StoreCode    string    `firestore:"storeCode" json:"store_code"`
	TerminalNo   int       `firestore:"terminalNo" json:"terminal_no"`
	BusinessDate string    `firestore:"businessDate" json:"business_date"`
	OpenCounter  int       `firestore:"openCounter" json:"open_counter"`
	Verified     bool      `firestore:"verified" json:"verified"`
	Message      string    `firestore:"message,omitempty" json:"message,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt" json:"updated_at"`
}

// Event type labels injected on terminal event envelopes.
const (
	EventTypeCashInOut = "cash_in_out"
	EventTypeOpen      = "open"
	EventTypeClose     = "close"
)

// Consumer service names tracked by the delivery tracker.
const (
	ServiceReport  = "report"
	ServiceJournal = "journal"
	ServiceStock   = "stock"
)

// BusinessDateLayout is the YYYYMMDD layout of logical sales dates.
const BusinessDateLayout = "20060102"

// DateTimeLayout renders datetimes as ISO-8601 with explicit offset.
const DateTimeLayout = time.RFC3339
