package services

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/tenpo-pos/core/internal/domain"
)

// Setting keys consumed by the transaction finaliser.
const (
	SettingReceiptNoStart     = "RECEIPT_NO_START_VALUE"
	SettingReceiptNoEnd       = "RECEIPT_NO_END_VALUE"
	SettingInvoiceRegNumber   = "INVOICE_REGISTRATION_NUMBER"
	SettingReceiptHeaders     = "RECEIPT_HEADERS"
	SettingReceiptFooters     = "RECEIPT_FOOTERS"
	SettingStampDutyMaster    = "STAMP_DUTY_MASTER"
	SettingCartRoundingMode   = "ROUNDING_MODE"
	SettingCashPaymentCode    = "CASH_PAYMENT_CODE"
)

const (
	defaultReceiptNoStart  = int64(1)
	defaultReceiptNoEnd    = int64(999999)
	defaultCashPaymentCode = "01"
)

// StampDutyEntry is one threshold row of the stamp duty master. Entries are
// ordered; the first whose target amount is met wins.
type StampDutyEntry struct {
	TargetAmount    int64 `json:"target_amount"`
	StampDutyAmount int64 `json:"stamp_duty_amount"`
}

// decodeSettingValue decodes a structured setting value. Upstream tooling has
// historically written these as JSON, as python-literal-style text, or with
// single quotes, so the parser tries JSON, then python-constant
// normalisation, then a quote swap before giving up.
func decodeSettingValue(value string, out any) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return errEmptySetting
	}

	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return nil
	}

	normalised := strings.NewReplacer(
		"True", "true",
		"False", "false",
		"None", "null",
	).Replace(trimmed)
	if err := json.Unmarshal([]byte(normalised), out); err == nil {
		return nil
	}

	swapped := strings.NewReplacer(`"`, `'`, `'`, `"`).Replace(normalised)
	return json.Unmarshal([]byte(swapped), out)
}

var errEmptySetting = errors.New("setting value is empty")

// parseReceiptLines decodes RECEIPT_HEADERS / RECEIPT_FOOTERS. A plain string
// list is accepted and promoted to left-aligned lines. Failures log a warning
// and yield nil; a malformed setting never blocks billing.
func parseReceiptLines(ctx context.Context, log Logger, key, value string) []domain.ReceiptLine {
	if strings.TrimSpace(value) == "" {
		return nil
	}

	var lines []domain.ReceiptLine
	if err := decodeSettingValue(value, &lines); err == nil && len(lines) > 0 {
		return lines
	}

	var texts []string
	if err := decodeSettingValue(value, &texts); err == nil {
		lines = make([]domain.ReceiptLine, 0, len(texts))
		for _, text := range texts {
			lines = append(lines, domain.ReceiptLine{Text: text, Align: "left"})
		}
		return lines
	}

	log(ctx, "settings.parse_failed", map[string]any{"key": key, "value": value})
	return nil
}

// parseStampDutyMaster decodes STAMP_DUTY_MASTER; malformed entries log and
// yield nil (no stamp duty applied).
func parseStampDutyMaster(ctx context.Context, log Logger, value string) []StampDutyEntry {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	var entries []StampDutyEntry
	if err := decodeSettingValue(value, &entries); err != nil {
		log(ctx, "settings.parse_failed", map[string]any{"key": SettingStampDutyMaster, "value": value})
		return nil
	}
	return entries
}

// stampDutyFor returns the duty owed for the given cash portion and
// tax-exclusive total. Both must reach the threshold; first match wins.
func stampDutyFor(entries []StampDutyEntry, cashAmount, totalWithoutTax int64) (int64, bool) {
	for _, entry := range entries {
		if cashAmount >= entry.TargetAmount && totalWithoutTax >= entry.TargetAmount {
			return entry.StampDutyAmount, true
		}
	}
	return 0, false
}

// settingInt64 reads an integer setting with a default.
func settingInt64(settings map[string]string, key string, fallback int64) int64 {
	raw, ok := settings[key]
	if !ok {
		return fallback
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fallback
	}
	return value
}

// settingString reads a string setting with a default.
func settingString(settings map[string]string, key, fallback string) string {
	if value, ok := settings[key]; ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

// roundingModeFromSettings resolves the tenant's rounding mode, defaulting to
// banker's rounding.
func roundingModeFromSettings(settings map[string]string) domain.RoundingMode {
	switch strings.ToLower(settingString(settings, SettingCartRoundingMode, "")) {
	case "half_up":
		return domain.RoundHalfUp
	case "floor":
		return domain.RoundFloor
	case "ceiling":
		return domain.RoundCeiling
	default:
		return domain.RoundBankers
	}
}
