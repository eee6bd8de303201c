package nayax

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alpenava/home-assistant-nayax/internal/domain"
)

var (
	ErrMissingTransactionID = errors.New("nayax: sale without transaction id")
	ErrMissingTimestamp     = errors.New("nayax: sale without usable timestamp")
)

// Field fallbacks: the Lynx API mixes PascalCase and camelCase between
// endpoints and tenants, so every lookup tries the known spellings in order.
var (
	transactionIDKeys = []string{"TransactionID", "TransactionId", "transactionId", "id"}
	settlementKeys    = []string{"SettlementValue", "settlementValue", "amount"}
	currencyKeys      = []string{"Currency", "currency", "CurrencyCode", "currencyCode"}
	productKeys       = []string{"ProductName", "productName", "Product", "product"}
	paymentKeys       = []string{"PaymentMethod", "paymentMethod", "PaymentType", "paymentType"}
	timestampKeys     = []string{
		"AuthorizationDateTimeGMT", "authorizationDateTimeGmt",
		"AuthorizationTimeGMT", "authorizationTimeGmt",
		"MachineAuthorizationTime", "machineAuthorizationTime",
		"SettlementDateTimeGMT", "settlementDateTimeGmt",
		"Timestamp", "timestamp",
		"DateTime", "dateTime",
	}
)

var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Normalize converts a raw API sale into an immutable TransactionRecord.
// Amounts are converted to integer minor units without ever passing through
// float arithmetic.
func Normalize(machineID string, sale RawSale) (domain.TransactionRecord, error) {
	id := stringField(sale, transactionIDKeys...)
	if id == "" {
		return domain.TransactionRecord{}, ErrMissingTransactionID
	}

	settlement, err := settlementCents(sale)
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("transaction %s: %w", id, err)
	}

	settledAt, ok := parseTimestamp(stringField(sale, timestampKeys...))
	if !ok {
		return domain.TransactionRecord{}, fmt.Errorf("transaction %s: %w", id, ErrMissingTimestamp)
	}

	currency := stringField(sale, currencyKeys...)
	if currency == "" {
		currency = "EUR"
	}
	product := stringField(sale, productKeys...)
	if product == "" {
		product = "Unknown Product"
	}
	payment := stringField(sale, paymentKeys...)
	if payment == "" {
		payment = "Unknown"
	}

	raw, _ := json.Marshal(sale)

	return domain.TransactionRecord{
		TransactionID:   id,
		MachineID:       machineID,
		AmountCents:     settlement,
		Currency:        currency,
		ProductName:     product,
		PaymentMethod:   payment,
		SettledAt:       settledAt,
		SettlementCents: settlement,
		Raw:             raw,
	}, nil
}

// settlementCents extracts the settlement value in minor units.
func settlementCents(sale RawSale) (int64, error) {
	for _, key := range settlementKeys {
		value, ok := sale[key]
		if !ok || value == nil {
			continue
		}
		return decimalCents(value)
	}
	return 0, errors.New("no settlement value")
}

// decimalCents converts a JSON value holding a decimal amount into minor
// units (two decimal places). json.Number and string inputs are parsed from
// their text form so values like 0.10 stay exact; a third decimal digit
// rounds half away from zero.
func decimalCents(value any) (int64, error) {
	switch v := value.(type) {
	case json.Number:
		return decimalStringCents(v.String())
	case string:
		return decimalStringCents(v)
	case float64:
		// Only reachable when the payload was decoded without UseNumber.
		return decimalStringCents(strconv.FormatFloat(v, 'f', -1, 64))
	case int64:
		return v * 100, nil
	default:
		return 0, fmt.Errorf("unsupported amount type %T", value)
	}
}

func decimalStringCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty amount")
	}

	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}

	cents := units * 100
	if frac != "" {
		for _, r := range frac {
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("invalid amount %q", s)
			}
		}
		padded := frac + "00"
		sub, err := strconv.ParseInt(padded[:2], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
		if len(frac) > 2 && padded[2] >= '5' {
			sub++
		}
		cents += sub
	}

	if negative {
		cents = -cents
	}
	return cents, nil
}

// parseTimestamp parses the API's assorted timestamp formats. Values without
// a zone are taken as UTC, matching the *GMT field names.
func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	if t, err := time.Parse(time.RFC3339Nano, strings.Replace(s, "Z", "+00:00", 1)); err == nil {
		return t.UTC(), true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// stringField returns the first non-empty string value among the keys.
// Non-string scalars (numeric machine ids) are rendered as text.
func stringField(record map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := record[key]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
