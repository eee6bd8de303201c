package nayax

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNormalizeBasic(t *testing.T) {
	rec, err := Normalize("machine-1", RawSale{
		"TransactionID":            "tx-1",
		"SettlementValue":          json.Number("2.50"),
		"Currency":                 "EUR",
		"ProductName":              "Espresso",
		"PaymentMethod":            "Card",
		"AuthorizationDateTimeGMT": "2024-03-15T12:30:00",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if rec.TransactionID != "tx-1" || rec.MachineID != "machine-1" {
		t.Fatalf("unexpected identity %q/%q", rec.TransactionID, rec.MachineID)
	}
	if rec.AmountCents != 250 || rec.SettlementCents != 250 {
		t.Fatalf("expected 250 cents, got %d/%d", rec.AmountCents, rec.SettlementCents)
	}
	want := time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)
	if !rec.SettledAt.Equal(want) {
		t.Fatalf("expected %v, got %v", want, rec.SettledAt)
	}
	if !rec.Successful() {
		t.Fatal("positive settlement should be a successful sale")
	}
}

func TestNormalizeCamelCaseFallbacks(t *testing.T) {
	rec, err := Normalize("machine-1", RawSale{
		"transactionId":   "tx-2",
		"settlementValue": json.Number("1.00"),
		"timestamp":       "2024-03-15 08:00:00",
		"productName":     "Water",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.TransactionID != "tx-2" || rec.AmountCents != 100 {
		t.Fatalf("fallback keys not honored: %+v", rec)
	}
	if rec.ProductName != "Water" {
		t.Fatalf("expected product Water, got %q", rec.ProductName)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	rec, err := Normalize("machine-1", RawSale{
		"TransactionID":   "tx-3",
		"SettlementValue": json.Number("0.80"),
		"Timestamp":       "2024-03-15T09:00:00",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.Currency != "EUR" {
		t.Fatalf("expected default currency EUR, got %q", rec.Currency)
	}
	if rec.ProductName != "Unknown Product" || rec.PaymentMethod != "Unknown" {
		t.Fatalf("expected defaults, got %q/%q", rec.ProductName, rec.PaymentMethod)
	}
}

func TestNormalizeNumericTransactionID(t *testing.T) {
	rec, err := Normalize("machine-1", RawSale{
		"TransactionID":   json.Number("1234567"),
		"SettlementValue": json.Number("1.50"),
		"Timestamp":       "2024-03-15T09:00:00",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.TransactionID != "1234567" {
		t.Fatalf("numeric id should render as text, got %q", rec.TransactionID)
	}
}

func TestNormalizeMissingID(t *testing.T) {
	_, err := Normalize("machine-1", RawSale{
		"SettlementValue": json.Number("1.50"),
		"Timestamp":       "2024-03-15T09:00:00",
	})
	if !errors.Is(err, ErrMissingTransactionID) {
		t.Fatalf("expected ErrMissingTransactionID, got %v", err)
	}
}

func TestNormalizeMissingTimestamp(t *testing.T) {
	_, err := Normalize("machine-1", RawSale{
		"TransactionID":   "tx-4",
		"SettlementValue": json.Number("1.50"),
	})
	if !errors.Is(err, ErrMissingTimestamp) {
		t.Fatalf("expected ErrMissingTimestamp, got %v", err)
	}
}

func TestNormalizeZeroSettlementIsNotSuccessful(t *testing.T) {
	rec, err := Normalize("machine-1", RawSale{
		"TransactionID":   "tx-5",
		"SettlementValue": json.Number("0"),
		"Timestamp":       "2024-03-15T09:00:00",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.Successful() {
		t.Fatal("zero settlement is a failed authorization, not a sale")
	}
}

func TestDecimalCentsExactness(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"0.10", 10},
		{"0.1", 10},
		{"2.50", 250},
		{"2.5", 250},
		{"3", 300},
		{"10.00", 1000},
		{"0.005", 1},
		{"0.004", 0},
		{"-1.25", -125},
		{"1.999", 200},
	}
	for _, tc := range cases {
		got, err := decimalStringCents(tc.in)
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestDecimalCentsRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "1.2x", "1..2"} {
		if _, err := decimalStringCents(in); err == nil {
			t.Fatalf("%q should not parse", in)
		}
	}
}

func TestParseTimestampVariants(t *testing.T) {
	cases := []string{
		"2024-03-15T12:30:00Z",
		"2024-03-15T12:30:00+00:00",
		"2024-03-15T12:30:00",
		"2024-03-15T12:30:00.123456",
		"2024-03-15 12:30:00",
	}
	want := time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)
	for _, in := range cases {
		got, ok := parseTimestamp(in)
		if !ok {
			t.Fatalf("%q should parse", in)
		}
		if !got.Truncate(time.Second).Equal(want) {
			t.Fatalf("%q: got %v, want %v", in, got, want)
		}
	}
	if _, ok := parseTimestamp("not-a-time"); ok {
		t.Fatal("garbage should not parse")
	}
}
