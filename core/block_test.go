package core

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLegacyBlockHashVector(t *testing.T) {
	// sha256("0" + "1700000000.5" + "Genesis Block" + "0" + "0")
	const want = "c108329666b96c3421763adc63f2b6e50ec5e10c2c6004c38340a9d23759bcd4"
	b, err := NewBlock(0, 1700000000.5, LegacyPayload(GenesisData), GenesisPreviousHash, 1)
	if err != nil {
		t.Fatalf("NewBlock() error = %v", err)
	}
	got, err := b.CalculateHash()
	if err != nil {
		t.Fatalf("CalculateHash() error = %v", err)
	}
	if got != want {
		t.Errorf("CalculateHash() = %s, want %s", got, want)
	}
}

func TestLegacyPayloadKeyOrderIndependent(t *testing.T) {
	a, _ := NewBlock(1, 1700000000, LegacyPayload(map[string]interface{}{"x": 1, "y": []interface{}{"a", "b"}}), "prev", 1)
	b, _ := NewBlock(1, 1700000000, LegacyPayload(map[string]interface{}{"y": []interface{}{"a", "b"}, "x": 1}), "prev", 1)
	if a.GetHash() != b.GetHash() {
		t.Errorf("hash depends on map insertion order: %s vs %s", a.GetHash(), b.GetHash())
	}
}

func TestPayloadVariantIsExplicit(t *testing.T) {
	tx, _ := NewTransactionAt("Alice", "Bob", 5, 1700000000)
	txBlock, _ := NewBlock(1, 1700000000, TransactionsPayload([]*Transaction{tx}), "prev", 1)
	legacyBlock, _ := NewBlock(1, 1700000000, LegacyPayload([]interface{}{tx.hashForm()}), "prev", 1)

	if txBlock.Payload().Kind() != PayloadTransactions {
		t.Errorf("Kind() = %v, want transactions", txBlock.Payload().Kind())
	}
	if legacyBlock.Payload().Kind() != PayloadLegacy {
		t.Errorf("Kind() = %v, want legacy", legacyBlock.Payload().Kind())
	}
	if len(legacyBlock.Transactions()) != 0 {
		t.Error("legacy payload must not expose transactions")
	}
}

func TestBlockMine(t *testing.T) {
	for _, difficulty := range []int{1, 2, 3} {
		b, err := NewBlock(1, 1700000000, LegacyPayload("data"), "prev", difficulty)
		if err != nil {
			t.Fatalf("NewBlock() error = %v", err)
		}
		if _, err := b.Mine(context.Background()); err != nil {
			t.Fatalf("Mine() error = %v", err)
		}
		if !strings.HasPrefix(b.GetHash(), strings.Repeat("0", difficulty)) {
			t.Errorf("difficulty %d: hash %s lacks leading zeros", difficulty, b.GetHash())
		}
		recomputed, _ := b.CalculateHash()
		if recomputed != b.GetHash() {
			t.Errorf("difficulty %d: stored hash %s != recomputed %s", difficulty, b.GetHash(), recomputed)
		}
	}
}

func TestBlockMineHonoursDeadline(t *testing.T) {
	b, err := NewBlock(1, 1700000000, LegacyPayload("data"), "prev", 40)
	if err != nil {
		t.Fatalf("NewBlock() error = %v", err)
	}
	before := b.GetHash()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = b.Mine(ctx)

	var merr *MiningError
	if !errors.As(err, &merr) {
		t.Fatalf("Mine() error = %v, want *MiningError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Mine() error = %v, want it to wrap the deadline", err)
	}
	if b.GetHash() != before || b.GetNonce() != 0 {
		t.Error("failed mining must leave the block unchanged")
	}
}

func TestUnserializablePayloadFails(t *testing.T) {
	_, err := NewBlock(1, 1700000000, LegacyPayload(map[string]interface{}{"ch": make(chan int)}), "prev", 1)
	var ierr *InvalidBlockError
	if !errors.As(err, &ierr) {
		t.Fatalf("NewBlock() error = %v, want *InvalidBlockError", err)
	}
}

func TestCanonicalJSON(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{"sorted keys", map[string]interface{}{"b": []interface{}{1, "é", nil, true}, "a": 1.5}, `{"a": 1.5, "b": [1, "\u00e9", null, true]}`},
		{"escapes", "line\n\"quoted\"", `"line\n\"quoted\""`},
		{"empty list", []interface{}{}, `[]`},
		{"float forms", []interface{}{2.0, 1e21, 1e-7, json.Number("10"), json.Number("10.50")}, `[2.0, 1e+21, 1e-07, 10, 10.5]`},
		{"struct", struct {
			Name string `json:"name"`
		}{"x"}, `{"name": "x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := canonicalJSON(tt.in)
			if err != nil {
				t.Fatalf("canonicalJSON() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("canonicalJSON() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestLegacyString(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{"string", "Genesis Block", "Genesis Block"},
		{"int", 42, "42"},
		{"float", 2.5, "2.5"},
		{"integral float", 50.0, "50.0"},
		{"number literal", json.Number("1e-7"), "1e-07"},
		{"bool", true, "True"},
		{"nil", nil, "None"},
		{"map", map[string]interface{}{"k": "v"}, `{"k": "v"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := legacyString(tt.in)
			if err != nil {
				t.Fatalf("legacyString() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("legacyString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.0"},
		{50, "50.0"},
		{-3.25, "-3.25"},
		{0.0001, "0.0001"},
		{0.00001, "1e-05"},
		{1e-7, "1e-07"},
		{1.5e-5, "1.5e-05"},
		{1700000000.123456, "1700000000.123456"},
		{9999999999999998, "9999999999999998.0"},
		{1e16, "1e+16"},
		{1e21, "1e+21"},
		{1.2345678901234568e+17, "1.2345678901234568e+17"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatNumber(tt.in); got != tt.want {
				t.Errorf("formatNumber(%v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}
