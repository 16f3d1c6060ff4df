package indicator

import (
	"testing"
)

func TestRSI_AllGains(t *testing.T) {
	prices := []float64{10, 11, 12, 13, 14, 15}
	rsi := RSI(prices, 3)

	if len(rsi) != 3 {
		t.Fatalf("expected 3 values, got %d", len(rsi))
	}
	for i, v := range rsi {
		if v != 100 {
			t.Errorf("rsi[%d] = %f, want 100 for monotonic gains", i, v)
		}
	}
}

func TestRSI_Flat(t *testing.T) {
	prices := []float64{10, 10, 10, 10, 10}
	rsi := RSI(prices, 3)

	for i, v := range rsi {
		if v != 50 {
			t.Errorf("rsi[%d] = %f, want 50 for flat series", i, v)
		}
	}
}

func TestRSI_Mixed(t *testing.T) {
	prices := []float64{10, 12, 11, 13, 12, 14, 13}
	rsi := RSI(prices, 4)

	for i, v := range rsi {
		if v <= 0 || v >= 100 {
			t.Errorf("rsi[%d] = %f, want value strictly inside (0,100)", i, v)
		}
		if !almostEqual(v, 50, 50) {
			t.Errorf("rsi[%d] = %f out of range", i, v)
		}
	}
}

func TestRSI_NotEnoughData(t *testing.T) {
	prices := []float64{10, 11}
	rsi := RSI(prices, 5)

	if len(rsi) != 0 {
		t.Errorf("expected empty slice, got %d values", len(rsi))
	}
}
