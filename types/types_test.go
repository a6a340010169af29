package types

import "testing"

func TestValidTicker(t *testing.T) {
	cases := []struct {
		ticker string
		want   bool
	}{
		{"AAPL", true},
		{"RUB", true},
		{"AB", true},
		{"ABCDEFGHIJ", true},
		{"A", false},
		{"ABCDEFGHIJK", false},
		{"aapl", false},
		{"AAPL1", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ValidTicker(tc.ticker); got != tc.want {
			t.Errorf("ValidTicker(%q) = %v, want %v", tc.ticker, got, tc.want)
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		want     bool
	}{
		{StatusNew, StatusPartExecuted, true},
		{StatusNew, StatusExecuted, true},
		{StatusNew, StatusCancelled, true},
		{StatusPartExecuted, StatusExecuted, true},
		{StatusPartExecuted, StatusCancelled, true},
		{StatusExecuted, StatusCancelled, false},
		{StatusCancelled, StatusNew, false},
		{StatusExecuted, StatusPartExecuted, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestStatusForFilled(t *testing.T) {
	if got := StatusForFilled(0, 10); got != StatusNew {
		t.Errorf("got %s", got)
	}
	if got := StatusForFilled(3, 10); got != StatusPartExecuted {
		t.Errorf("got %s", got)
	}
	if got := StatusForFilled(10, 10); got != StatusExecuted {
		t.Errorf("got %s", got)
	}
}

func TestDirectionOpposite(t *testing.T) {
	if DirectionBuy.Opposite() != DirectionSell || DirectionSell.Opposite() != DirectionBuy {
		t.Error("opposite direction mismatch")
	}
	if Direction("HOLD").Valid() {
		t.Error("HOLD should be invalid")
	}
}

func TestBalanceAvailable(t *testing.T) {
	b := Balance{Total: 100, Reserved: 30}
	if b.Available() != 70 {
		t.Errorf("available = %d", b.Available())
	}
}
