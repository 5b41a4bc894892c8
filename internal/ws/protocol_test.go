package ws

import "testing"

func TestValidStreamName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		valid bool
	}{
		{"wethusdc@trade", true},
		{"wethusdc@depth", true},
		{"wethusdc@miniTicker", true},
		{"wethusdc@kline_1m", true},
		{"wethusdc@kline_5m", true},
		{"wethusdc@kline_30m", true},
		{"wethusdc@kline_1h", true},
		{"wethusdc@kline_1d", true},
		{"pepe2usdc@trade", true},
		{"user@executionReport", true},

		{"wethusdc@kline_2h", false},
		{"wethusdc@kline_", false},
		{"wethusdc@ticker", false},
		{"user@balanceUpdate", false},
		{"user@executionreport", false},
		{"wethusdc@", false},
		{"@trade", false},
		{"wethusdc", false},
		{"WETHUSDC@trade", false},
		{"weth usdc@trade", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidStreamName(tt.name); got != tt.valid {
			t.Errorf("ValidStreamName(%q) = %v, want %v", tt.name, got, tt.valid)
		}
	}
}
