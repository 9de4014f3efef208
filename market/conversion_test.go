package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteToAccountRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sym     Symbol
		account string
		mid     float64
		want    float64
		wantErr bool
	}{
		{name: "quote is account", sym: Symbols["EURUSD"], account: "USD", mid: 1.1, want: 1},
		{name: "base is account", sym: Symbols["USDJPY"], account: "USD", mid: 150, want: 1.0 / 150},
		{name: "no metadata", sym: Symbol{Name: "FOO"}, account: "USD", mid: 2, want: 1},
		{name: "base without price", sym: Symbols["USDJPY"], account: "USD", mid: 0, wantErr: true},
		{name: "cross", sym: Symbols["EURUSD"], account: "GBP", mid: 1.1, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := QuoteToAccountRate(tt.sym, tt.account, tt.mid)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}
