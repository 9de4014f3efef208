package market

import "fmt"

// QuoteToAccountRate converts an amount in sym's quote currency into the
// account currency, given the symbol's current mid. Symbols without
// currency metadata are treated as quoted in the account currency.
func QuoteToAccountRate(sym Symbol, accountCurrency string, mid float64) (float64, error) {
	// Case 1: quote currency == account currency (EURUSD, GBPUSD, etc.)
	if sym.Quote == "" || accountCurrency == "" || sym.Quote == accountCurrency {
		return 1.0, nil
	}

	// Case 2: account currency is base (USDJPY, USDCHF, etc.)
	if sym.Base == accountCurrency {
		if mid <= 0 {
			return 0, fmt.Errorf("no price to convert %s into %s", sym.Quote, accountCurrency)
		}
		// USDJPY mid gives JPY per USD; we want USD per JPY
		return 1.0 / mid, nil
	}

	// Case 3: cross currency (EURGBP with a USD account)
	return 0, fmt.Errorf(
		"cross conversion not implemented for %s → %s",
		sym.Quote,
		accountCurrency,
	)
}
