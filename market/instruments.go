// market/instruments.go
package market

import "math"

// Symbol describes a tradable terminal symbol and its quote precision.
type Symbol struct {
	Name         string
	Base         string
	Quote        string
	Digits       int     // decimal places in a quote
	Point        float64 // smallest quote increment, 10^-Digits
	ContractSize float64 // units per 1.0 lot
}

// PointFor returns 10^-digits.
func PointFor(digits int) float64 {
	return math.Pow(10, -float64(digits))
}

// Symbols holds the contract details the paper gateway uses when it is
// given none.
var Symbols = map[string]Symbol{
	"EURUSD": {
		Name:         "EURUSD",
		Base:         "EUR",
		Quote:        "USD",
		Digits:       5,
		Point:        0.00001,
		ContractSize: 100_000,
	},
	"GBPUSD": {
		Name:         "GBPUSD",
		Base:         "GBP",
		Quote:        "USD",
		Digits:       5,
		Point:        0.00001,
		ContractSize: 100_000,
	},
	"USDJPY": {
		Name:         "USDJPY",
		Base:         "USD",
		Quote:        "JPY",
		Digits:       3,
		Point:        0.001,
		ContractSize: 100_000,
	},
	"XAUUSD": {
		Name:         "XAUUSD",
		Base:         "XAU",
		Quote:        "USD",
		Digits:       2,
		Point:        0.01,
		ContractSize: 100,
	},
}
