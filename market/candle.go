package market

import "time"

// Candle is one OHLC bar. Slices of candles are ordered oldest first.
type Candle struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Time   time.Time
}
