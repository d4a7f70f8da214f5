package domain

import "time"

// Candle represents a single OHLC data point for the underlying.
type Candle struct {
	OpenTime  time.Time
	CloseTime time.Time
	Symbol    string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}
