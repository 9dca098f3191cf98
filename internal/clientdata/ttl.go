package clientdata

import "time"

// TTL constants for different data types.
// These are added to time.Now() when storing to calculate expires_at.
const (
	TTLExchangeRate = time.Hour        // 1 hour - Currency exchange rates
	TTLBinancePrice = 5 * time.Minute  // 5 minutes - Spot ticker prices
	TTLNAVQuote     = 12 * time.Hour   // 12 hours - Fund NAVs publish once a day
)
