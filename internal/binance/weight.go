package binance

// WeightForLimit returns the request weight the provider charges for a
// klines page of the given size. Larger pages cost super-linearly more.
func WeightForLimit(limit int) int {
	switch {
	case limit < 100:
		return 1
	case limit < 500:
		return 2
	case limit <= 1000:
		return 5
	default:
		return 10
	}
}
