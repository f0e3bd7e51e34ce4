package model

// SRLevel is a support/resistance price level supplied by the levels provider.
// Strength is expected in [0,1]; consumers clamp it.
type SRLevel struct {
	Exchange string  `json:"exchange"`
	Token    string  `json:"token"`
	Price    float64 `json:"price"`
	Strength float64 `json:"strength"`
}
