package vigil

// PaymentStats aggregates ransomware payments per malware family within one
// ingestion run. Keyed by FamilyName.
type PaymentStats struct {
	FamilyName   string  `json:"family_name"`
	PaymentCount int     `json:"payment_count"`
	TotalUSD     float64 `json:"total_usd"`
	TotalBTC     float64 `json:"total_btc"`
	FirstPayment *string `json:"first_payment,omitempty"`
	LastPayment  *string `json:"last_payment,omitempty"`
	Source       string  `json:"source"`
}
