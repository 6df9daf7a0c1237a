package vigil

// ICSAdvisory is an industrial-control-systems security notice, keyed by
// AdvisoryID (taken from the advisory URL where possible, synthesized
// otherwise).
type ICSAdvisory struct {
	AdvisoryID       string         `json:"advisory_id"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	Severity         Severity       `json:"severity"`
	SourceURL        string         `json:"source_url,omitempty"`
	PublishedDate    *string        `json:"published_date"`
	CVEIDs           []string       `json:"cve_ids"`
	AffectedProducts []string       `json:"affected_products"`
	AffectedVendors  []string       `json:"affected_vendors"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}
