package vigil

import "regexp"

// CVERegexp matches CVE identifiers wherever they appear in free text.
var CVERegexp = regexp.MustCompile(`CVE-\d{4}-\d{4,}`)

var cveExact = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)

// Vulnerability is a CVE-keyed record. Enrichment passes (EPSS, Censys) add
// scoring fields and metadata without clobbering what other feeds wrote.
type Vulnerability struct {
	CVEID                 string         `json:"cve_id"`
	Description           string         `json:"description,omitempty"`
	CVSSScore             *float64       `json:"cvss_score,omitempty"`
	CVSSVector            string         `json:"cvss_vector,omitempty"`
	Severity              Severity       `json:"severity"`
	EPSSScore             *float64       `json:"epss_score,omitempty"`
	EPSSPercentile        *float64       `json:"epss_percentile,omitempty"`
	AffectedVendors       []string       `json:"affected_vendors"`
	AffectedProducts      []string       `json:"affected_products"`
	KEVDate               *string        `json:"kev_date,omitempty"`
	KEVDueDate            *string        `json:"kev_due_date,omitempty"`
	ExploitedInWild       bool           `json:"exploited_in_wild"`
	RansomwareCampaignUse bool           `json:"ransomware_campaign_use"`
	HasPublicExploit      bool           `json:"has_public_exploit"`
	Source                string         `json:"source"`
	Metadata              map[string]any `json:"metadata,omitempty"`
}

// ValidCVE reports whether s is a well-formed CVE identifier.
func ValidCVE(s string) bool {
	return cveExact.MatchString(s)
}
