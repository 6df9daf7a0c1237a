package vigil

// Campaign is a named operation, keyed by CampaignID. The destination table
// is optional; adapters detect its absence and skip.
type Campaign struct {
	CampaignID       string   `json:"campaign_id"`
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	FirstSeen        *string  `json:"first_seen,omitempty"`
	LastSeen         *string  `json:"last_seen,omitempty"`
	AttributedActors []string `json:"attributed_actors"`
	Source           string   `json:"source"`
	SourceURL        string   `json:"source_url,omitempty"`
}
