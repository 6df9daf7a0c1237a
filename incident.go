package vigil

// Incident is a ransomware or breach claim. There is no natural unique key;
// adapters dedupe within their batch and accept best-effort suppression
// across runs.
type Incident struct {
	VictimName     string         `json:"victim_name"`
	ActorID        string         `json:"actor_id,omitempty"`
	Source         string         `json:"source"`
	IncidentDate   *string        `json:"incident_date"`
	DiscoveredDate string         `json:"discovered_date"`
	VictimSector   string         `json:"victim_sector,omitempty"`
	VictimCountry  string         `json:"victim_country,omitempty"`
	Status         string         `json:"status"`
	RawData        map[string]any `json:"raw_data,omitempty"`
}

// Incident status values. Adapters only ever write "claimed"; moderation
// moves records to the other states out of band.
const (
	StatusClaimed   = "claimed"
	StatusConfirmed = "confirmed"
	StatusLeaked    = "leaked"
)
