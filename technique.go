package vigil

// Framework identifies which MITRE matrix a technique belongs to.
type Framework string

const (
	FrameworkEnterprise Framework = "enterprise"
	FrameworkMobile     Framework = "mobile"
	FrameworkICS        Framework = "ics"
	FrameworkATLAS      Framework = "atlas"
)

// ExternalReference is a pointer into an upstream catalog.
type ExternalReference struct {
	SourceName string `json:"source_name"`
	ExternalID string `json:"external_id,omitempty"`
	URL        string `json:"url,omitempty"`
}

// Technique is an ATT&CK or ATLAS technique, keyed by its catalog id
// (T1078, AML.T0001, ...).
type Technique struct {
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	Description        string              `json:"description,omitempty"`
	Framework          Framework           `json:"framework"`
	Tactics            []string            `json:"tactics"`
	IsSubtechnique     bool                `json:"is_subtechnique"`
	ParentTechniqueID  string              `json:"parent_technique_id,omitempty"`
	Platforms          []string            `json:"platforms"`
	ExternalReferences []ExternalReference `json:"external_references"`
}
