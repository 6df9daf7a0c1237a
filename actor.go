package vigil

import "strings"

// ActorType enumerates the canonical threat-actor categories.
type ActorType string

const (
	ActorRansomware    ActorType = "ransomware"
	ActorAPT           ActorType = "apt"
	ActorCybercrime    ActorType = "cybercrime"
	ActorHacktivism    ActorType = "hacktivism"
	ActorIAB           ActorType = "iab"
	ActorDataExtortion ActorType = "data_extortion"
	ActorUnknown       ActorType = "unknown"
)

// ThreatActor is a named adversary. Identity is Name; merges on conflict are
// last-write-wins per field.
type ThreatActor struct {
	Name            string         `json:"name"`
	Aliases         []string       `json:"aliases"`
	ActorType       ActorType      `json:"actor_type"`
	Status          string         `json:"status"`
	FirstSeen       *string        `json:"first_seen,omitempty"`
	LastSeen        *string        `json:"last_seen,omitempty"`
	TargetCountries []string       `json:"target_countries"`
	TargetSectors   []string       `json:"target_sectors"`
	Description     string         `json:"description,omitempty"`
	Source          string         `json:"source"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// InferActorType guesses an actor category from its name and description.
// The heuristics are deliberately coarse; unknown is a fine answer.
func InferActorType(name, description string) ActorType {
	s := strings.ToLower(name + " " + description)
	switch {
	case strings.Contains(s, "ransom") || strings.Contains(s, "lockbit") || strings.Contains(s, "extortion group"):
		return ActorRansomware
	case strings.Contains(s, "apt") || strings.Contains(s, "state-sponsored") || strings.Contains(s, "nation state") || strings.Contains(s, "espionage"):
		return ActorAPT
	case strings.Contains(s, "hacktivis"):
		return ActorHacktivism
	case strings.Contains(s, "access broker") || strings.Contains(s, "initial access"):
		return ActorIAB
	case strings.Contains(s, "extortion"):
		return ActorDataExtortion
	case strings.Contains(s, "crime") || strings.Contains(s, "fraud") || strings.Contains(s, "carding"):
		return ActorCybercrime
	default:
		return ActorUnknown
	}
}

// InferMalwareType guesses a malware family class from its name. Used when
// a trends source reports families without classification.
func InferMalwareType(family string) string {
	f := strings.ToLower(family)
	switch {
	case strings.Contains(f, "rat") || strings.Contains(f, "remcos") || strings.Contains(f, "xworm"):
		return "rat"
	case strings.Contains(f, "stealer") || strings.Contains(f, "redline") ||
		strings.Contains(f, "lumma") || strings.Contains(f, "vidar") ||
		strings.Contains(f, "stealc") || strings.Contains(f, "formbook") ||
		strings.Contains(f, "agenttesla"):
		return "stealer"
	case strings.Contains(f, "loader") || strings.Contains(f, "guloader") ||
		strings.Contains(f, "pikabot") || strings.Contains(f, "darkgate"):
		return "loader"
	case strings.Contains(f, "amadey") || strings.Contains(f, "bot"):
		return "botnet"
	case strings.Contains(f, "cobalt"):
		return "framework"
	default:
		return "unknown"
	}
}
