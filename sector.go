package vigil

import "strings"

// sectorKeywords maps victim-name keywords to canonical sectors. Scanning is
// case-insensitive and first-match-wins in the declared order.
var sectorKeywords = []struct {
	sector   string
	keywords []string
}{
	{"healthcare", []string{"health", "hospital", "clinic", "medical", "pharma", "care"}},
	{"finance", []string{"bank", "financ", "insurance", "capital", "credit", "invest"}},
	{"education", []string{"university", "school", "college", "academy", "education"}},
	{"government", []string{"government", "municipal", "ministry", "county", "city of", "federal", "agency"}},
	{"manufacturing", []string{"manufactur", "industrial", "factory", "engineering", "automotive"}},
	{"technology", []string{"software", "tech", "digital", "cyber", "data", "cloud", "it "}},
	{"retail", []string{"retail", "store", "shop", "commerce", "market"}},
	{"energy", []string{"energy", "oil", "gas", "power", "electric", "utility"}},
}

// InferSector scans a victim name for sector keywords. The empty string
// means no sector could be inferred.
func InferSector(victim string) string {
	v := strings.ToLower(victim)
	if v == "" {
		return ""
	}
	for _, e := range sectorKeywords {
		for _, kw := range e.keywords {
			if strings.Contains(v, kw) {
				return e.sector
			}
		}
	}
	return ""
}
