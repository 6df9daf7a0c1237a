package vigil

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDate(t *testing.T) {
	t.Parallel()
	str := func(s string) *string { return &s }
	tt := []struct {
		Name string
		In   string
		Want *string
	}{
		{Name: "ISO", In: "2026-01-16", Want: str("2026-01-16")},
		{Name: "PostgresFractional", In: "2026-01-16 21:44:10.064656", Want: str("2026-01-16")},
		{Name: "RFC3339", In: "2024-01-10T00:00:00Z", Want: str("2024-01-10")},
		{Name: "RFC1123", In: "Tue, 16 Jan 2024 10:00:00 GMT", Want: str("2024-01-16")},
		{Name: "Slashes", In: "2024/01/10", Want: str("2024-01-10")},
		{Name: "Garbage", In: "not a date", Want: nil},
		{Name: "Empty", In: "", Want: nil},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			if got := Date(tc.In); !cmp.Equal(got, tc.Want) {
				t.Error(cmp.Diff(got, tc.Want))
			}
		})
	}
}

func TestTimestamp(t *testing.T) {
	t.Parallel()
	str := func(s string) *string { return &s }
	tt := []struct {
		Name string
		In   string
		Want *string
	}{
		{Name: "RFC3339", In: "2026-01-15T00:00:00Z", Want: str("2026-01-15T00:00:00.000Z")},
		{Name: "DateOnly", In: "2026-01-15", Want: str("2026-01-15T00:00:00.000Z")},
		{Name: "Garbage", In: "yesterday-ish", Want: nil},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			if got := Timestamp(tc.In); !cmp.Equal(got, tc.Want) {
				t.Error(cmp.Diff(got, tc.Want))
			}
		})
	}
}

func TestSeverityFromCVSS(t *testing.T) {
	t.Parallel()
	f := func(x float64) *float64 { return &x }
	tt := []struct {
		Name string
		In   *float64
		Want Severity
	}{
		{Name: "Nil", In: nil, Want: Medium},
		{Name: "Zero", In: f(0), Want: Low},
		{Name: "Boundary4", In: f(4), Want: Medium},
		{Name: "Mid", In: f(6.9), Want: Medium},
		{Name: "Boundary7", In: f(7), Want: High},
		{Name: "Boundary9", In: f(9), Want: Critical},
		{Name: "Max", In: f(10), Want: Critical},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			if got := SeverityFromCVSS(tc.In); got != tc.Want {
				t.Errorf("got: %q, want: %q", got, tc.Want)
			}
		})
	}

	// Monotonic in the numeric input.
	rank := map[Severity]int{Low: 0, Medium: 1, High: 2, Critical: 3}
	prev := -1
	for x := 0.0; x <= 10.0; x += 0.1 {
		x := x
		r := rank[SeverityFromCVSS(&x)]
		if r < prev {
			t.Errorf("severity decreased at cvss=%.1f", x)
		}
		prev = r
	}
}

func TestConfidenceFromScore(t *testing.T) {
	t.Parallel()
	tt := []struct {
		In   int
		Want Confidence
	}{
		{0, ConfidenceLow},
		{49, ConfidenceLow},
		{50, ConfidenceMedium},
		{74, ConfidenceMedium},
		{75, ConfidenceHigh},
		{100, ConfidenceHigh},
	}
	for _, tc := range tt {
		if got := ConfidenceFromScore(tc.In); got != tc.Want {
			t.Errorf("score %d: got: %q, want: %q", tc.In, got, tc.Want)
		}
	}
}

func TestIOCTypeFromThreatFox(t *testing.T) {
	t.Parallel()
	tt := []struct {
		In   string
		Want IOCType
	}{
		{"ip:port", TypeIP},
		{"md5_hash", TypeMD5},
		{"sha1_hash", TypeSHA1},
		{"sha256_hash", TypeSHA256},
		{"domain", TypeDomain},
		{"url", TypeURL},
		{"asn", TypeUnknownIOC},
		{"", TypeUnknownIOC},
	}
	for _, tc := range tt {
		if got := IOCTypeFromThreatFox(tc.In); got != tc.Want {
			t.Errorf("%q: got: %q, want: %q", tc.In, got, tc.Want)
		}
	}
}

func TestHashType(t *testing.T) {
	t.Parallel()
	tt := []struct {
		Name string
		In   string
		Want IOCType
	}{
		{Name: "MD5", In: "d41d8cd98f00b204e9800998ecf8427e", Want: TypeMD5},
		{Name: "SHA1", In: "da39a3ee5e6b4b0d3255bfef95601890afd80709", Want: TypeSHA1},
		{Name: "SHA256", In: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Want: TypeSHA256},
		{Name: "Odd", In: "abcdef", Want: TypeMD5},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			if got := HashType(tc.In); got != tc.Want {
				t.Errorf("got: %q, want: %q", got, tc.Want)
			}
		})
	}
}

func TestInferSector(t *testing.T) {
	t.Parallel()
	tt := []struct {
		In   string
		Want string
	}{
		{"St. Mary's Hospital", "healthcare"},
		{"First National Bank", "finance"},
		{"Springfield University", "education"},
		{"City of Lakeside", "government"},
		{"Acme Industrial Group", "manufacturing"},
		{"CloudWorks Inc", "technology"},
		{"MegaMart Stores", "retail"},
		{"Northern Power & Light", "energy"},
		{"Acme Corp", ""},
		{"", ""},
	}
	for _, tc := range tt {
		if got := InferSector(tc.In); got != tc.Want {
			t.Errorf("%q: got: %q, want: %q", tc.In, got, tc.Want)
		}
	}
}

func TestValidCVE(t *testing.T) {
	t.Parallel()
	tt := []struct {
		In   string
		Want bool
	}{
		{"CVE-2024-1234", true},
		{"CVE-2021-44228", true},
		{"CVE-24-1234", false},
		{"cve-2024-1234", false},
		{"CVE-2024-123", false},
		{"", false},
	}
	for _, tc := range tt {
		if got := ValidCVE(tc.In); got != tc.Want {
			t.Errorf("%q: got: %v, want: %v", tc.In, got, tc.Want)
		}
	}
}

func TestStringList(t *testing.T) {
	t.Parallel()
	tt := []struct {
		Name string
		In   string
		Want StringList
	}{
		{Name: "Scalar", In: `"US"`, Want: StringList{"US"}},
		{Name: "Array", In: `["US","CN"]`, Want: StringList{"US", "CN"}},
		{Name: "Null", In: `null`, Want: nil},
		{Name: "EmptyString", In: `""`, Want: nil},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			var got StringList
			if err := json.Unmarshal([]byte(tc.In), &got); err != nil {
				t.Fatal(err)
			}
			if !cmp.Equal(got, tc.Want) {
				t.Error(cmp.Diff(got, tc.Want))
			}
		})
	}
	if got := (StringList)(nil).First(); got != "" {
		t.Errorf("First on nil: got %q", got)
	}
	if got := (StringList)(nil).OrEmpty(); got == nil || len(got) != 0 {
		t.Errorf("OrEmpty on nil: got %#v", got)
	}
}

func TestInferMalwareType(t *testing.T) {
	t.Parallel()
	tt := []struct {
		In   string
		Want string
	}{
		{"AsyncRAT", "rat"},
		{"RedLine", "stealer"},
		{"GuLoader", "loader"},
		{"Amadey", "botnet"},
		{"Cobalt Strike", "framework"},
		{"Mysterious", "unknown"},
	}
	for _, tc := range tt {
		if got := InferMalwareType(tc.In); got != tc.Want {
			t.Errorf("%q: got: %q, want: %q", tc.In, got, tc.Want)
		}
	}
}
