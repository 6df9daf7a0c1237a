package vigil

import (
	"fmt"
	"strings"
)

// IOCType enumerates the canonical indicator types.
type IOCType string

const (
	TypeIP         IOCType = "ip"
	TypeDomain     IOCType = "domain"
	TypeURL        IOCType = "url"
	TypeMD5        IOCType = "hash_md5"
	TypeSHA1       IOCType = "hash_sha1"
	TypeSHA256     IOCType = "hash_sha256"
	TypeEmail      IOCType = "email"
	TypeWallet     IOCType = "crypto_wallet"
	TypeFile       IOCType = "file"
	TypeRegistry   IOCType = "registry"
	TypeUnknownIOC IOCType = "unknown"
)

// IOC is an atomic observable associated with malicious activity. Identity
// is (Type, Value).
type IOC struct {
	Type          IOCType        `json:"type"`
	Value         string         `json:"value"`
	Confidence    Confidence     `json:"confidence"`
	Source        string         `json:"source"`
	MalwareFamily string         `json:"malware_family,omitempty"`
	FirstSeen     *string        `json:"first_seen"`
	LastSeen      *string        `json:"last_seen"`
	SourceURL     string         `json:"source_url,omitempty"`
	Tags          []string       `json:"tags"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Key is the natural key used for in-batch deduplication and for the
// on_conflict target of IOC upserts.
func (i *IOC) Key() string { return string(i.Type) + "\x00" + i.Value }

// IOCTypeFromThreatFox maps a ThreatFox ioc_type to the canonical enum.
// Unrecognized inputs map to unknown.
func IOCTypeFromThreatFox(s string) IOCType {
	switch s {
	case "ip:port":
		return TypeIP
	case "md5_hash":
		return TypeMD5
	case "sha1_hash":
		return TypeSHA1
	case "sha256_hash":
		return TypeSHA256
	case "domain":
		return TypeDomain
	case "url":
		return TypeURL
	default:
		return TypeUnknownIOC
	}
}

// IOCTypeFromPulsedive maps a Pulsedive indicator type to the canonical
// enum.
func IOCTypeFromPulsedive(s string) IOCType {
	switch strings.ToLower(s) {
	case "ip", "ipv6":
		return TypeIP
	case "domain":
		return TypeDomain
	case "url":
		return TypeURL
	case "hash":
		return TypeSHA256
	default:
		return TypeUnknownIOC
	}
}

// HashType guesses a hash algorithm from digest length: 32 hex characters
// is md5, 40 sha1, 64 sha256. Anything else is treated as md5, matching
// the downstream default.
func HashType(v string) IOCType {
	switch len(v) {
	case 40:
		return TypeSHA1
	case 64:
		return TypeSHA256
	default:
		return TypeMD5
	}
}

// STIXType maps a canonical IOC type to its STIX 2.1 object path, for export
// interop. The empty string means the type has no STIX equivalent.
func STIXType(t IOCType) string {
	switch t {
	case TypeIP:
		return "ipv4-addr:value"
	case TypeDomain:
		return "domain-name:value"
	case TypeURL:
		return "url:value"
	case TypeMD5:
		return "file:hashes.MD5"
	case TypeSHA1:
		return "file:hashes.'SHA-1'"
	case TypeSHA256:
		return "file:hashes.'SHA-256'"
	case TypeEmail:
		return "email-addr:value"
	default:
		return ""
	}
}

// SentinelType maps a canonical IOC type to the Microsoft Sentinel TI field
// name.
func SentinelType(t IOCType) string {
	switch t {
	case TypeIP:
		return "NetworkIP"
	case TypeDomain:
		return "DomainName"
	case TypeURL:
		return "Url"
	case TypeMD5, TypeSHA1, TypeSHA256:
		return "FileHashValue"
	case TypeEmail:
		return "EmailSenderAddress"
	default:
		return "Other"
	}
}

// STIXPattern renders the STIX indicator pattern for an IOC, or the empty
// string when the type cannot be expressed.
func STIXPattern(i *IOC) string {
	p := STIXType(i.Type)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("[%s = '%s']", p, strings.ReplaceAll(i.Value, "'", "\\'"))
}
