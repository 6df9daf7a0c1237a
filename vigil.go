// Package vigil holds the canonical threat-intelligence entities shared by
// every feed adapter and the ingestion engine.
//
// The types in this package are the only shapes allowed to cross an adapter
// boundary: adapters decode whatever loosely-typed payload their upstream
// returns, convert it here, and hand the result to the store. All conversion
// helpers are pure.
package vigil

// UserAgent is stamped on every outbound request the engine makes.
const UserAgent = `Vigil-ThreatIntel/1.0`

// Version is the engine release reported by the HTTP surface.
const Version = `1.0.0`
