// Package telemetry defines the raw record model consumed by the digest engine
// and the typed, tolerant decoders that read optional fields out of parsed
// telemetry documents.
package telemetry

import "time"

// Flags carries per-record markers set by the producing store.
type Flags struct {
	// SpecialSession marks a record that carries charging-session history
	// rather than a vehicle snapshot.
	SpecialSession bool `json:"special_session" yaml:"special_session"`
}

// RawRecord is one observation as delivered by the external store. The engine
// never mutates it.
type RawRecord struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Payload   string    `json:"payload"   yaml:"payload"`
	Flags     Flags     `json:"flags"     yaml:"flags"`
}

// SectionType identifies the kind of content a document section carries.
type SectionType string

// Known section types.
const (
	SectionVehicle  SectionType = "vehicle_data"
	SectionCharging SectionType = "charging_history"
	SectionSite     SectionType = "energy_site"
	SectionUnknown  SectionType = ""
)

// sectionAliases maps the type names seen from different producers onto the
// canonical section types.
var sectionAliases = map[string]SectionType{
	"vehicle_data":            SectionVehicle,
	"vehicle":                 SectionVehicle,
	"vehicle_telemetry":       SectionVehicle,
	"charging_history":        SectionCharging,
	"charging_sessions":       SectionCharging,
	"charge_history":          SectionCharging,
	"energy_site":             SectionSite,
	"site":                    SectionSite,
	"energy_site_live_status": SectionSite,
}

// ParseSectionType resolves a declared type name. Unknown names yield SectionUnknown.
func ParseSectionType(name string) SectionType {
	if st, ok := sectionAliases[name]; ok {
		return st
	}

	return SectionUnknown
}

// Section is one typed entry of a document's section list.
type Section struct {
	// Declared is the type name as written by the producer.
	Declared string
	Type     SectionType
	Content  Value
}

// ChargingSession is one completed charging session.
type ChargingSession struct {
	SessionID       string    `json:"session_id"       yaml:"session_id"`
	Start           time.Time `json:"start"            yaml:"start"`
	End             time.Time `json:"end"              yaml:"end"`
	SiteName        string    `json:"site_name"        yaml:"site_name"`
	TotalCost       float64   `json:"total_cost"       yaml:"total_cost"`
	EnergyDelivered float64   `json:"energy_delivered" yaml:"energy_delivered"`
	// CostPerUnit is only meaningful when HasCostPerUnit is true, which
	// requires EnergyDelivered > 0.
	CostPerUnit    float64 `json:"cost_per_unit"     yaml:"cost_per_unit"`
	HasCostPerUnit bool    `json:"has_cost_per_unit" yaml:"has_cost_per_unit"`
	Currency       string  `json:"currency"          yaml:"currency"`
}

// Duration returns End-Start, or zero when either bound is missing or inverted.
func (cs ChargingSession) Duration() time.Duration {
	if cs.Start.IsZero() || cs.End.IsZero() || cs.End.Before(cs.Start) {
		return 0
	}

	return cs.End.Sub(cs.Start)
}
