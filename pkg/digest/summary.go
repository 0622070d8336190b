package digest

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	floatFormat = "#,###.##"
	timeLayout  = time.RFC3339
)

// Category names, in rendering order.
const (
	CategorySubject     = "subject"
	CategoryDiagnostics = "diagnostics"
	CategoryBattery     = "battery"
	CategoryCharging    = "charging"
	CategoryDriving     = "driving"
	CategoryClimate     = "climate"
	CategoryEfficiency  = "efficiency"
	CategoryQuality     = "quality"
)

// Entry is one key/value line of the summary.
type Entry struct {
	Key   string
	Value string
}

// Group is the summary of one category.
type Group struct {
	Category string
	Entries  []Entry
}

type groupBuilder struct {
	groups []Group
}

func (b *groupBuilder) start(category string) {
	b.groups = append(b.groups, Group{Category: category})
}

func (b *groupBuilder) add(key, value string) {
	last := &b.groups[len(b.groups)-1]
	last.Entries = append(last.Entries, Entry{Key: key, Value: value})
}

func num(v float64) string {
	return humanize.FormatFloat(floatFormat, v)
}

func count[T ~int | ~int64](v T) string {
	return humanize.Comma(int64(v))
}

func pct(v float64) string {
	return num(v) + "%"
}

func share(v float64) string {
	return pct(v * 100)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	return t.UTC().Format(timeLayout)
}

// Groups returns the summary lines grouped by category. Categories without
// observations are reduced to their sample counts.
func Groups(d *VehicleDataDigest) []Group {
	var b groupBuilder

	b.start(CategorySubject)
	b.add("subject", d.SubjectID)
	b.add("period start", stamp(d.Period.Start))
	b.add("period end", stamp(d.Period.End))
	b.add("period length", d.Period.Duration().String())

	diag := d.Diagnostics

	b.start(CategoryDiagnostics)
	b.add("records", count(diag.TotalRecords))
	b.add("processed", count(diag.Processed))
	b.add("skipped", count(diag.Skipped))
	b.add("duplicates", count(diag.Duplicates))
	b.add("parse errors", count(diag.ParseErrors))
	b.add("unknown sections", count(diag.UnknownSections))
	b.add("repairs", fmt.Sprintf("%s in %s records", count(diag.Repairs), count(diag.RepairedRecords)))
	b.add("unit conversions", count(diag.UnitConversions))
	b.add("rejected values", count(diag.RejectedValues))

	for _, kind := range slices.Sorted(maps.Keys(diag.ErrorsByKind)) {
		b.add(kind+" errors", count(diag.ErrorsByKind[kind]))
	}

	batteryGroup(&b, d)
	chargingGroup(&b, d)
	drivingGroup(&b, d)
	climateGroup(&b, d)
	efficiencyGroup(&b, d)

	q := d.Quality

	b.start(CategoryQuality)
	b.add("score", num(q.Score))
	b.add("label", q.Label)
	b.add("uptime", pct(q.UptimePercent))
	b.add("gaps", fmt.Sprintf("%d (%d major)", q.Gaps, q.MajorGaps))
	b.add("longest gap", q.LongestGap.String())
	b.add("records per hour", num(q.RecordsPerHour))

	return b.groups
}

func batteryGroup(b *groupBuilder, d *VehicleDataDigest) {
	m := d.Battery

	b.start(CategoryBattery)
	b.add("samples", count(m.Samples))

	if m.Samples == 0 {
		return
	}

	b.add("avg level", pct(m.AvgLevel))
	b.add("level range", fmt.Sprintf("%s - %s", pct(m.MinLevel), pct(m.MaxLevel)))
	b.add("median level", pct(m.LevelDistribution.Median))
	b.add("avg range", num(m.AvgRangeKm)+" km")
	b.add("avg charge limit", pct(m.AvgChargeLimit))
}

func chargingGroup(b *groupBuilder, d *VehicleDataDigest) {
	m := d.Charging

	b.start(CategoryCharging)
	b.add("sessions", count(m.Sessions))
	b.add("live samples", count(m.ActiveSamples))

	if m.ActiveSamples > 0 {
		b.add("avg charger power", num(m.AvgChargerPowerKW)+" kW")
	}

	if m.Sessions == 0 {
		return
	}

	b.add("energy", num(m.TotalEnergyKWh)+" kWh")
	b.add("cost", strings.TrimSpace(num(m.TotalCost)+" "+m.Currency))
	b.add("avg cost per kWh", num(m.AvgCostPerKWh))
	b.add("avg session", m.AvgSessionDuration.Round(time.Minute).String())
	b.add("home sessions", count(m.HomeSessions))
	b.add("home energy share", share(m.HomeEnergyShare))
}

func drivingGroup(b *groupBuilder, d *VehicleDataDigest) {
	m := d.Driving

	b.start(CategoryDriving)
	b.add("distance", num(m.DistanceKm)+" km")
	b.add("speed samples", count(m.SpeedSamples))

	if m.SpeedSamples > 0 {
		b.add("avg moving speed", num(m.AvgMovingSpeed)+" km/h")
		b.add("max speed", num(m.MaxSpeed)+" km/h")
	}

	if m.HeadingSamples > 0 {
		b.add("mean heading", num(m.MeanHeading)+"°")
	}

	for _, tire := range m.Tires {
		b.add("tire "+strings.ReplaceAll(tire.Position, "_", " "), num(tire.Avg)+" bar")
	}
}

func climateGroup(b *groupBuilder, d *VehicleDataDigest) {
	m := d.Climate

	b.start(CategoryClimate)
	b.add("inside samples", count(m.InsideSamples))

	if m.InsideSamples > 0 {
		b.add("avg inside", num(m.AvgInsideTemp)+" °C")
	}

	b.add("outside samples", count(m.OutsideSamples))

	if m.OutsideSamples > 0 {
		b.add("avg outside", num(m.AvgOutsideTemp)+" °C")
		b.add("outside range", fmt.Sprintf("%s - %s °C", num(m.MinOutsideTemp), num(m.MaxOutsideTemp)))
	}

	b.add("climate on", share(m.ClimateOnRatio))
}

func efficiencyGroup(b *groupBuilder, d *VehicleDataDigest) {
	m := d.Efficiency

	b.start(CategoryEfficiency)
	b.add("segments", count(m.Segments))

	if m.Segments > 0 {
		b.add("avg consumption", num(m.AvgWhPerKm)+" Wh/km")
	}

	if m.EstimatedFullRangeKm > 0 {
		b.add("estimated full range", num(m.EstimatedFullRangeKm)+" km")
	}

	if m.Site.Samples > 0 {
		b.add("site samples", count(m.Site.Samples))
		b.add("avg solar", num(m.Site.AvgSolarPowerW)+" W")
		b.add("self powered", share(m.Site.SelfPoweredShare))

		if m.Site.AvgStoredKWh > 0 {
			b.add("avg stored energy", num(m.Site.AvgStoredKWh)+" kWh")
		}
	}
}

// Summary renders the digest as plain "key: value" lines grouped by category.
func Summary(d *VehicleDataDigest) string {
	var sb strings.Builder

	for i, g := range Groups(d) {
		if i > 0 {
			sb.WriteByte('\n')
		}

		fmt.Fprintf(&sb, "[%s]\n", g.Category)

		for _, e := range g.Entries {
			fmt.Fprintf(&sb, "%s: %s\n", e.Key, e.Value)
		}
	}

	return sb.String()
}
