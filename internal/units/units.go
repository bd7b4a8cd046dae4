// Package units scales raw byte counts into display magnitudes. Rounding
// and string formatting stay with the caller.
package units

const (
	kib = 1 << 10
	mib = 1 << 20
	gib = 1 << 30
)

// Unit is the band a byte count falls into.
type Unit string

const (
	UnitBytes Unit = "B"
	UnitKB    Unit = "KB"
	UnitMB    Unit = "MB"
	UnitGB    Unit = "GB"
)

// Scale maps a byte count onto a magnitude and unit using exact binary
// divisors. Counts of a gibibyte or more always land in the GB band.
func Scale(b int64) (float64, Unit) {
	switch {
	case b >= gib:
		return float64(b) / float64(gib), UnitGB
	case b >= mib:
		return float64(b) / float64(mib), UnitMB
	case b >= kib:
		return float64(b) / float64(kib), UnitKB
	default:
		return float64(b), UnitBytes
	}
}
