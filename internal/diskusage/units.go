// Package diskusage measures capture storage: partition statistics, recursive
// directory-tree allocation and device IO counters.
package diskusage

import "fmt"

// Unit is a binary display unit for byte counts.
type Unit uint

const (
	Byte Unit = iota
	KByte
	MB
	GB
)

// Convert scales a raw byte count to the unit, truncating.
func Convert(bytes uint64, u Unit) uint64 {
	return bytes >> (10 * uint64(u))
}

// String implements fmt.Stringer.
func (u Unit) String() string {
	switch u {
	case Byte:
		return "B"
	case KByte:
		return "KB"
	case MB:
		return "MB"
	case GB:
		return "GB"
	default:
		return fmt.Sprintf("Unit(%d)", uint(u))
	}
}

// ParseUnit maps a unit name as used on the command line to a Unit.
func ParseUnit(s string) (Unit, error) {
	switch s {
	case "b", "B", "byte", "bytes":
		return Byte, nil
	case "kb", "KB", "k", "K":
		return KByte, nil
	case "mb", "MB", "m", "M":
		return MB, nil
	case "gb", "GB", "g", "G":
		return GB, nil
	}
	return Byte, fmt.Errorf("unknown unit %q", s)
}

// Space is free, total and used space in one unit. Used may come from
// directory-tree accounting, so it is not necessarily Total-Free.
type Space struct {
	Free  uint64 `json:"free"`
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
}
