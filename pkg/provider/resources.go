package provider

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseCPU parses a Kubernetes-style CPU quantity into millicores.
// "500m" -> 500, "2" -> 2000, "1000n" -> 0 (rounded down), matching the
// cross-provider table in SPEC_FULL.md S4.6. Parsing is shared by every
// Provider backend so results are bit-identical across them.
func ParseCPU(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("cpu quantity is required")
	}

	switch {
	case strings.HasSuffix(s, "n"):
		nanos, err := strconv.ParseFloat(strings.TrimSuffix(s, "n"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid cpu quantity %q: %w", s, err)
		}
		return int64(nanos / 1e6), nil // nanocores -> millicores, truncated
	case strings.HasSuffix(s, "m"):
		millis, err := strconv.ParseFloat(strings.TrimSuffix(s, "m"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid cpu quantity %q: %w", s, err)
		}
		return int64(millis), nil
	default:
		cores, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid cpu quantity %q: %w", s, err)
		}
		return int64(cores * 1000), nil
	}
}

// FormatCPU is the inverse of ParseCPU for canonical millicore values,
// satisfying the round-trip law ParseCPU(FormatCPU(x)) == x (SPEC_FULL S8).
func FormatCPU(millis int64) string {
	if millis%1000 == 0 {
		return strconv.FormatInt(millis/1000, 10)
	}
	return fmt.Sprintf("%dm", millis)
}

type memoryUnit struct {
	suffix string
	factor int64
}

// binary (Ki/Mi/Gi/Ti) and decimal (K/M/G/T) units, longest suffix first so
// "Ki" matches before a bare "K" would.
var memoryUnits = []memoryUnit{
	{"Ki", 1 << 10},
	{"Mi", 1 << 20},
	{"Gi", 1 << 30},
	{"Ti", 1 << 40},
	{"K", 1000},
	{"M", 1000 * 1000},
	{"G", 1000 * 1000 * 1000},
	{"T", 1000 * 1000 * 1000 * 1000},
}

// ParseMemory parses a Kubernetes-style memory/storage quantity into bytes.
// "256Mi" -> 256*2^20, "2Gi" -> 2*2^30, "2G" -> 2*10^9 (SPEC_FULL S4.6).
func ParseMemory(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("memory quantity is required")
	}

	for _, u := range memoryUnits {
		if strings.HasSuffix(s, u.suffix) {
			value, err := strconv.ParseFloat(strings.TrimSuffix(s, u.suffix), 64)
			if err != nil {
				return 0, fmt.Errorf("invalid memory quantity %q: %w", s, err)
			}
			return int64(value * float64(u.factor)), nil
		}
	}

	bytes, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory quantity %q: %w", s, err)
	}
	return int64(bytes), nil
}

// FormatMemory renders bytes using the largest binary unit that divides
// evenly, falling back to a plain byte count.
func FormatMemory(bytes int64) string {
	for i := len(memoryUnits) - 1; i >= 0; i-- {
		u := memoryUnits[i]
		if !strings.HasSuffix(u.suffix, "i") {
			continue
		}
		if bytes != 0 && bytes%u.factor == 0 {
			return fmt.Sprintf("%d%s", bytes/u.factor, u.suffix)
		}
	}
	return strconv.FormatInt(bytes, 10)
}
