package models

import (
	"fmt"
	"strings"
)

// Quality is the caller's preferred resolution tier.
type Quality int

const (
	QualityDefault Quality = iota
	QualityHigh
	QualityMedium
	QualityLow
)

func (q Quality) String() string {
	switch q {
	case QualityHigh:
		return "high"
	case QualityMedium:
		return "medium"
	case QualityLow:
		return "low"
	default:
		return "default"
	}
}

// ParseQuality parses a quality name. The empty string is QualityDefault.
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return QualityDefault, nil
	case "high", "h", "best":
		return QualityHigh, nil
	case "medium", "m", "mid":
		return QualityMedium, nil
	case "low", "l", "worst":
		return QualityLow, nil
	}
	return QualityDefault, fmt.Errorf("unknown quality %q", s)
}
