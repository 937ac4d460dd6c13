package library

import (
	"strings"

	"github.com/feeluown/fuocore/internal/core"
)

// Quality is a media tier.
type Quality string

// Tiers from best to worst.
const (
	QualitySQ Quality = "sq"
	QualityHD Quality = "hd"
	QualitySD Quality = "sd"
	QualityLD Quality = "ld"
)

var qualityOrder = []Quality{QualitySQ, QualityHD, QualitySD, QualityLD}

// ParseQuality accepts sq, hd, sd or ld.
func ParseQuality(s string) (Quality, bool) {
	q := Quality(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range qualityOrder {
		if q == known {
			return q, true
		}
	}
	return "", false
}

func (q Quality) index() int {
	for i, known := range qualityOrder {
		if q == known {
			return i
		}
	}
	return -1
}

// Strategy decides what happens when the preferred tier is missing.
type Strategy string

// Strategies.
const (
	StrategyBetter Strategy = "better"
	StrategyWorse  Strategy = "worse"
	StrategyNone   Strategy = "none"
)

// ParseStrategy accepts better, worse or none.
func ParseStrategy(s string) (Strategy, bool) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyBetter, StrategyWorse, StrategyNone:
		return st, true
	}
	return "", false
}

// Media holds one optional URL per tier.
type Media struct {
	SQ string
	HD string
	SD string
	LD string
}

// URL returns the URL of a tier.
func (m Media) URL(q Quality) string {
	switch q {
	case QualitySQ:
		return m.SQ
	case QualityHD:
		return m.HD
	case QualitySD:
		return m.SD
	case QualityLD:
		return m.LD
	}
	return ""
}

// Empty reports whether no tier is set.
func (m Media) Empty() bool {
	return m.SQ == "" && m.HD == "" && m.SD == "" && m.LD == ""
}

// Available lists the set tiers from best to worst.
func (m Media) Available() []Quality {
	out := []Quality{}
	for _, q := range qualityOrder {
		if m.URL(q) != "" {
			out = append(out, q)
		}
	}
	return out
}

// SelectMedia picks a URL for pref. StrategyBetter tries the higher tiers
// nearest first, then the lower ones; StrategyWorse the reverse.
func SelectMedia(m Media, pref Quality, strategy Strategy) (string, Quality, error) {
	idx := pref.index()
	if idx < 0 {
		return "", "", core.Errorf(core.KindNoMediaAtQuality, "unknown quality %q", pref)
	}
	if url := m.URL(pref); url != "" {
		return url, pref, nil
	}
	var higher, lower []Quality
	for i := idx - 1; i >= 0; i-- {
		higher = append(higher, qualityOrder[i])
	}
	for i := idx + 1; i < len(qualityOrder); i++ {
		lower = append(lower, qualityOrder[i])
	}
	var candidates []Quality
	switch strategy {
	case StrategyBetter:
		candidates = append(higher, lower...)
	case StrategyWorse:
		candidates = append(lower, higher...)
	}
	for _, q := range candidates {
		if url := m.URL(q); url != "" {
			return url, q, nil
		}
	}
	return "", "", core.Errorf(core.KindNoMediaAtQuality, "no media at %s", pref)
}
