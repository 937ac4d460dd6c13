package library

import (
	"testing"

	"github.com/feeluown/fuocore/internal/core"
)

func TestSelectMedia(t *testing.T) {
	media := Media{HD: "hd", LD: "ld"}
	tests := []struct {
		pref     Quality
		strategy Strategy
		want     Quality
	}{
		{QualityHD, StrategyNone, QualityHD},
		{QualitySQ, StrategyWorse, QualityHD},
		{QualitySQ, StrategyBetter, QualityHD},
		{QualitySD, StrategyBetter, QualityHD},
		{QualitySD, StrategyWorse, QualityLD},
	}
	for _, test := range tests {
		url, q, err := SelectMedia(media, test.pref, test.strategy)
		if err != nil {
			t.Fatalf("%s/%s: %v", test.pref, test.strategy, err)
		}
		if q != test.want || url != string(test.want) {
			t.Fatalf("%s/%s: expected %s got %s", test.pref, test.strategy, test.want, q)
		}
	}
}

func TestSelectMediaNone(t *testing.T) {
	_, _, err := SelectMedia(Media{HD: "hd"}, QualitySQ, StrategyNone)
	if core.KindOf(err) != core.KindNoMediaAtQuality {
		t.Fatalf("expected NoMediaAtQuality, got %v", err)
	}
	_, _, err = SelectMedia(Media{}, QualitySQ, StrategyBetter)
	if core.KindOf(err) != core.KindNoMediaAtQuality {
		t.Fatalf("expected NoMediaAtQuality for empty media, got %v", err)
	}
}
