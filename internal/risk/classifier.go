package risk

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/firewatch-ops/firewatch-backend/internal/telemetry"
)

// Level is the ordinal fire risk scale.
type Level int

const (
	VeryLow Level = iota
	Low
	Middle
	High
	VeryHigh
)

var levelNames = [...]string{"VERY_LOW", "LOW", "MIDDLE", "HIGH", "VERY_HIGH"}

func (l Level) String() string {
	if l < VeryLow || l > VeryHigh {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// Assessment is the outcome of Classify. Fire and Smoke are nil when no
// event of that type was seen.
type Assessment struct {
	Overall Level  `json:"overall"`
	Fire    *Level `json:"fire"`
	Smoke   *Level `json:"smoke"`
}

// Classify derives the risk levels from the strongest smoke and fire
// confidences among events. Every event that is not SMOKE counts as fire.
//
// Overall thresholds, first match wins:
//
//	smoke > 90 or fire > 90  VERY_HIGH
//	smoke > 80 or fire > 70  HIGH
//	smoke > 60 or fire > 30  MIDDLE
//	smoke > 40 or fire > 10  LOW
//	otherwise                VERY_LOW
func Classify(events []telemetry.DroneEvent) Assessment {
	var (
		maxSmoke, maxFire   int
		seenSmoke, seenFire bool
	)
	for _, e := range events {
		if e.Type == telemetry.EventSmoke {
			seenSmoke = true
			maxSmoke = max(maxSmoke, e.Confidence)
		} else {
			seenFire = true
			maxFire = max(maxFire, e.Confidence)
		}
	}

	a := Assessment{Overall: Overall(maxSmoke, maxFire)}
	if seenSmoke {
		l := FromConfidence(maxSmoke)
		a.Smoke = &l
	}
	if seenFire {
		l := FromConfidence(maxFire)
		a.Fire = &l
	}
	return a
}

// Overall applies the threshold table to a smoke/fire confidence pair.
// Fire escalates at lower confidences than smoke.
func Overall(smoke, fire int) Level {
	switch {
	case smoke > 90 || fire > 90:
		return VeryHigh
	case smoke > 80 || fire > 70:
		return High
	case smoke > 60 || fire > 30:
		return Middle
	case smoke > 40 || fire > 10:
		return Low
	}
	return VeryLow
}

// FromConfidence maps a 0-100 confidence onto the five-step scale.
func FromConfidence(confidence int) Level {
	l := int(math.Round(float64(confidence) / 100 * 4))
	return Level(min(max(l, 0), int(VeryHigh)))
}
