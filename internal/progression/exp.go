package progression

// DifficultyMultiplier is the exp multiplier per difficulty band (§4.A).
var DifficultyMultiplier = map[string]float64{
	"Easy":   1.0,
	"Medium": 1.25,
	"Hard":   1.5,
}

const baseExp = 50
const lessonSuccessExp = 20
const lessonFailExp = 0

// CalculateExpGain implements §4.A's formula:
//
//	base = 50, multiplier by difficulty, streak bonus = 1 + 0.05*max(0, streak)
//
// A non-empty lessonID overrides the formula with a flat 20/0 (§9 open
// question: "treat anything with a non-null lesson_id as flat-20").
func CalculateExpGain(success bool, difficulty string, streak int, lessonID string) int {
	if lessonID != "" {
		if success {
			return lessonSuccessExp
		}
		return lessonFailExp
	}
	if !success {
		return 0
	}
	mult, ok := DifficultyMultiplier[difficulty]
	if !ok {
		mult = 1.0
	}
	bonus := 1.0
	if streak > 0 {
		bonus = 1 + 0.05*float64(streak)
	}
	gain := float64(baseExp) * mult * bonus
	return int(gain + 0.5)
}

// UpdateStreaks implements §4.A: success increments current, failure resets
// it to zero, longest is the running max.
func UpdateStreaks(current, longest int, success bool) (newCurrent, newLongest int) {
	if success {
		newCurrent = current + 1
	} else {
		newCurrent = 0
	}
	newLongest = longest
	if newCurrent > newLongest {
		newLongest = newCurrent
	}
	return newCurrent, newLongest
}
