package domain

// DefaultRewardPoints is paid for difficulties outside the known set,
// e.g. legacy rows written before the enum was fixed.
const DefaultRewardPoints = 5

// RewardFor maps a difficulty to the points credited when the issue closes.
func RewardFor(difficulty Difficulty) int {
	switch difficulty {
	case DifficultyEasy:
		return 10
	case DifficultyMedium:
		return 20
	case DifficultyHard:
		return 30
	default:
		return DefaultRewardPoints
	}
}
