package domain_test

import (
	"testing"

	"github.com/spec-kit/issue-service/internal/domain"
)

func TestRewardFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		difficulty domain.Difficulty
		want       int
	}{
		{name: "easy", difficulty: domain.DifficultyEasy, want: 10},
		{name: "medium", difficulty: domain.DifficultyMedium, want: 20},
		{name: "hard", difficulty: domain.DifficultyHard, want: 30},
		{name: "legacy value", difficulty: domain.Difficulty("EPIC"), want: domain.DefaultRewardPoints},
		{name: "empty", difficulty: "", want: domain.DefaultRewardPoints},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := domain.RewardFor(tt.difficulty); got != tt.want {
				t.Errorf("RewardFor(%q) = %d, want %d", tt.difficulty, got, tt.want)
			}
		})
	}
}
