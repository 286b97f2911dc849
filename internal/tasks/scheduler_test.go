package tasks

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestClaimAndRunWithoutRedis(t *testing.T) {
	s := &Scheduler{logger: zap.NewNop()}

	ran := 0
	s.claimAndRun(context.Background(), "move_files", func(ctx context.Context) {
		ran++
	})
	if ran != 1 {
		t.Fatalf("expected job to run once without redis, ran %d times", ran)
	}
}
