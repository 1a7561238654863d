package domain_test

import (
	"testing"
	"time"

	"github.com/FreeBandoLano/echobot-sub000/internal/domain"
)

func TestBlockStatus_ForwardPath(t *testing.T) {
	path := []domain.BlockStatus{
		domain.BlockScheduled,
		domain.BlockRecording,
		domain.BlockRecorded,
		domain.BlockTranscribing,
		domain.BlockTranscribed,
		domain.BlockSummarizing,
		domain.BlockCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		if !path[i].CanTransition(path[i+1]) {
			t.Errorf("CanTransition(%s → %s) = false, want true", path[i], path[i+1])
		}
	}
}

func TestBlockStatus_NoStageSkipping(t *testing.T) {
	// A block must never skip TRANSCRIBED en route from RECORDED to SUMMARIZING.
	skips := []struct{ from, to domain.BlockStatus }{
		{domain.BlockRecorded, domain.BlockSummarizing},
		{domain.BlockRecorded, domain.BlockTranscribed},
		{domain.BlockScheduled, domain.BlockRecorded},
		{domain.BlockRecording, domain.BlockTranscribing},
		{domain.BlockTranscribing, domain.BlockSummarizing},
		{domain.BlockTranscribed, domain.BlockCompleted},
	}
	for _, s := range skips {
		if s.from.CanTransition(s.to) {
			t.Errorf("CanTransition(%s → %s) = true, want false", s.from, s.to)
		}
	}
}

func TestBlockStatus_SummarizeRollback(t *testing.T) {
	if !domain.BlockSummarizing.CanTransition(domain.BlockTranscribed) {
		t.Error("SUMMARIZING → TRANSCRIBED rollback must be legal")
	}
	// The rollback is one-directional and unique to the summarize stage.
	if domain.BlockTranscribing.CanTransition(domain.BlockRecorded) {
		t.Error("TRANSCRIBING → RECORDED must not be legal")
	}
}

func TestBlockStatus_FailedFromAnyNonTerminal(t *testing.T) {
	nonTerminal := []domain.BlockStatus{
		domain.BlockScheduled, domain.BlockRecording, domain.BlockRecorded,
		domain.BlockTranscribing, domain.BlockTranscribed, domain.BlockSummarizing,
	}
	for _, s := range nonTerminal {
		if !s.CanTransition(domain.BlockFailed) {
			t.Errorf("CanTransition(%s → FAILED) = false, want true", s)
		}
	}
	for _, s := range []domain.BlockStatus{domain.BlockCompleted, domain.BlockFailed} {
		if s.CanTransition(domain.BlockFailed) {
			t.Errorf("CanTransition(%s → FAILED) = true, want false for terminal state", s)
		}
	}
}

func TestBlockStatus_IsTerminal(t *testing.T) {
	for _, s := range []domain.BlockStatus{domain.BlockCompleted, domain.BlockFailed} {
		if !s.IsTerminal() {
			t.Errorf("IsTerminal(%s) = false, want true", s)
		}
	}
	if domain.BlockSummarizing.IsTerminal() {
		t.Error("IsTerminal(SUMMARIZING) = true, want false")
	}
}

func TestShowDateKey(t *testing.T) {
	d := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	if got := domain.ShowDateKey(d); got != "2026-08-27" {
		t.Errorf("ShowDateKey = %q, want 2026-08-27", got)
	}
}
