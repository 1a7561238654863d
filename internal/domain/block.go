package domain

import "time"

// BlockStatus tracks a block through the capture → digest pipeline.
type BlockStatus string

const (
	BlockScheduled    BlockStatus = "SCHEDULED"
	BlockRecording    BlockStatus = "RECORDING"
	BlockRecorded     BlockStatus = "RECORDED"
	BlockTranscribing BlockStatus = "TRANSCRIBING"
	BlockTranscribed  BlockStatus = "TRANSCRIBED"
	BlockSummarizing  BlockStatus = "SUMMARIZING"
	BlockCompleted    BlockStatus = "COMPLETED"
	BlockFailed       BlockStatus = "FAILED"
)

// IsTerminal returns true if no further state transitions are possible.
func (s BlockStatus) IsTerminal() bool {
	return s == BlockCompleted || s == BlockFailed
}

// blockTransitions is the closed set of legal forward moves.
// SUMMARIZING → TRANSCRIBED is the single rollback: a failed summarize
// attempt returns the block to TRANSCRIBED so the task retry can re-run it.
var blockTransitions = map[BlockStatus][]BlockStatus{
	BlockScheduled:    {BlockRecording},
	BlockRecording:    {BlockRecorded},
	BlockRecorded:     {BlockTranscribing},
	BlockTranscribing: {BlockTranscribed},
	BlockTranscribed:  {BlockSummarizing},
	BlockSummarizing:  {BlockCompleted, BlockTranscribed},
}

// CanTransition reports whether moving from s to next is legal.
// FAILED is reachable from any non-terminal state.
func (s BlockStatus) CanTransition(next BlockStatus) bool {
	if next == BlockFailed {
		return !s.IsTerminal()
	}
	for _, t := range blockTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Block is one scheduled capture/processing window for a program segment
// on a given show date. Exactly one block exists per (show date, code).
type Block struct {
	ID          int64       `json:"id"`
	ShowDate    time.Time   `json:"show_date"` // date only, UTC midnight
	Code        string      `json:"code"`      // grid code, e.g. "A"
	ScheduledAt time.Time   `json:"scheduled_at"`
	EndsAt      time.Time   `json:"ends_at"`
	AudioPath   *string     `json:"audio_path,omitempty"`
	Transcript  *string     `json:"transcript_path,omitempty"`
	Summary     *string     `json:"summary,omitempty"`
	Status      BlockStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Duration is the configured capture window length.
func (b *Block) Duration() time.Duration {
	return b.EndsAt.Sub(b.ScheduledAt)
}

// ShowDateKey formats a show date the way date-scoped tasks and the digest
// lock key it: YYYY-MM-DD.
func ShowDateKey(d time.Time) string {
	return d.Format("2006-01-02")
}

// Digest is the aggregated summary produced once all of a date's blocks
// are complete.
type Digest struct {
	ShowDate  time.Time `json:"show_date"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
