package gpu

import "context"

// Submission is the future returned by a flush. Value is the timeline value
// the submission signals; it is zero when nothing was submitted.
type Submission struct {
	Value    uint64
	timeline *Timeline
}

func (s Submission) Submitted() bool {
	return s.timeline != nil && s.Value != 0
}

// Done reports whether the GPU has finished the submission. Submissions that
// never reached the queue are always done.
func (s Submission) Done() bool {
	if !s.Submitted() {
		return true
	}
	return s.timeline.IsComplete(s.Value)
}

func (s Submission) Wait(ctx context.Context) error {
	if !s.Submitted() {
		return nil
	}
	return s.timeline.Wait(ctx, s.Value)
}
