package model

import "testing"

func TestSubmissionStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   SubmissionStatus
		terminal bool
	}{
		{StatusSubmitted, false},
		{StatusQueued, false},
		{StatusStarting, false},
		{StatusRunning, false},
		{StatusSucceeded, true},
		{StatusFailed, true},
		{StatusTimeout, true},
		{StatusCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("SubmissionStatus(%q).IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
		if got := tt.status.IsActive(); got == tt.terminal {
			t.Errorf("SubmissionStatus(%q).IsActive() = %v, want %v", tt.status, got, !tt.terminal)
		}
	}
}

func TestSubmissionStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from  SubmissionStatus
		to    SubmissionStatus
		valid bool
	}{
		{StatusSubmitted, StatusQueued, true},
		{StatusSubmitted, StatusCancelled, true},
		{StatusQueued, StatusStarting, true},
		{StatusStarting, StatusRunning, true},
		{StatusRunning, StatusSucceeded, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusTimeout, true},

		{StatusQueued, StatusCancelled, false},
		{StatusRunning, StatusCancelled, false},
		{StatusSubmitted, StatusRunning, false},
		{StatusSucceeded, StatusQueued, false},
		{StatusCancelled, StatusSubmitted, false},
		{StatusFailed, StatusQueued, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.valid {
			t.Errorf("SubmissionStatus(%q).CanTransitionTo(%q) = %v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestSubmissionStatus_BlocksResubmission(t *testing.T) {
	for _, s := range append(append([]SubmissionStatus{}, ActiveStatuses...), TerminalStatuses...) {
		want := s != StatusFailed && s != StatusCancelled
		if got := s.BlocksResubmission(); got != want {
			t.Errorf("SubmissionStatus(%q).BlocksResubmission() = %v, want %v", s, got, want)
		}
	}
	if !SubmissionStatus("PENDING_EVAL").BlocksResubmission() {
		t.Error("unknown status should block resubmission")
	}
}

func TestSubmissionStatus_IsRunning(t *testing.T) {
	if !StatusStarting.IsRunning() || !StatusRunning.IsRunning() {
		t.Error("STARTING and RUNNING should report IsRunning")
	}
	if StatusQueued.IsRunning() || StatusSubmitted.IsRunning() {
		t.Error("QUEUED and SUBMITTED should not report IsRunning")
	}
}

func TestModelType_Valid(t *testing.T) {
	if !ModelTypeHosted.Valid() || !ModelTypeFile.Valid() {
		t.Error("built-in model types should be valid")
	}
	if ModelType("onnx").Valid() {
		t.Error("unknown model type should be invalid")
	}
}
