package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNext(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		ev      Event
		want    State
		wantErr bool
	}{
		{
			name: "claim queued",
			from: State{Status: JobStatusQueued, Retryable: true},
			ev:   Event{Kind: EventClaim},
			want: State{Status: JobStatusProcessing, Retryable: true},
		},
		{
			name: "claim retryable failure",
			from: State{Status: JobStatusFailed, Retryable: true},
			ev:   Event{Kind: EventClaim},
			want: State{Status: JobStatusProcessing, Retryable: true},
		},
		{
			name:    "claim terminal failure",
			from:    State{Status: JobStatusFailed},
			ev:      Event{Kind: EventClaim},
			wantErr: true,
		},
		{
			name:    "claim processing",
			from:    State{Status: JobStatusProcessing, Retryable: true},
			ev:      Event{Kind: EventClaim},
			wantErr: true,
		},
		{
			name: "succeed",
			from: State{Status: JobStatusProcessing, Retryable: true},
			ev:   Event{Kind: EventSucceed},
			want: State{Status: JobStatusCompleted},
		},
		{
			name:    "succeed queued",
			from:    State{Status: JobStatusQueued, Retryable: true},
			ev:      Event{Kind: EventSucceed},
			wantErr: true,
		},
		{
			name: "fail with attempts left",
			from: State{Status: JobStatusProcessing, Retryable: true},
			ev:   Event{Kind: EventFail, Attempts: 2, MaxAttempts: 3},
			want: State{Status: JobStatusFailed, Retryable: true},
		},
		{
			name: "fail exhausted",
			from: State{Status: JobStatusProcessing, Retryable: true},
			ev:   Event{Kind: EventFail, Attempts: 3, MaxAttempts: 3},
			want: State{Status: JobStatusFailed},
		},
		{
			name:    "completed is terminal",
			from:    State{Status: JobStatusCompleted},
			ev:      Event{Kind: EventFail, Attempts: 1, MaxAttempts: 3},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Next(tc.from, tc.ev)
			if tc.wantErr {
				if !errors.Is(err, ErrIllegalTransition) {
					t.Fatalf("Next() error = %v, want ErrIllegalTransition", err)
				}
				if got != tc.from {
					t.Fatalf("Next() state on error = %+v, want unchanged %+v", got, tc.from)
				}
				return
			}
			if err != nil {
				t.Fatalf("Next() error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Next() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestJobEligible(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	tests := []struct {
		name string
		job  Job
		want bool
	}{
		{"queued", Job{Status: JobStatusQueued, MaxAttempts: 3}, true},
		{"processing", Job{Status: JobStatusProcessing, MaxAttempts: 3}, false},
		{"completed", Job{Status: JobStatusCompleted, MaxAttempts: 3}, false},
		{"failed due", Job{Status: JobStatusFailed, Attempts: 1, MaxAttempts: 3, NextRetryAt: &past}, true},
		{"failed at now", Job{Status: JobStatusFailed, Attempts: 1, MaxAttempts: 3, NextRetryAt: &now}, true},
		{"failed not due", Job{Status: JobStatusFailed, Attempts: 1, MaxAttempts: 3, NextRetryAt: &future}, false},
		{"failed exhausted", Job{Status: JobStatusFailed, Attempts: 3, MaxAttempts: 3, NextRetryAt: &past}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.job.Eligible(now); got != tc.want {
				t.Fatalf("Eligible() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestJobCanRetry(t *testing.T) {
	j := Job{Status: JobStatusFailed, Attempts: 2, MaxAttempts: 3}
	if !j.CanRetry() {
		t.Fatal("expected retryable job")
	}
	j.Attempts = 3
	if j.CanRetry() {
		t.Fatal("expected exhausted job not to be retryable")
	}
}
