package repo

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"packshot/internal/domain"
	"packshot/internal/infra"
	"packshot/internal/sqlinline"
)

type call struct {
	query string
	args  []any
}

// stubDB answers QueryRow by marker. A missing entry yields pgx.ErrNoRows.
type stubDB struct {
	rows    map[string][]any
	list    [][]any
	tag     pgconn.CommandTag
	execErr error
	calls   []call
}

func (s *stubDB) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.calls = append(s.calls, call{query: query, args: args})
	return s.tag, s.execErr
}

func (s *stubDB) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.calls = append(s.calls, call{query: query, args: args})
	marker, _, err := infra.ExtractMarker(query)
	if err != nil {
		return valuesRow{err: err}
	}
	values, ok := s.rows[marker]
	if !ok {
		return valuesRow{err: pgx.ErrNoRows}
	}
	return valuesRow{values: values}
}

func (s *stubDB) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	s.calls = append(s.calls, call{query: query, args: args})
	return &valuesRows{data: s.list, idx: -1}, nil
}

func markerOf(t *testing.T, query string) string {
	t.Helper()
	marker, _, err := infra.ExtractMarker(query)
	if err != nil {
		t.Fatalf("marker: %v", err)
	}
	return marker
}

type valuesRow struct {
	values []any
	err    error
}

func (r valuesRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

func assign(values, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("scan: %d values for %d destinations", len(values), len(dest))
	}
	for i, d := range dest {
		if values[i] == nil {
			continue
		}
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(values[i]))
	}
	return nil
}

type valuesRows struct {
	data [][]any
	idx  int
}

func (r *valuesRows) Close()                                       {}
func (r *valuesRows) Err() error                                   { return nil }
func (r *valuesRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *valuesRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *valuesRows) Next() bool                                   { r.idx++; return r.idx < len(r.data) }
func (r *valuesRows) Scan(dest ...any) error                       { return assign(r.data[r.idx], dest) }
func (r *valuesRows) Values() ([]any, error)                       { return r.data[r.idx], nil }
func (r *valuesRows) RawValues() [][]byte                          { return nil }
func (r *valuesRows) Conn() *pgx.Conn                              { return nil }

func jobValues(id, status string, attempts int, output []byte) []any {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	var next *time.Time
	return []any{
		id, "prod-1", "user-1", status, "segmenting", 25, attempts, 3, next, "rembg",
		[]byte(`{"original_path":"user-1/prod-1/original.jpg"}`), output, "", now, now, (*time.Time)(nil), (*time.Time)(nil),
	}
}

func TestCreateJobDefaults(t *testing.T) {
	now := time.Now()
	db := &stubDB{rows: map[string][]any{markerOf(t, sqlinline.QInsertJob): {now, now}}}
	repo := NewJobRepository(db)

	job := &domain.Job{ProductID: "prod-1", UserID: "user-1"}
	if err := repo.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	if job.ID == "" || job.Status != domain.JobStatusQueued || job.MaxAttempts != domain.DefaultMaxAttempts {
		t.Fatalf("defaults not applied: %+v", job)
	}
	if job.CurrentStep != domain.StepUploading {
		t.Fatalf("current step = %q", job.CurrentStep)
	}
	if !job.CreatedAt.Equal(now) {
		t.Fatalf("created_at not scanned")
	}
	args := db.calls[0].args
	if len(args) != 8 || args[3] != "queued" || args[6] != domain.DefaultMaxAttempts {
		t.Fatalf("unexpected insert args %v", args)
	}
}

func TestCreateJobRequiresProduct(t *testing.T) {
	repo := NewJobRepository(&stubDB{})
	if err := repo.CreateJob(context.Background(), &domain.Job{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
}

func TestGetJobDecodesPayloads(t *testing.T) {
	id := "0b8f3c2e-6a8f-4e53-9d0a-1d2b3c4d5e6f"
	out := []byte(`{"images":{"processed":{"bucket":"processed-images","path":"user-1/prod-1/processed.png"}},"quality_score":90,"quality_passed":true,"provider_used":"rembg"}`)
	db := &stubDB{rows: map[string][]any{markerOf(t, sqlinline.QSelectJob): jobValues(id, "completed", 1, out)}}

	job, err := NewJobRepository(db).GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob error: %v", err)
	}
	if job.Status != domain.JobStatusCompleted || job.InputData.OriginalPath != "user-1/prod-1/original.jpg" {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.OutputData == nil || job.OutputData.QualityScore != 90 || job.OutputData.Images["processed"].Bucket != "processed-images" {
		t.Fatalf("output not decoded: %+v", job.OutputData)
	}
}

func TestGetJobNotFound(t *testing.T) {
	repo := NewJobRepository(&stubDB{})
	for _, id := range []string{"not-a-uuid", "0b8f3c2e-6a8f-4e53-9d0a-1d2b3c4d5e6f"} {
		if _, err := repo.GetJob(context.Background(), id); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("GetJob(%q) error = %v, want ErrNotFound", id, err)
		}
	}
}

func TestUpdateProgressConflict(t *testing.T) {
	id := "0b8f3c2e-6a8f-4e53-9d0a-1d2b3c4d5e6f"
	tests := []struct {
		name string
		rows map[string][]any
		upd  domain.ProgressUpdate
		want error
	}{
		{
			name: "applied",
			rows: map[string][]any{markerOf(t, sqlinline.QUpdateJobProgress): {"processing"}},
			upd:  domain.ProgressUpdate{Step: domain.StepComposing, Progress: 55},
		},
		{
			name: "missing row",
			rows: map[string][]any{},
			upd:  domain.ProgressUpdate{Progress: 55},
			want: domain.ErrNotFound,
		},
		{
			name: "status moved on",
			rows: map[string][]any{markerOf(t, sqlinline.QSelectJob): jobValues(id, "processing", 0, nil)},
			upd:  domain.ProgressUpdate{Status: domain.JobStatusProcessing, From: domain.JobStatusQueued, Progress: 5},
			want: domain.ErrStatusConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &stubDB{rows: tt.rows}
			err := NewJobRepository(db).UpdateProgress(context.Background(), id, tt.upd)
			if !errors.Is(err, tt.want) && !(tt.want == nil && err == nil) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			args := db.calls[0].args
			if args[5] != string(tt.upd.From) {
				t.Fatalf("from guard arg = %v", args[5])
			}
		})
	}
}

func TestIncrementAttempt(t *testing.T) {
	tests := []struct {
		attempts, max int
		retry         bool
	}{
		{1, 3, true},
		{2, 3, true},
		{3, 3, false},
	}
	for _, tt := range tests {
		db := &stubDB{rows: map[string][]any{markerOf(t, sqlinline.QIncrementJobAttempt): {tt.attempts, tt.max}}}
		res, err := NewJobRepository(db).IncrementAttempt(context.Background(), "id", "boom", 4*time.Second)
		if err != nil {
			t.Fatalf("IncrementAttempt error: %v", err)
		}
		if res.ShouldRetry != tt.retry || res.Attempts != tt.attempts {
			t.Fatalf("attempts %d: got %+v", tt.attempts, res)
		}
		if secs := db.calls[0].args[2]; secs != 4.0 {
			t.Fatalf("delay arg = %v, want 4", secs)
		}
	}
}

func TestCompleteAndFailReportRowsAffected(t *testing.T) {
	db := &stubDB{tag: pgconn.NewCommandTag("UPDATE 1")}
	repo := NewJobRepository(db)
	ok, err := repo.CompleteJob(context.Background(), "id", domain.JobOutput{QualityScore: 85})
	if err != nil || !ok {
		t.Fatalf("CompleteJob = (%v, %v)", ok, err)
	}
	if !strings.Contains(string(db.calls[0].args[1].([]byte)), `"quality_score":85`) {
		t.Fatalf("output payload = %s", db.calls[0].args[1])
	}

	db.tag = pgconn.NewCommandTag("UPDATE 0")
	ok, err = repo.FailJob(context.Background(), "id", "boom")
	if err != nil || ok {
		t.Fatalf("FailJob = (%v, %v), want false", ok, err)
	}
}

func TestNextEligibleJobEmpty(t *testing.T) {
	_, err := NewJobRepository(&stubDB{}).NextEligibleJob(context.Background())
	if !errors.Is(err, domain.ErrNoJobAvailable) {
		t.Fatalf("error = %v, want ErrNoJobAvailable", err)
	}
}

func TestListJobs(t *testing.T) {
	db := &stubDB{list: [][]any{
		jobValues("a", "queued", 0, nil),
		jobValues("b", "failed", 1, nil),
	}}
	jobs, err := NewJobRepository(db).ListJobs(context.Background(), "user-1", 0)
	if err != nil {
		t.Fatalf("ListJobs error: %v", err)
	}
	if len(jobs) != 2 || jobs[1].Status != domain.JobStatusFailed {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
	if db.calls[0].args[1] != DefaultListLimit {
		t.Fatalf("limit arg = %v", db.calls[0].args[1])
	}
}

func TestCreateImage(t *testing.T) {
	now := time.Now()
	db := &stubDB{rows: map[string][]any{markerOf(t, sqlinline.QInsertImage): {"img-1", now}}}
	score := 92
	rec := &domain.ImageRecord{ProductID: "prod-1", Type: domain.VariantProcessed, Bucket: "processed-images", Path: "u/p/processed.png", QualityScore: &score}
	id, err := NewImageRepository(db).CreateImage(context.Background(), rec)
	if err != nil || id != "img-1" || rec.ID != "img-1" {
		t.Fatalf("CreateImage = (%q, %v)", id, err)
	}
	if _, err := NewImageRepository(db).CreateImage(context.Background(), &domain.ImageRecord{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
