package segmentation

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"packshot/internal/domain"
)

type stubProvider struct {
	name  string
	out   []byte
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Segment(ctx context.Context, image []byte) ([]byte, error) {
	s.calls++
	return s.out, s.err
}

func TestChainFallsBackToNextProvider(t *testing.T) {
	first := &stubProvider{name: "first", err: errors.New("boom")}
	second := &stubProvider{name: "second", out: []byte("png")}
	third := &stubProvider{name: "third", out: []byte("other")}

	out, name, err := NewChain(nil, first, second, third).Segment(context.Background(), []byte("in"))
	if err != nil {
		t.Fatalf("Segment error: %v", err)
	}
	if name != "second" || string(out) != "png" {
		t.Fatalf("got (%q, %q), want (second, png)", name, out)
	}
	if first.calls != 1 || second.calls != 1 || third.calls != 0 {
		t.Fatalf("unexpected calls: %d %d %d", first.calls, second.calls, third.calls)
	}
}

func TestChainTreatsEmptyResultAsFailure(t *testing.T) {
	empty := &stubProvider{name: "empty"}
	ok := &stubProvider{name: "ok", out: []byte{1}}

	_, name, err := NewChain(nil, empty, ok).Segment(context.Background(), nil)
	if err != nil {
		t.Fatalf("Segment error: %v", err)
	}
	if name != "ok" {
		t.Fatalf("provider = %q, want ok", name)
	}
}

func TestChainAllFail(t *testing.T) {
	lastErr := errors.New("quota exhausted")
	chain := NewChain(nil,
		&stubProvider{name: "a", err: errors.New("timeout")},
		&stubProvider{name: "b"},
		&stubProvider{name: "c", err: lastErr},
	)
	_, name, err := chain.Segment(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if name != "" {
		t.Fatalf("provider = %q, want empty", name)
	}
	var chainErr *ChainError
	if !errors.As(err, &chainErr) {
		t.Fatalf("expected ChainError, got %T", err)
	}
	if len(chainErr.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(chainErr.Attempts))
	}
	if !errors.Is(chainErr.Attempts[1].Err, ErrEmptyResult) {
		t.Fatalf("second attempt error = %v, want ErrEmptyResult", chainErr.Attempts[1].Err)
	}
	if !errors.Is(err, lastErr) {
		t.Fatal("expected chain error to unwrap to the last provider error")
	}
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatal("expected chain error to match ErrProviderFailure")
	}
	if !strings.Contains(err.Error(), "last error") || !strings.Contains(err.Error(), "quota exhausted") {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestChainStopsOnCancelledContext(t *testing.T) {
	p := &stubProvider{name: "a", out: []byte{1}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewChain(nil, p).Segment(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if p.calls != 0 {
		t.Fatalf("provider called %d times after cancel", p.calls)
	}
}

func TestBuild(t *testing.T) {
	a := &stubProvider{name: "rembg"}
	c := &stubProvider{name: "chroma-key"}
	registry := map[string]Provider{"rembg": a, "removebg": nil, "chroma-key": c}

	providers, skipped, err := Build([]string{" chroma-key", "REMBG", "removebg", ""}, registry)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if len(providers) != 2 || providers[0] != c || providers[1] != a {
		t.Fatalf("unexpected provider order: %#v", providers)
	}
	if len(skipped) != 1 || skipped[0] != "removebg" {
		t.Fatalf("skipped = %v, want [removebg]", skipped)
	}

	if _, _, err := Build([]string{"magic"}, registry); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if _, _, err := Build([]string{"removebg"}, registry); err == nil {
		t.Fatal("expected error when nothing is available")
	}
}

func TestRembgSegment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/remove" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			http.Error(w, "bad", http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(append([]byte("cut:"), data...))
	}))
	defer srv.Close()

	p, err := NewRembg(HTTPOptions{BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("NewRembg: %v", err)
	}
	out, err := p.Segment(context.Background(), []byte("raw"))
	if err != nil {
		t.Fatalf("Segment error: %v", err)
	}
	if string(out) != "cut:raw" {
		t.Fatalf("output = %q", out)
	}
}

func TestRembgErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, _ := NewRembg(HTTPOptions{BaseURL: srv.URL})
	_, err := p.Segment(context.Background(), []byte("raw"))
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("error = %v, want status 503", err)
	}
}

func TestRembgErrorBodyTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, strings.Repeat("x", 4096), http.StatusBadGateway)
	}))
	defer srv.Close()

	p, _ := NewRembg(HTTPOptions{BaseURL: srv.URL})
	_, err := p.Segment(context.Background(), []byte("raw"))
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("error = %v, want status 502", err)
	}
	if len(err.Error()) > maxErrorBodyBytes+64 || !strings.HasSuffix(err.Error(), "...") {
		t.Fatalf("error body not truncated: %d bytes", len(err.Error()))
	}
}

func TestImageRequestTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte{1}, 65))
	}))
	defer srv.Close()

	tests := []struct {
		name  string
		limit int64
		want  error
	}{
		{"over limit", 64, ErrResponseTooLarge},
		{"at limit", 65, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
			if err != nil {
				t.Fatalf("NewRequest: %v", err)
			}
			out, err := doImageRequest(srv.Client(), req, "rembg", tt.limit)
			if tt.want != nil {
				if !errors.Is(err, tt.want) {
					t.Fatalf("error = %v, want %v", err, tt.want)
				}
				return
			}
			if err != nil || len(out) != 65 {
				t.Fatalf("got (%d bytes, %v)", len(out), err)
			}
		})
	}
}

func TestRemoveBGSegment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Api-Key"); got != "secret" {
			t.Errorf("X-Api-Key = %q", got)
		}
		if got := r.FormValue("size"); got != "auto" {
			t.Errorf("size = %q, want auto", got)
		}
		if _, _, err := r.FormFile("image_file"); err != nil {
			t.Errorf("image_file: %v", err)
		}
		_, _ = w.Write([]byte("png"))
	}))
	defer srv.Close()

	p, err := NewRemoveBG(HTTPOptions{BaseURL: srv.URL, APIKey: " secret "})
	if err != nil {
		t.Fatalf("NewRemoveBG: %v", err)
	}
	out, err := p.Segment(context.Background(), []byte("raw"))
	if err != nil {
		t.Fatalf("Segment error: %v", err)
	}
	if string(out) != "png" {
		t.Fatalf("output = %q", out)
	}

	if _, err := NewRemoveBG(HTTPOptions{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("error = %v, want ErrMissingAPIKey", err)
	}
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestChromaKeySegment(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 80))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 20, G: 200, B: 30, A: 255}}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(30, 20, 70, 60), &image.Uniform{C: color.RGBA{R: 200, G: 30, B: 40, A: 255}}, image.Point{}, draw.Src)

	out, err := NewChromaKey(0).Segment(context.Background(), encodePNG(t, img))
	if err != nil {
		t.Fatalf("Segment error: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if _, _, _, a := decoded.At(2, 2).RGBA(); a != 0 {
		t.Fatalf("background alpha = %d, want 0", a)
	}
	if _, _, _, a := decoded.At(50, 40).RGBA(); a != 0xffff {
		t.Fatalf("subject alpha = %d, want opaque", a)
	}
}

func TestChromaKeyFailures(t *testing.T) {
	flat := image.NewRGBA(image.Rect(0, 0, 50, 50))
	draw.Draw(flat, flat.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	if _, err := NewChromaKey(0).Segment(context.Background(), encodePNG(t, flat)); !errors.Is(err, ErrNoSubject) {
		t.Fatalf("flat image error = %v, want ErrNoSubject", err)
	}

	noisy := image.NewRGBA(image.Rect(0, 0, 50, 50))
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			v := uint8(0)
			if (x+y)%2 == 0 {
				v = 255
			}
			noisy.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	if _, err := NewChromaKey(0).Segment(context.Background(), encodePNG(t, noisy)); !errors.Is(err, ErrNoBackground) {
		t.Fatalf("checkerboard error = %v, want ErrNoBackground", err)
	}

	if _, err := NewChromaKey(0).Segment(context.Background(), []byte("nope")); err == nil {
		t.Fatal("expected decode error")
	}
}
