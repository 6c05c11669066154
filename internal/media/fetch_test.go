package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nextlevelbuilder/wagate/internal/core"
)

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	data, ct, err := NewFetcher().Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("data = %q", data)
	}
	if ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
}

func TestFetch_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, _, err := NewFetcher().Fetch(context.Background(), srv.URL)
	if !errors.Is(err, core.ErrMediaFetchFailed) {
		t.Errorf("error = %v, want ErrMediaFetchFailed", err)
	}
}

func TestFetch_Unreachable(t *testing.T) {
	_, _, err := NewFetcher().Fetch(context.Background(), "http://127.0.0.1:1/nope")
	if !errors.Is(err, core.ErrMediaFetchFailed) {
		t.Errorf("error = %v, want ErrMediaFetchFailed", err)
	}
}

func TestSanitizeImage_ShrinksLargeImage(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2400, 1600))); err != nil {
		t.Fatal(err)
	}

	out, ct, err := SanitizeImage(buf.Bytes(), "image/png")
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if ct != "image/jpeg" {
		t.Errorf("content type = %q, want image/jpeg", ct)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode sanitized: %v", err)
	}
	if cfg.Width > imageMaxSide || cfg.Height > imageMaxSide {
		t.Errorf("sanitized size %dx%d exceeds %d", cfg.Width, cfg.Height, imageMaxSide)
	}
}

func TestSanitizeImage_PassthroughNonImage(t *testing.T) {
	in := []byte("not an image")
	out, ct, err := SanitizeImage(in, "application/octet-stream")
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if !bytes.Equal(out, in) || ct != "application/octet-stream" {
		t.Error("non-image input should pass through unchanged")
	}
}
