package config

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ZebulonRouseFrantzich/zinstall/internal/download"
)

type stubFetcher struct {
	text string
	err  error
	urls []string
}

func (s *stubFetcher) Text(_ context.Context, url string) (string, error) {
	s.urls = append(s.urls, url)
	return s.text, s.err
}

func TestLoader_Fetch(t *testing.T) {
	tests := []struct {
		name     string
		fetcher  *stubFetcher
		wantKind FetchKind
		wantErr  bool
		wantText string
	}{
		{
			name:    "success",
			fetcher: &stubFetcher{text: fullManifest},
		},
		{
			name:     "connectivity",
			fetcher:  &stubFetcher{err: errors.New("dial tcp: connection refused")},
			wantErr:  true,
			wantKind: Connectivity,
			wantText: "dial tcp: connection refused",
		},
		{
			name:     "content",
			fetcher:  &stubFetcher{text: "<html>not toml</html>"},
			wantErr:  true,
			wantKind: Content,
			wantText: "bad manifest from https://cfg.example.com/manifest.toml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewLoader(tt.fetcher, nil)
			cfg, err := loader.Fetch(context.Background(), "https://cfg.example.com/manifest.toml")

			if len(tt.fetcher.urls) != 1 {
				t.Errorf("fetcher called %d times, want 1", len(tt.fetcher.urls))
			}

			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Fetch() error = %v", err)
				}
				if len(cfg.Packages) != 2 {
					t.Errorf("len(Packages) = %d", len(cfg.Packages))
				}
				return
			}

			var fetchErr *FetchError
			if !errors.As(err, &fetchErr) {
				t.Fatalf("expected *FetchError, got %T (%v)", err, err)
			}
			if fetchErr.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", fetchErr.Kind, tt.wantKind)
			}
			if !strings.Contains(err.Error(), tt.wantText) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantText)
			}
		})
	}
}

func TestLoader_FetchOverHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/manifest.toml":
			_, _ = w.Write([]byte(fullManifest))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	loader := NewLoader(download.New(download.WithRetries(0)), nil)

	cfg, err := loader.Fetch(context.Background(), server.URL+"/manifest.toml")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if cfg.NewTool == "" {
		t.Error("NewTool should be parsed")
	}

	_, err = loader.Fetch(context.Background(), server.URL+"/missing.toml")
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Kind != Connectivity {
		t.Errorf("404 should be a connectivity failure, got %v", err)
	}
}

func TestFetchKindString(t *testing.T) {
	if Connectivity.String() != "connectivity" || Content.String() != "content" || FetchKind(9).String() != "unknown" {
		t.Error("unexpected FetchKind strings")
	}
}
