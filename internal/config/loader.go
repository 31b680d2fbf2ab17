package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZebulonRouseFrantzich/zinstall/internal/logging"
)

// ErrNotLoaded is returned when an operation needs the manifest before it
// was fetched successfully.
var ErrNotLoaded = errors.New("configuration not loaded")

// FetchKind classifies a manifest fetch failure.
type FetchKind int

const (
	// Connectivity means the manifest could not be downloaded.
	Connectivity FetchKind = iota
	// Content means the manifest downloaded but did not parse or validate.
	Content
)

// String returns the string representation of the kind
func (k FetchKind) String() string {
	switch k {
	case Connectivity:
		return "connectivity"
	case Content:
		return "content"
	default:
		return "unknown"
	}
}

// FetchError reports a failed manifest refresh.
type FetchError struct {
	Kind FetchKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Kind == Connectivity {
		return e.Err.Error()
	}
	return fmt.Sprintf("bad manifest from %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// TextFetcher downloads a text document.
type TextFetcher interface {
	Text(ctx context.Context, url string) (string, error)
}

// Loader fetches and parses remote manifests.
type Loader struct {
	fetcher TextFetcher
	logger  logging.Logger
}

// NewLoader creates a Loader that downloads through fetcher.
func NewLoader(fetcher TextFetcher, logger logging.Logger) *Loader {
	return &Loader{fetcher: fetcher, logger: logging.OrNop(logger)}
}

// Fetch downloads and parses the manifest at url. Failures are returned as
// *FetchError.
func (l *Loader) Fetch(ctx context.Context, url string) (*Config, error) {
	l.logger.Info("downloading configuration", "url", url)

	text, err := l.fetcher.Text(ctx, url)
	if err != nil {
		l.logger.Error("connectivity error while downloading configuration", "url", url, "error", err)
		return nil, &FetchError{Kind: Connectivity, URL: url, Err: err}
	}

	cfg, err := ParseString(text)
	if err != nil {
		l.logger.Error("bad configuration file", "url", url, "error", err)
		return nil, &FetchError{Kind: Content, URL: url, Err: err}
	}

	l.logger.Info("configuration downloaded",
		"channels", len(cfg.Channels),
		"packages", len(cfg.Packages),
		"authentication", cfg.Authentication != nil)
	return cfg, nil
}
