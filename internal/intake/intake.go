// Package intake turns patient data (typed notes plus an optional
// document) into a summary via the remote service, caching results.
package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/jwulff/medibot/internal/backend"
)

// User-facing analysis failure messages.
const (
	FailedText  = "Failed to generate analysis. Please try again."
	NetworkText = "Network error occurred. Please check your connection."
	TimeoutText = "The analysis request timed out. Please try again."
)

// MaxFileSize bounds documents read from disk.
const MaxFileSize = 10 << 20

// DefaultCacheTTL is how long a summary is reused for identical input.
const DefaultCacheTTL = 30 * time.Minute

var (
	// ErrEmpty is returned when neither text nor a file was supplied.
	ErrEmpty = errors.New("intake: no patient data")
	// ErrFileTooLarge is returned for documents over MaxFileSize.
	ErrFileTooLarge = errors.New("intake: file too large")
)

// Request is one analysis request.
type Request struct {
	Text     string
	FilePath string
}

// Result is a generated summary.
type Result struct {
	Summary string
	// Cached is true when the summary was served without a remote call.
	Cached bool
}

// Summarizer is the remote summary operation.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Service prepares requests and summarizes them.
type Service struct {
	client Summarizer
	logger *zap.Logger
	cache  *cache.Cache
}

// Option configures a Service.
type Option func(*serviceConfig)

type serviceConfig struct {
	ttl    time.Duration
	logger *zap.Logger
}

// WithCacheTTL sets how long summaries are cached. Zero or negative
// disables caching.
func WithCacheTTL(d time.Duration) Option { return func(c *serviceConfig) { c.ttl = d } }

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option { return func(c *serviceConfig) { c.logger = l } }

// New returns a Service backed by client.
func New(client Summarizer, opts ...Option) *Service {
	cfg := serviceConfig{ttl: DefaultCacheTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Service{client: client, logger: cfg.logger}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if cfg.ttl > 0 {
		s.cache = cache.New(cfg.ttl, 2*cfg.ttl)
	}
	return s
}

// Analyze builds the analysis text for req and returns its summary.
func (s *Service) Analyze(ctx context.Context, req Request) (Result, error) {
	text, err := Prepare(req)
	if err != nil {
		return Result{}, err
	}

	key := cacheKey(text)
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			s.logger.Debug("summary cache hit", zap.String("key", key[:12]))
			return Result{Summary: v.(string), Cached: true}, nil
		}
	}

	summary, err := s.client.Summarize(ctx, text)
	if err != nil {
		s.logger.Warn("summarize failed", zap.Error(err))
		return Result{}, err
	}
	if s.cache != nil {
		s.cache.Set(key, summary, cache.DefaultExpiration)
	}
	return Result{Summary: summary}, nil
}

// Forget drops every cached summary.
func (s *Service) Forget() {
	if s.cache != nil {
		s.cache.Flush()
	}
}

// Prepare returns the text sent for analysis: the typed notes followed by
// the document contents. Documents whose text cannot be extracted are
// referenced by name only.
func Prepare(req Request) (string, error) {
	text := strings.TrimSpace(req.Text)
	if req.FilePath == "" {
		if text == "" {
			return "", ErrEmpty
		}
		return text, nil
	}

	name := filepath.Base(req.FilePath)
	body, err := readDocument(req.FilePath)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(text)
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	if body == "" {
		fmt.Fprintf(&b, "[File uploaded: %s]", name)
	} else {
		fmt.Fprintf(&b, "[File: %s]\n%s", name, body)
	}
	return b.String(), nil
}

func readDocument(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	if info.Size() > MaxFileSize {
		return "", fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, filepath.Base(path), info.Size())
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return pdfText(path)
	case ".doc", ".docx":
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	if !utf8.Valid(data) {
		return "", nil
	}
	return strings.TrimSpace(string(data)), nil
}

func pdfText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	rd, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var b strings.Builder
	if _, err := io.Copy(&b, rd); err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// FailureMessage converts an Analyze error into the text shown in place
// of a summary.
func FailureMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmpty):
		return "Please enter patient data or attach a file."
	case backend.IsTimeout(err):
		return TimeoutText
	case backend.IsNetwork(err):
		return NetworkText
	}
	return FailedText
}
