package intake

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwulff/medibot/internal/backend"
)

type fakeSummarizer struct {
	calls []string
	err   error
}

func (f *fakeSummarizer) Summarize(_ context.Context, text string) (string, error) {
	f.calls = append(f.calls, text)
	if f.err != nil {
		return "", f.err
	}
	return "summary of " + text, nil
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestAnalyzeCachesByText(t *testing.T) {
	f := &fakeSummarizer{}
	s := New(f)

	first, err := s.Analyze(context.Background(), Request{Text: "  fever and cough "})
	require.NoError(t, err)
	assert.Equal(t, "summary of fever and cough", first.Summary)
	assert.False(t, first.Cached)

	second, err := s.Analyze(context.Background(), Request{Text: "fever and cough"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Summary, second.Summary)
	assert.Len(t, f.calls, 1)

	s.Forget()
	_, err = s.Analyze(context.Background(), Request{Text: "fever and cough"})
	require.NoError(t, err)
	assert.Len(t, f.calls, 2)
}

func TestAnalyzeWithoutCache(t *testing.T) {
	f := &fakeSummarizer{}
	s := New(f, WithCacheTTL(0))

	for i := 0; i < 2; i++ {
		res, err := s.Analyze(context.Background(), Request{Text: "rash"})
		require.NoError(t, err)
		assert.False(t, res.Cached)
	}
	assert.Len(t, f.calls, 2)
	s.Forget()
}

func TestAnalyzeErrorsAreNotCached(t *testing.T) {
	f := &fakeSummarizer{err: &backend.ServiceError{Op: "summary", StatusCode: 500}}
	s := New(f)

	_, err := s.Analyze(context.Background(), Request{Text: "rash"})
	require.Error(t, err)

	f.err = nil
	res, err := s.Analyze(context.Background(), Request{Text: "rash"})
	require.NoError(t, err)
	assert.False(t, res.Cached)
}

func TestAnalyzeEmpty(t *testing.T) {
	f := &fakeSummarizer{}
	_, err := New(f).Analyze(context.Background(), Request{Text: "   "})
	assert.ErrorIs(t, err, ErrEmpty)
	assert.Empty(t, f.calls)
}

func TestPrepareTextFile(t *testing.T) {
	path := writeFile(t, "labs.txt", []byte("WBC 11.2\n"))

	got, err := Prepare(Request{Text: "fever", FilePath: path})
	require.NoError(t, err)
	assert.Equal(t, "fever\n[File: labs.txt]\nWBC 11.2", got)

	got, err = Prepare(Request{FilePath: path})
	require.NoError(t, err)
	assert.Equal(t, "[File: labs.txt]\nWBC 11.2", got)
}

func TestPreparePDF(t *testing.T) {
	got, err := Prepare(Request{Text: "fever", FilePath: filepath.Join("testdata", "cbc.pdf")})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got, "fever\n[File: cbc.pdf]\n"), "got %q", got)
	body := strings.TrimPrefix(got, "fever\n[File: cbc.pdf]\n")
	assert.Contains(t, body, "Hemoglobin 13.5 g/dL")
	assert.Contains(t, body, "WBC 11.2")
}

func TestPrepareUnreadableDocuments(t *testing.T) {
	doc := writeFile(t, "notes.docx", []byte("PK\x03\x04"))
	got, err := Prepare(Request{Text: "fever", FilePath: doc})
	require.NoError(t, err)
	assert.Equal(t, "fever\n[File uploaded: notes.docx]", got)

	bin := writeFile(t, "scan.bin", []byte{0xff, 0xfe, 0x00, 0x81})
	got, err = Prepare(Request{FilePath: bin})
	require.NoError(t, err)
	assert.Equal(t, "[File uploaded: scan.bin]", got)
}

func TestPrepareFileErrors(t *testing.T) {
	_, err := Prepare(Request{FilePath: filepath.Join(t.TempDir(), "missing.txt")})
	assert.ErrorIs(t, err, os.ErrNotExist)

	big := filepath.Join(t.TempDir(), "big.txt")
	fh, err := os.Create(big)
	require.NoError(t, err)
	require.NoError(t, fh.Truncate(MaxFileSize+1))
	require.NoError(t, fh.Close())
	_, err = Prepare(Request{FilePath: big})
	assert.ErrorIs(t, err, ErrFileTooLarge)

	bad := writeFile(t, "report.pdf", []byte("not a pdf"))
	_, err = Prepare(Request{FilePath: bad})
	assert.Error(t, err)
}

func TestFailureMessage(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrEmpty, "Please enter patient data or attach a file."},
		{&backend.TimeoutError{Op: "summary", Err: context.DeadlineExceeded}, TimeoutText},
		{&backend.NetworkError{Op: "summary", Err: errors.New("refused")}, NetworkText},
		{&backend.ServiceError{Op: "summary", StatusCode: 502}, FailedText},
		{&backend.MalformedResponseError{Op: "summary", Reason: "missing text"}, FailedText},
	}
	for _, c := range cases {
		if got := FailureMessage(c.err); got != c.want {
			t.Errorf("FailureMessage(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}
