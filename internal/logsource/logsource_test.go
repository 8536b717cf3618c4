package logsource

import (
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gustycube/baxter/internal/types"
)

const accessLog = `10.0.0.2 - - [01/Mar/2026:10:00:00 +0000] "GET / HTTP/1.1" 200 512 "-" "Mozilla/5.0"
10.0.0.10 - - [01/Mar/2026:10:00:01 +0000] "GET /a HTTP/1.1" 200 512 "-" "curl/8.0"
10.0.0.2 - - [01/Mar/2026:10:00:02 +0000] "GET /b HTTP/1.1" 404 0 "-" "Mozilla/5.0"
66.249.66.1 - - [01/Mar/2026:10:00:03 +0000] "GET / HTTP/1.1" 200 512 "-" "Mozilla/5.0 (compatible; Googlebot/2.1)"
127.0.0.1 - - [01/Mar/2026:10:00:04 +0000] "GET /status HTTP/1.1" 200 2 "-" "check"
::1 - - [01/Mar/2026:10:00:05 +0000] "GET / HTTP/1.1" 200 2 "-" "check"
garbage line
`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestParse(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "access.log"), accessLog)
	writeFile(t, filepath.Join(dir, "access.log.1"), "10.0.0.10 - - [x] \"GET / HTTP/1.1\" 200 1\n")
	writeFile(t, filepath.Join(dir, "error.log"), "10.0.0.99 - - [x] oops\n")

	p := New(filepath.Join(dir, "access*"), Filter{
		IgnoreIPs:  []string{"127.0.0.1"},
		IgnoreBots: []string{"GoogleBot"},
	}, nil)
	got, err := p.Parse(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []types.AddressObservation{
		{Address: "10.0.0.2", Count: 2},
		{Address: "10.0.0.10", Count: 2},
	}, got)
}

func TestParse_Gzip(t *testing.T) {
	dir := t.TempDir()
	fh, err := os.Create(filepath.Join(dir, "access.log.2.gz"))
	require.NoError(t, err)
	gz := gzip.NewWriter(fh)
	_, err = gz.Write([]byte(strings.Repeat("192.0.2.5 - - \"GET /\"\n", 3)))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, fh.Close())

	got, err := New(filepath.Join(dir, "access*"), Filter{}, nil).Parse(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.AddressObservation{{Address: "192.0.2.5", Count: 3}}, got)
}

func TestParse_NoMatches(t *testing.T) {
	got, err := New(filepath.Join(t.TempDir(), "none*"), Filter{}, nil).Parse(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParse_BadPattern(t *testing.T) {
	_, err := New("[", Filter{}, nil).Parse(context.Background())
	assert.Error(t, err)
}
