package report

import (
	"bytes"
	"context"
	"encoding/json"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gustycube/baxter/internal/store"
	"github.com/gustycube/baxter/internal/types"
)

type fakeGeo map[string]string

func (g fakeGeo) Country(target string) string { return g[target] }

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func seeded(t *testing.T) store.Store {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.Append(ctx, types.ClassAllowed, "10.0.9.0/24"))
	require.NoError(t, st.Append(ctx, types.ClassFlagged, "10.0.1.0/24"))
	require.NoError(t, st.Append(ctx, types.ClassBanned, "192.0.2.1"))
	require.NoError(t, st.Append(ctx, types.ClassBanned, "10.0.2.0/24"))
	require.NoError(t, st.Append(ctx, types.ClassBanned, "192.0.2.1"))
	return st
}

func TestBuild(t *testing.T) {
	r, err := Build(context.Background(), seeded(t), day, fakeGeo{"192.0.2.1": "NL"})
	require.NoError(t, err)

	assert.Equal(t, "2026-03-02", r.Date)
	assert.Equal(t, []Entry{{Target: "10.0.1.0/24", Scope: types.ScopeBlock}}, r.Flagged)
	assert.Equal(t, []Entry{
		{Target: "192.0.2.1", Scope: types.ScopeAddress, Country: "NL"},
		{Target: "10.0.2.0/24", Scope: types.ScopeBlock},
	}, r.Banned)
	assert.Equal(t, "Baxter report for 2026-03-02", r.Subject())
}

func TestRender(t *testing.T) {
	r, err := Build(context.Background(), seeded(t), day, nil)
	require.NoError(t, err)

	var text bytes.Buffer
	require.NoError(t, Render(&text, FormatText, r))
	assert.Contains(t, text.String(), "Flagged (1)\n  10.0.1.0/24\n")
	assert.Contains(t, text.String(), "Banned (2)\n  192.0.2.1\n  10.0.2.0/24\n")

	var js bytes.Buffer
	require.NoError(t, Render(&js, FormatJSON, r))
	var back Report
	require.NoError(t, json.Unmarshal(js.Bytes(), &back))
	assert.Len(t, back.Banned, 2)

	var csv bytes.Buffer
	require.NoError(t, Render(&csv, FormatCSV, r))
	lines := strings.Split(strings.TrimSpace(csv.String()), "\n")
	assert.Len(t, lines, 4)
	assert.Equal(t, "2026-03-02,flagged,block,10.0.1.0/24,", lines[1])
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)
	_, err = ParseFormat("parquet")
	assert.Error(t, err)
}

func TestMailer(t *testing.T) {
	var gotTo []string
	var gotMsg string
	m := NewMailer("localhost:25", "baxter@example.com", "ops@example.com, ", nil, FormatText)
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotTo = to
		gotMsg = string(msg)
		return nil
	}

	sent, err := m.Send(Report{Date: "2026-03-02"})
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Empty(t, gotMsg)

	r, err := Build(context.Background(), seeded(t), day, nil)
	require.NoError(t, err)
	sent, err = m.Send(r)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, []string{"ops@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Baxter report for 2026-03-02\r\n")
	assert.Contains(t, gotMsg, "10.0.2.0/24\r\n")
}

func TestOpenGeoIP_Missing(t *testing.T) {
	_, err := OpenGeoIP("/nonexistent/GeoLite2-Country.mmdb")
	assert.Error(t, err)
}
