package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvino/tripsync/internal/protocol"
	"github.com/corvino/tripsync/internal/session"
)

func TestFindConfig_WalksUp(t *testing.T) {
	root := t.TempDir()
	want := Config{Server: "http://trips.example.com", Trip: "trip-1", UserID: "alice", Username: "Alice", Token: "tok"}
	require.NoError(t, writeConfig(filepath.Join(root, configFileName), want))

	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	got, path := findConfig(nested)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)
	assert.Equal(t, filepath.Join(root, configFileName), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestConfigMerge(t *testing.T) {
	c := Config{Server: "http://localhost:8080", Trip: "old"}
	c.merge(Config{Trip: "new", UserID: "bob"})
	assert.Equal(t, Config{Server: "http://localhost:8080", Trip: "new", UserID: "bob"}, c)
}

func TestParseVote(t *testing.T) {
	for _, s := range []string{"yes", "Y", "up", "true"} {
		v, err := parseVote(s)
		require.NoError(t, err, s)
		assert.True(t, v, s)
	}
	for _, s := range []string{"no", "N", "down", "false"} {
		v, err := parseVote(s)
		require.NoError(t, err, s)
		assert.False(t, v, s)
	}
	_, err := parseVote("maybe")
	assert.Error(t, err)
}

func TestReadContent(t *testing.T) {
	got, err := readContent("from body\n", []string{"ignored"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "from body", got)

	got, err = readContent("", []string{"dinner", "at", "8"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "dinner at 8", got)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	_, err = w.WriteString("piped\n\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	got, err = readContent("", nil, r)
	require.NoError(t, err)
	assert.Equal(t, "piped", got)
}

func TestWatcher_PrintsOnlyChanges(t *testing.T) {
	var out bytes.Buffer
	w := newWatcher(&out, false)
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	snap := session.Snapshot{
		Messages:   []protocol.ChatMessage{{SenderID: "bob", SenderName: "Bob", Content: "hi", Timestamp: ts}},
		Activities: []session.ActivityView{{ActivityProposal: protocol.ActivityProposal{ID: "a1", Content: "surf", ProposerName: "Bob"}}},
		Presence:   []session.Participant{{UserID: "bob", Username: "Bob"}},
	}
	w.render(snap)
	first := out.String()
	assert.Contains(t, first, "Bob: hi")
	assert.Contains(t, first, "+ a1  surf")
	assert.Contains(t, first, "--- online: Bob")

	out.Reset()
	w.render(snap)
	assert.Empty(t, out.String())

	snap.Activities[0].Tally = protocol.Tally{Yes: 1}
	snap.Presence = []session.Participant{{UserID: "carol", Username: "Carol"}}
	w.render(snap)
	second := out.String()
	assert.Contains(t, second, "~ a1  surf (by Bob)  yes:1 no:0")
	assert.Contains(t, second, "--- Carol joined")
	assert.Contains(t, second, "--- Bob left")
	assert.NotContains(t, second, "hi")
}

func TestFormatPresence_OnePerUser(t *testing.T) {
	got := formatPresence([]session.Participant{
		{UserID: "bob", Username: "Bob", ConnectionID: "c1"},
		{UserID: "bob", Username: "Bob", ConnectionID: "c2"},
		{UserID: "carol", Username: "Carol", ConnectionID: "c3"},
	})
	assert.Equal(t, "Bob, Carol", got)
	assert.Equal(t, "nobody else here", formatPresence(nil))
}

func TestRenderHTML(t *testing.T) {
	page, err := renderHTML([]byte("# Lisbon\n\n- in: **surf**\n"))
	require.NoError(t, err)
	assert.Contains(t, string(page), "<h1>Lisbon</h1>")
	assert.Contains(t, string(page), "<strong>surf</strong>")
	assert.True(t, bytes.HasPrefix(page, []byte("<!doctype html>")))
}
