package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, opts ...Option) *Logger {
	t.Helper()
	l, err := NewLogger(t.TempDir(), nil, opts...)
	require.NoError(t, err)
	return l
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		out = append(out, entry)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestLogAppendsJSONLines(t *testing.T) {
	l := newTestLogger(t)
	l.Log(EventToolCall, LevelInfo, map[string]any{"tool_name": "wordpress_list_posts"})
	l.Log("", "", map[string]any{"note": "defaults"})

	lines := readLines(t, l.Path())
	require.Len(t, lines, 2)

	first := lines[0]
	assert.Equal(t, EventToolCall, first["event_type"])
	assert.Equal(t, LevelInfo, first["level"])
	assert.Equal(t, "wordpress_list_posts", first["tool_name"])
	assert.NotEmpty(t, first["id"])
	_, err := time.Parse(time.RFC3339Nano, first["timestamp"].(string))
	assert.NoError(t, err)

	second := lines[1]
	assert.Equal(t, EventSystem, second["event_type"], "empty event type defaults to system")
	assert.Equal(t, LevelInfo, second["level"])
}

func TestRedact(t *testing.T) {
	in := map[string]any{
		"username":     "admin",
		"app_password": "hunter2",
		"API_KEY":      "cmp_abc",
		"nested": map[string]any{
			"refresh_token": "rft_abc",
			"site":          "main",
		},
	}
	out := Redact(in)

	assert.Equal(t, "admin", out["username"])
	assert.Equal(t, "[REDACTED]", out["app_password"])
	assert.Equal(t, "[REDACTED]", out["API_KEY"], "matching is case-insensitive")

	nested := out["nested"].(map[string]any)
	assert.Equal(t, "[REDACTED]", nested["refresh_token"])
	assert.Equal(t, "main", nested["site"])

	// The input map is never mutated.
	assert.Equal(t, "hunter2", in["app_password"])
	assert.Nil(t, Redact(nil))
}

func TestLogRedactsSensitiveFields(t *testing.T) {
	l := newTestLogger(t)
	l.Log(EventAuthentication, LevelWarning, map[string]any{
		"key_id": "key_1",
		"secret": "supersecret",
	})

	lines := readLines(t, l.Path())
	require.Len(t, lines, 1)
	assert.Equal(t, "[REDACTED]", lines[0]["secret"])

	raw, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "supersecret")
}

func TestRotation(t *testing.T) {
	// Tiny threshold so every append beyond the first rotates.
	l := newTestLogger(t, WithMaxBytes(1), WithBackupCount(2))

	l.Log(EventSystem, LevelInfo, map[string]any{"n": 1})
	l.Log(EventSystem, LevelInfo, map[string]any{"n": 2})
	l.Log(EventSystem, LevelInfo, map[string]any{"n": 3})
	l.Log(EventSystem, LevelInfo, map[string]any{"n": 4})

	assert.FileExists(t, l.Path())
	assert.FileExists(t, l.Path()+".1")
	assert.FileExists(t, l.Path()+".2")
	assert.NoFileExists(t, l.Path()+".3", "files beyond the backup count are dropped")

	// The newest entry lives in the current file, the oldest surviving one
	// at the end of the chain.
	current := readLines(t, l.Path())
	require.Len(t, current, 1)
	assert.EqualValues(t, 4, current[0]["n"])

	oldest := readLines(t, l.Path()+".2")
	require.Len(t, oldest, 1)
	assert.EqualValues(t, 2, oldest[0]["n"])
}

func TestQueryFilters(t *testing.T) {
	l := newTestLogger(t)
	l.LogToolCall("wordpress_list_posts", "wordpress_main", "key_1", 12.5, true, "")
	l.LogToolCall("gitea_list_repos", "gitea_forge", "key_2", 30.0, false, "upstream 502")
	l.LogAuthentication("key_1", "wordpress_main", "api_key", true, "")

	byType, err := l.Query(Filter{EventType: EventToolCall})
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	byProject, err := l.Query(Filter{ProjectID: "gitea_forge"})
	require.NoError(t, err)
	require.Len(t, byProject, 1)
	assert.Equal(t, "upstream 502", byProject[0]["error"])
	assert.Equal(t, LevelWarning, byProject[0]["level"])

	successes, err := l.Query(Filter{SuccessOnly: true})
	require.NoError(t, err)
	assert.Len(t, successes, 2)

	limited, err := l.Query(Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := l.Query(Filter{Since: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestQueryMissingFileIsEmpty(t *testing.T) {
	l := newTestLogger(t)
	entries, err := l.Query(Filter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGetRecentEntriesNewestFirst(t *testing.T) {
	l := newTestLogger(t)
	for i := 1; i <= 5; i++ {
		l.Log(EventSystem, LevelInfo, map[string]any{"n": i})
	}

	recent, err := l.GetRecentEntries(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.EqualValues(t, 5, recent[0]["n"])
	assert.EqualValues(t, 4, recent[1]["n"])
}

func TestGetStats(t *testing.T) {
	l := newTestLogger(t)
	l.LogToolCall("wordpress_list_posts", "wordpress_main", "key_1", 10, true, "")
	l.LogToolCall("wordpress_list_posts", "wordpress_main", "key_1", 10, true, "")
	l.LogToolCall("wordpress_list_posts", "wordpress_main", "key_1", 10, false, "boom")
	l.LogSecurityEvent("refresh token reuse detected", map[string]any{"client_id": "client_x"})

	stats, err := l.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalEntries)
	assert.Equal(t, 3, stats.ByType[EventToolCall])
	assert.Equal(t, 1, stats.ByType[EventError])
	assert.Equal(t, 1, stats.ByLevel[LevelCritical])
	assert.InDelta(t, 66.67, stats.SuccessRate, 0.01)
	assert.Positive(t, stats.FileSize)
}
