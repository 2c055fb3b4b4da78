package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKV_FlushesOnEverySet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "state.toml")
	kv, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, kv.Set("strikes", map[string]int{"abc": 2}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "abc = 2")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileKV_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.toml")

	kv, err := Open(path)
	require.NoError(t, err)
	strikes := NewStrikeTable(kv)
	n, err := strikes.Increment("fp")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, NewSignatureCache(kv).Put("/src/a.go", `{"issues":[],"patterns":["logging"]}`))

	reopened, err := Open(path)
	require.NoError(t, err)
	n, err = NewStrikeTable(reopened).Increment("fp")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sig, ok, err := NewSignatureCache(reopened).Get("/src/a.go")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"issues":[],"patterns":["logging"]}`, sig)
}

func TestFileKV_PreservesKeysWrittenByAnotherProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.toml")

	daemonKV, err := Open(path)
	require.NoError(t, err)
	supervisorKV, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, NewSignatureCache(daemonKV).Put("/src/a.go", "sig"))
	_, err = NewStrikeTable(supervisorKV).Increment("fp")
	require.NoError(t, err)

	final, err := Open(path)
	require.NoError(t, err)
	_, ok, err := NewSignatureCache(final).Get("/src/a.go")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileKV_GetMissing(t *testing.T) {
	kv := NewMemory()
	var m map[string]int
	ok, err := kv.Get("nothing", &m)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, kv.Path())
}

func TestFileKV_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0600))

	_, err := Open(path)
	assert.Error(t, err)
}

func TestSeenSet(t *testing.T) {
	seen := NewSeenSet(NewMemory())

	has, err := seen.Has("/a.ts", "Silent Failures")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, seen.Add("/a.ts", "Silent Failures"))
	require.NoError(t, seen.Add("/a.ts", "Silent Failures"))

	has, err = seen.Has("/a.ts", "Silent Failures")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = seen.Has("/b.ts", "Silent Failures")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestStrikeTable_Reset(t *testing.T) {
	strikes := NewStrikeTable(NewMemory())
	for i := 0; i < 3; i++ {
		_, err := strikes.Increment("fp")
		require.NoError(t, err)
	}
	n, err := strikes.Get("fp")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, strikes.Reset("fp"))
	n, err = strikes.Get("fp")
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, strikes.Reset("unknown"))
}

func TestProjects(t *testing.T) {
	projects := NewProjects(NewMemory())

	added, err := projects.Add("/work/api")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = projects.Add("/work/api")
	require.NoError(t, err)
	assert.False(t, added)
	_, err = projects.Add("/work/web")
	require.NoError(t, err)

	list, err := projects.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"/work/api", "/work/web"}, list)

	removed, err := projects.Remove("/work/api")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = projects.Remove("/work/api")
	require.NoError(t, err)
	assert.False(t, removed)

	list, err = projects.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"/work/web"}, list)
}
