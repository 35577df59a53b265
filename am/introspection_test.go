package am

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntrospect(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "am.toml"), []byte("[runner]\ninterpreter = \"python3\"\n"), DefaultFilePermissions))

	oldWd, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(oldWd)

	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPSDECK_SCHEDULER_TIMEZONE", "UTC")
	t.Setenv("OPENAI_API_KEY", "sk-live-secret")

	Reset()
	defer Reset()

	settings, err := Introspect()
	require.NoError(t, err)

	byKey := make(map[string]SettingInfo)
	for _, s := range settings {
		byKey[s.Key] = s
	}

	assert.Equal(t, SourceProject, byKey["runner.interpreter"].Source)
	assert.Equal(t, "python3", byKey["runner.interpreter"].Value)
	assert.Equal(t, SourceEnvironment, byKey["scheduler.timezone"].Source)
	assert.Equal(t, "OPSDECK_SCHEDULER_TIMEZONE", byKey["scheduler.timezone"].SourcePath)
	assert.Equal(t, SourceDefault, byKey["runner.cancel_grace_seconds"].Source)
	assert.Equal(t, "********", byKey["openai.api_key"].Value)
	assert.Equal(t, "OPENAI_API_KEY", byKey["openai.api_key"].SourcePath)
}
