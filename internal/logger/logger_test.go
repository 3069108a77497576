package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewDefaultsToInfoLevel(t *testing.T) {
	l := New()
	require.NotNil(t, l)
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestWithDebugEnablesDebugLevel(t *testing.T) {
	l := New(WithDebug())
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestOpenLogFileCreatesDirectoryAndFile(t *testing.T) {
	dir := t.TempDir()
	f, err := OpenLogFile(FileSettings{LogDir: dir, RunName: "my run", RequestID: "abcdefghij"})
	require.NoError(t, err)
	defer f.Close()

	info, err := os.Stat(filepath.Join(dir, "my_run"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenLogFileRejectsEmptyRunName(t *testing.T) {
	_, err := OpenLogFile(FileSettings{LogDir: t.TempDir()})
	assert.Error(t, err)
}

func TestSafeNameReplacesUnsafeCharacters(t *testing.T) {
	assert.Equal(t, "a_b_c", safeName("a/b c"))
}
