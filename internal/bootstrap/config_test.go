package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDotEnv(t *testing.T) {
	t.Run("missing default file is ignored", func(t *testing.T) {
		t.Chdir(t.TempDir())
		require.NoError(t, loadDotEnv(""))
	})

	t.Run("missing explicit file is an error", func(t *testing.T) {
		require.Error(t, loadDotEnv(filepath.Join(t.TempDir(), "nope.env")))
	})

	t.Run("explicit file populates unset variables", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "relay.env")
		require.NoError(t, os.WriteFile(path, []byte("LISTINGRELAY_TEST_DOTENV=loaded\n"), 0o600))
		t.Cleanup(func() { _ = os.Unsetenv("LISTINGRELAY_TEST_DOTENV") })

		require.NoError(t, loadDotEnv(path))
		assert.Equal(t, "loaded", os.Getenv("LISTINGRELAY_TEST_DOTENV"))
	})
}
