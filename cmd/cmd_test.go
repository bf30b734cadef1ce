package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/dreamforge/internal/models"
	"github.com/nerdneilsfield/dreamforge/internal/storage"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "cli.db")
	path := filepath.Join(dir, "config.toml")
	content := fmt.Sprintf(`
dbPath = %q

[session]
secret = "0123456789abcdef0123"

[inference]
apiKey = "hf_test_key"

[storage]
provider = "datauri"
`, dbPath)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path, dbPath
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd("test", "now", "abc123")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "dreamforge: test")
	assert.Contains(t, out, "gitCommit: abc123")
}

func TestCreditsGrantAndSet(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)

	db, err := storage.InitDB(dbPath, zap.NewNop())
	require.NoError(t, err)
	user, err := storage.NewUserStore(db).CreateUser(context.Background(), models.User{
		Username: "cli", Email: "cli@example.com", PasswordHash: "x", Credits: 5,
	})
	require.NoError(t, err)
	require.NoError(t, storage.Close(db))

	id := fmt.Sprint(user.ID)
	out, err := runCLI(t, "credits", "grant", cfgPath, id, "10")
	require.NoError(t, err)
	assert.Contains(t, out, "now has 15 credits")

	out, err = runCLI(t, "credits", "set", cfgPath, id, "3")
	require.NoError(t, err)
	assert.Contains(t, out, "now has 3 credits")

	_, err = runCLI(t, "credits", "set", cfgPath, "abc", "3")
	assert.Error(t, err)
	_, err = runCLI(t, "credits", "grant", cfgPath, "999", "1")
	assert.Error(t, err)
}

func TestCatalogCmd(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	out, err := runCLI(t, "catalog", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "SDXL")
	assert.Contains(t, out, "Cyberpunk")
}

func TestServeRequiresExistingConfig(t *testing.T) {
	_, err := runCLI(t, "serve", filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
