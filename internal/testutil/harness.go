package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// WriteConfig writes an HCL configuration file pointing at relay into a
// temporary directory and returns its path. extra is appended verbatim.
func WriteConfig(t *testing.T, relay *Relay, extra string) string {
	t.Helper()
	host := strings.TrimPrefix(relay.CacheURL(), "http://")
	content := "server_url = \"" + host + "\"\nlog_level = \"debug\"\n" + extra
	path := filepath.Join(t.TempDir(), "nixr.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// DumpLogs prints captured logs when NIXR_TEST_LOGS=true.
func DumpLogs(t *testing.T, logs *SafeBuffer) {
	t.Helper()
	if os.Getenv("NIXR_TEST_LOGS") == "true" {
		t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logs.String())
	}
}
