package markov

import (
	"database/sql"
	"go/build"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	_ "modernc.org/sqlite"
)

// setupTestDB creates a new file-backed SQLite database and a Store for testing.
// It uses t.Cleanup to ensure resources are released.
func setupTestDB(t *testing.T) (*sql.DB, *Store) {
	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", dbFile+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(s.Close)

	return db, s
}

// buildTestChain is a convenience helper that tokenizes messages with the
// default tokenizer and builds a chain of the given order.
func buildTestChain(t testing.TB, order int, messages []string, opts ...BuildOption) *Chain {
	t.Helper()
	c, err := Build(TokenizeAll(NewDefaultTokenizer(), messages), order, opts...)
	if err != nil {
		t.Fatalf("setup: Build() failed: %v", err)
	}
	return c
}

var fishCorpus = []string{
	"one fish two fish.",
	"red fish blue fish.",
	"Old fish, new fish!",
	"This one has a little star.",
	"this one has a little car.",
	"Say! What a lot of fish there are.",
}

var (
	benchmarkCorpus []string
	corpusOnce      sync.Once
)

// createBenchmarkCorpus reads Go source files to create a corpus for
// benchmarking, one message per line.
func createBenchmarkCorpus() []string {
	corpusOnce.Do(func() {
		var sb strings.Builder
		goRoot := build.Default.GOROOT
		filesToRead := []string{
			filepath.Join(goRoot, "src/net/http/server.go"),
			filepath.Join(goRoot, "src/go/parser/parser.go"),
			filepath.Join(goRoot, "src/encoding/json/encode.go"),
		}

		for _, file := range filesToRead {
			content, err := os.ReadFile(file)
			if err != nil {
				benchmarkCorpus = []string{"this is a fallback corpus for benchmarking. it is not very long but will prevent a crash."}
				return
			}
			sb.Write(content)
			sb.WriteString("\n")
		}
		for _, line := range strings.Split(sb.String(), "\n") {
			if strings.TrimSpace(line) != "" {
				benchmarkCorpus = append(benchmarkCorpus, line)
			}
		}
	})
	return benchmarkCorpus
}
