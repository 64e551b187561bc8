package tabular

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transactions.csv")
	headers := []string{"transaction_id", "tenant_id", "amount_credits"}
	rows := []map[string]string{
		{"transaction_id": "tx1", "tenant_id": "t1", "amount_credits": "-15"},
		{"transaction_id": "tx2", "tenant_id": "t1", "amount_credits": "15"},
	}

	require.NoError(t, WriteAtomic(path, headers, rows))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestReadMissingFileIsEmpty(t *testing.T) {
	rows, err := Read(filepath.Join(t.TempDir(), "nope.csv"))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestWriteAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "q.csv")
	require.NoError(t, WriteAtomic(path, []string{"a"}, []map[string]string{{"a": "1"}}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "q.csv", entries[0].Name())
}

func TestReadToleratesShortRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b,c\n1,2\n"), 0o644))

	rows, err := Read(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]string{"a": "1", "b": "2", "c": ""}, rows[0])
}
