package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const relSessionPath = "mylab/Subjects/mysub/2021-02-28/001/"

var wantSession = Session{
	Lab:     "mylab",
	Subject: "mysub",
	Date:    "2021-02-28",
	Number:  1,
	EID:     "mylab/Subjects/mysub/2021-02-28/001",
}

// sessionRoot lays out one session holding alf/spikes.times.npy under a temp root.
func sessionRoot(t *testing.T) (root, sessionPath string) {
	t.Helper()
	root = t.TempDir()
	sessionPath = filepath.Join(root, filepath.FromSlash(relSessionPath))
	require.NoError(t, os.MkdirAll(filepath.Join(sessionPath, "alf"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sessionPath, "alf", "spikes.times.npy"), []byte("mock"), 0o644))
	// Not a session: number has too many digits.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "mylab", "Subjects", "mysub", "2021-02-28", "0001"), 0o755))
	return root, filepath.Clean(sessionPath)
}

func TestParseRelSessionPath(t *testing.T) {
	got, err := ParseRelSessionPath(relSessionPath)
	require.NoError(t, err)
	if diff := cmp.Diff(wantSession, got); diff != "" {
		t.Fatalf("session mismatch (-want +got):\n%s", diff)
	}

	_, err = ParseRelSessionPath("mylab/mysub/2021-02-28/001")
	assert.ErrorIs(t, err, ErrNotSession)
}

func TestFullSessionPath(t *testing.T) {
	_, sessionPath := sessionRoot(t)
	full, err := FullSessionPath(filepath.Join(sessionPath, "alf", "spikes.times.npy"))
	require.NoError(t, err)
	assert.Equal(t, sessionPath, full)
	assert.True(t, strings.HasSuffix(filepath.ToSlash(full), wantSession.EID))
}

func TestFindSessions(t *testing.T) {
	root, sessionPath := sessionRoot(t)
	paths, err := FindSessions(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, []string{sessionPath}, paths)

	rel, err := FileRelPath(paths[0])
	require.NoError(t, err)
	got, err := ParseRelSessionPath(rel)
	require.NoError(t, err)
	assert.Equal(t, wantSession, got)
}

func TestFindSessionsHonoursContext(t *testing.T) {
	root, _ := sessionRoot(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := FindSessions(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFindSessionFiles(t *testing.T) {
	_, sessionPath := sessionRoot(t)
	files, err := FindSessionFiles(sessionPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"alf/spikes.times.npy"}, files)
}

func TestTables(t *testing.T) {
	root, _ := sessionRoot(t)
	sessions, err := SessionsTable(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []Session{wantSession}, sessions)

	datasets, err := DatasetsTable(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	assert.Equal(t, wantSession.EID, datasets[0].SessionPath)
	assert.Equal(t, "alf/spikes.times.npy", datasets[0].RelPath)
	assert.Equal(t, int64(4), datasets[0].FileSize)
}

type pair struct {
	ColA string `parquet:"colA"`
	ColB string `parquet:"colB"`
}

func TestParquetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mypqt.pqt")
	rows := []pair{{ColA: "a1", ColB: "b1"}, {ColA: "a2", ColB: "b2"}}
	md := NewMetadata("dbname", time.Date(2021, 3, 1, 14, 7, 33, 0, time.UTC))
	assert.Equal(t, "2021-03-01T14:07", md.DateCreated)

	require.NoError(t, WriteTable(path, rows, md))
	got, gotMD, err := ReadTable[pair](path)
	require.NoError(t, err)
	if diff := cmp.Diff(rows, got); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, md, gotMD)
}

func TestReadTableRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.pqt")
	md := NewMetadata("dbname", time.Now())
	md.SchemaVersion = "2.0.0"
	require.NoError(t, WriteTable(path, []pair{{ColA: "a", ColB: "b"}}, md))
	_, _, err := ReadTable[pair](path)
	assert.ErrorIs(t, err, ErrUnsupportedSchema)
}

func TestMakeParquetDB(t *testing.T) {
	root, _ := sessionRoot(t)
	sessionsPath, datasetsPath, err := MakeParquetDB(context.Background(), root, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, SessionsFile), sessionsPath)

	sessions, md, err := ReadTable[Session](sessionsPath)
	require.NoError(t, err)
	assert.Equal(t, root, md.Origin)
	assert.Equal(t, SchemaVersion, md.SchemaVersion)
	assert.Equal(t, []Session{wantSession}, sessions)

	datasets, md2, err := ReadTable[Dataset](datasetsPath)
	require.NoError(t, err)
	assert.Equal(t, md, md2)
	require.Len(t, datasets, 1)
	assert.Equal(t, wantSession.EID, datasets[0].SessionPath)
	assert.Equal(t, "alf/spikes.times.npy", datasets[0].RelPath)
}
