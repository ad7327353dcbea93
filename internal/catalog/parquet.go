package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ncruces/go-strftime"
	"github.com/parquet-go/parquet-go"

	"spikeglm/internal/logging"
	"spikeglm/internal/version"
)

const (
	SessionsFile  = "sessions.pqt"
	DatasetsFile  = "datasets.pqt"
	SchemaVersion = "1.0.0"

	metaDateCreated   = "date_created"
	metaOrigin        = "origin"
	metaSchemaVersion = "schema_version"
)

// ErrUnsupportedSchema reports a table written by a newer catalogue schema.
var ErrUnsupportedSchema = errors.New("unsupported catalogue schema")

// Metadata is the key/value metadata stored alongside a table.
type Metadata struct {
	DateCreated   string `json:"date_created"`
	Origin        string `json:"origin"`
	SchemaVersion string `json:"schema_version"`
}

// NewMetadata stamps a table with its origin and creation time to the minute.
func NewMetadata(origin string, now time.Time) Metadata {
	return Metadata{
		DateCreated:   strftime.Format("%Y-%m-%dT%H:%M", now),
		Origin:        origin,
		SchemaVersion: SchemaVersion,
	}
}

// WriteTable writes rows to a parquet file with md as key/value metadata.
func WriteTable[T any](path string, rows []T, md Metadata) error {
	if md.SchemaVersion == "" {
		md.SchemaVersion = SchemaVersion
	}
	err := parquet.WriteFile(path, rows,
		parquet.KeyValueMetadata(metaDateCreated, md.DateCreated),
		parquet.KeyValueMetadata(metaOrigin, md.Origin),
		parquet.KeyValueMetadata(metaSchemaVersion, md.SchemaVersion),
	)
	if err != nil {
		return fmt.Errorf("write parquet %s: %w", path, err)
	}
	return nil
}

// ReadTable reads rows and metadata back from a parquet file written by WriteTable.
func ReadTable[T any](path string) ([]T, Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Metadata{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, Metadata{}, err
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("open parquet %s: %w", path, err)
	}
	var md Metadata
	md.DateCreated, _ = pf.Lookup(metaDateCreated)
	md.Origin, _ = pf.Lookup(metaOrigin)
	md.SchemaVersion, _ = pf.Lookup(metaSchemaVersion)
	if md.SchemaVersion != "" {
		newer, err := version.Gt(md.SchemaVersion, SchemaVersion)
		if err != nil {
			return nil, Metadata{}, fmt.Errorf("%w: %v", ErrUnsupportedSchema, err)
		}
		if newer {
			return nil, Metadata{}, fmt.Errorf("%w: %s is newer than %s", ErrUnsupportedSchema, md.SchemaVersion, SchemaVersion)
		}
	}

	rows, err := parquet.Read[T](f, info.Size())
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, md, nil
}

// MakeParquetDB indexes every session under root into sessions.pqt and datasets.pqt in outDir
// (root when empty) and returns both paths.
func MakeParquetDB(ctx context.Context, root, outDir string) (string, string, error) {
	if outDir == "" {
		outDir = root
	}
	sessions, err := SessionsTable(ctx, root)
	if err != nil {
		return "", "", err
	}
	datasets, err := DatasetsTable(ctx, root)
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", "", err
	}

	md := NewMetadata(root, time.Now())
	sessionsPath := filepath.Join(outDir, SessionsFile)
	datasetsPath := filepath.Join(outDir, DatasetsFile)
	if err := WriteTable(sessionsPath, sessions, md); err != nil {
		return "", "", err
	}
	if err := WriteTable(datasetsPath, datasets, md); err != nil {
		return "", "", err
	}
	logging.Log.Infow("wrote catalogue", "root", root, "sessions", len(sessions), "datasets", len(datasets))
	return sessionsPath, datasetsPath, nil
}
