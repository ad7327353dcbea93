// Package catalog discovers session folders under a data root and indexes them, together with the
// files they hold, into parquet tables.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrNotSession reports a path that does not contain lab/Subjects/subject/date/number.
var ErrNotSession = errors.New("not a session path")

var sessionPattern = regexp.MustCompile(`(?:^|/)([^/]+)/Subjects/([^/]+)/(\d{4}-\d{2}-\d{2})/(\d{1,3})(?:/|$)`)

// Session is one row of the sessions table.
type Session struct {
	Lab     string `parquet:"lab" json:"lab"`
	Subject string `parquet:"subject" json:"subject"`
	Date    string `parquet:"date" json:"date"`
	Number  int64  `parquet:"number" json:"number"`
	EID     string `parquet:"eid" json:"eid"`
}

// Dataset is one row of the datasets table.
type Dataset struct {
	SessionPath string `parquet:"session_path" json:"session_path"`
	RelPath     string `parquet:"rel_path" json:"rel_path"`
	FileSize    int64  `parquet:"file_size" json:"file_size"`
}

func locate(p string) ([]int, error) {
	loc := sessionPattern.FindStringSubmatchIndex(filepath.ToSlash(p))
	if loc == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotSession, p)
	}
	return loc, nil
}

// ParseRelSessionPath splits a path containing lab/Subjects/subject/date/number into its parts.
// The eid is the session part of the path without a trailing slash.
func ParseRelSessionPath(p string) (Session, error) {
	slashed := filepath.ToSlash(p)
	loc, err := locate(slashed)
	if err != nil {
		return Session{}, err
	}
	number, err := strconv.ParseInt(slashed[loc[8]:loc[9]], 10, 64)
	if err != nil {
		return Session{}, fmt.Errorf("%w: bad session number in %s", ErrNotSession, p)
	}
	return Session{
		Lab:     slashed[loc[2]:loc[3]],
		Subject: slashed[loc[4]:loc[5]],
		Date:    slashed[loc[6]:loc[7]],
		Number:  number,
		EID:     slashed[loc[2]:loc[9]],
	}, nil
}

// FullSessionPath trims anything after the session number, returning the session folder of a path
// inside it.
func FullSessionPath(p string) (string, error) {
	slashed := filepath.ToSlash(p)
	loc, err := locate(slashed)
	if err != nil {
		return "", err
	}
	return filepath.FromSlash(slashed[:loc[9]]), nil
}

// FileRelPath returns the path from the lab folder onward.
func FileRelPath(p string) (string, error) {
	slashed := filepath.ToSlash(p)
	loc, err := locate(slashed)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(slashed[loc[2]:], "/"), nil
}

// FindSessions walks root and returns every session folder in lexical order. Session folders are
// not descended into.
func FindSessions(ctx context.Context, root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.IsDir() || p == root {
			return nil
		}
		if isSessionDir(filepath.ToSlash(p)) {
			out = append(out, p)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find sessions under %s: %w", root, err)
	}
	return out, nil
}

func isSessionDir(p string) bool {
	loc := sessionPattern.FindStringSubmatchIndex(p)
	return loc != nil && loc[9] == len(p)
}

// FindSessionFiles lists the regular files of a session, relative to it, in slash form and
// lexical order.
func FindSessionFiles(sessionPath string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(sessionPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(sessionPath, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list session files under %s: %w", sessionPath, err)
	}
	sort.Strings(out)
	return out, nil
}

// SessionsTable builds one row per session found under root.
func SessionsTable(ctx context.Context, root string) ([]Session, error) {
	paths, err := FindSessions(ctx, root)
	if err != nil {
		return nil, err
	}
	rows := make([]Session, 0, len(paths))
	for _, p := range paths {
		rel, err := FileRelPath(p)
		if err != nil {
			return nil, err
		}
		s, err := ParseRelSessionPath(rel)
		if err != nil {
			return nil, err
		}
		rows = append(rows, s)
	}
	return rows, nil
}

// DatasetsTable builds one row per file of every session under root.
func DatasetsTable(ctx context.Context, root string) ([]Dataset, error) {
	paths, err := FindSessions(ctx, root)
	if err != nil {
		return nil, err
	}
	var rows []Dataset
	for _, p := range paths {
		eid, err := FileRelPath(p)
		if err != nil {
			return nil, err
		}
		files, err := FindSessionFiles(p)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			info, err := os.Stat(filepath.Join(p, filepath.FromSlash(f)))
			if err != nil {
				return nil, err
			}
			rows = append(rows, Dataset{SessionPath: path.Clean(eid), RelPath: f, FileSize: info.Size()})
		}
	}
	return rows, nil
}
