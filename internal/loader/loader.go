// Package loader reads the document corpus from a directory.
package loader

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"ragchat/internal/domain"
)

// DefaultExtensions are the file types read when Options.Extensions is empty.
var DefaultExtensions = []string{".txt", ".md", ".pdf"}

// Options configures a corpus load.
type Options struct {
	Dir        string
	Recursive  bool
	Extensions []string
}

// Load reads every matching file under opts.Dir. Hidden files and
// directories are skipped. Documents are returned sorted by path so that the
// corpus fingerprint is stable across runs.
func Load(ctx context.Context, opts Options) ([]domain.Document, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, &domain.LoadError{Path: opts.Dir, Err: errors.New("no corpus directory configured")}
	}
	info, err := os.Stat(opts.Dir)
	if err != nil {
		return nil, &domain.LoadError{Path: opts.Dir, Err: err}
	}
	if !info.IsDir() {
		return nil, &domain.LoadError{Path: opts.Dir, Err: fmt.Errorf("not a directory")}
	}
	exts := normalizeExtensions(opts.Extensions)

	var documents []domain.Document
	walkErr := filepath.WalkDir(opts.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path != opts.Dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != opts.Dir && !opts.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := exts[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		content, err := readDocument(path)
		if err != nil {
			return err
		}
		documents = append(documents, domain.Document{ID: hashString(path), Path: path, Content: content})
		return nil
	})
	if walkErr != nil {
		return nil, &domain.LoadError{Path: opts.Dir, Err: walkErr}
	}
	sort.Slice(documents, func(i, j int) bool { return documents[i].Path < documents[j].Path })
	return documents, nil
}

// readDocument returns the text of one file. PDFs are reduced to their plain
// text; everything else is read as UTF-8.
func readDocument(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return readPDF(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func readPDF(path string) (text string, err error) {
	// the pdf package panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf %s: %v", path, r)
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf %s: %w", path, err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("read pdf %s: %w", path, err)
	}
	return buf.String(), nil
}

func normalizeExtensions(in []string) map[string]struct{} {
	if len(in) == 0 {
		in = DefaultExtensions
	}
	out := make(map[string]struct{}, len(in))
	for _, e := range in {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out[e] = struct{}{}
	}
	return out
}

func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8])
}
