// Package encoding prepares local files for submission to the control
// plane: contents are gzip-compressed, base64-encoded and wrapped in a
// FilePayload. Directories and file lists are zipped first.
package encoding

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/locust-cloud/locustctl/pkg/client/domain"
)

// ExtraFilesArchiveName is the filename under which a zipped set of
// extra files is presented to the control plane.
const ExtraFilesArchiveName = "extra-files.zip"

// TransferEncode compresses and encodes the contents of r into a payload
// named filename.
func TransferEncode(filename string, r io.Reader) (domain.FilePayload, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := io.Copy(zw, r); err != nil {
		return domain.FilePayload{}, errors.Wrapf(err, "failed to compress %s", filename)
	}
	if err := zw.Close(); err != nil {
		return domain.FilePayload{}, errors.Wrapf(err, "failed to compress %s", filename)
	}
	return domain.FilePayload{
		Filename: filename,
		Data:     base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// TransferEncodeFile reads path and returns its transfer-encoded payload.
// The payload filename is the path exactly as given, so the remote side
// sees the same name the user supplied.
func TransferEncodeFile(path string) (domain.FilePayload, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.FilePayload{}, errors.Wrapf(err, "file not found: %s", path)
	}
	defer f.Close()
	return TransferEncode(path, f)
}

// TransferEncodeExtraFiles zips the given files and directories
// (recursing into directories) into a single archive and returns its
// transfer-encoded payload. All paths must reside under the current
// working directory; archive entries are stored relative to it.
func TransferEncodeExtraFiles(paths []string) (domain.FilePayload, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return domain.FilePayload{}, errors.WithStack(err)
	}

	files, err := expandUnder(cwd, paths)
	if err != nil {
		return domain.FilePayload{}, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, file := range files {
		rel, err := filepath.Rel(cwd, file)
		if err != nil {
			return domain.FilePayload{}, errors.WithStack(err)
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return domain.FilePayload{}, errors.WithStack(err)
		}
		f, err := os.Open(file)
		if err != nil {
			return domain.FilePayload{}, errors.Wrapf(err, "file not found: %s", file)
		}
		_, err = io.Copy(w, f)
		f.Close()
		if err != nil {
			return domain.FilePayload{}, errors.Wrapf(err, "failed to archive %s", file)
		}
	}
	if err := zw.Close(); err != nil {
		return domain.FilePayload{}, errors.WithStack(err)
	}

	return TransferEncode(ExtraFilesArchiveName, &buf)
}

// expandUnder resolves paths to a sorted, deduplicated list of regular
// files, recursing into directories. Paths outside root are rejected.
func expandUnder(root string, paths []string) ([]string, error) {
	seen := map[string]bool{}
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if !strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return nil, errors.Errorf("can only reference files under current working directory: %s", root)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, errors.Wrapf(err, "file not found: %s", path)
		}
		if info.IsDir() {
			err := filepath.Walk(abs, func(p string, fi os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if fi.Mode().IsRegular() {
					seen[p] = true
				}
				return nil
			})
			if err != nil {
				return nil, errors.WithStack(err)
			}
		} else {
			seen[abs] = true
		}
	}

	files := make([]string, 0, len(seen))
	for file := range seen {
		files = append(files, file)
	}
	sort.Strings(files)
	return files, nil
}
