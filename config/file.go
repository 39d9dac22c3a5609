// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"io"
	"io/fs"
	"os"
	"sync"
)

// FileReaderOption configures a FileReader.
type FileReaderOption func(*FileReader)

// FileSystem opens the file from fsys instead of the operating system.
// Paths then follow the [fs.ValidPath] rules.
func FileSystem(fsys fs.FS) FileReaderOption {
	return func(r *FileReader) {
		r.open = func() (io.ReadCloser, error) {
			return fsys.Open(r.path)
		}
	}
}

// FileReader is an io.ReadCloser over a config file. The file is opened on
// the first Read so a Source can be built before the file exists.
type FileReader struct {
	path string
	open func() (io.ReadCloser, error)

	openOnce sync.Once
	openErr  error
	file     io.ReadCloser
}

// NewFileReader returns a FileReader for path.
func NewFileReader(path string, opts ...FileReaderOption) *FileReader {
	r := &FileReader{path: path}
	r.open = func() (io.ReadCloser, error) {
		return os.Open(r.path)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the path of the file. Format errors report it as their Source.
func (r *FileReader) Name() string {
	return r.path
}

// Read implements the [io.Reader] interface.
func (r *FileReader) Read(b []byte) (int, error) {
	r.openOnce.Do(func() {
		r.file, r.openErr = r.open()
	})
	if r.openErr != nil {
		return 0, r.openErr
	}
	return r.file.Read(b)
}

// Close implements the [io.Closer] interface.
func (r *FileReader) Close() error {
	if r.file == nil {
		return nil
	}

	err := r.file.Close()
	r.file = nil
	return err
}
