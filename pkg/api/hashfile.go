package api

import (
	"crypto/sha1"
	"encoding/hex"
	"hash"
	"os"
	"path/filepath"
)

// HashFile wraps an open file and hashes bytes as they are read. When a
// HashFile is streamed through an upload, Sum afterwards yields the
// SHA-1 of exactly the bytes that went over the wire, without a second
// pass over the file.
type HashFile struct {
	f    *os.File
	path string
	h    hash.Hash
}

// OpenHashFile opens path for reading with SHA-1 hashing on the read
// path. The usual *PathError is returned if the file cannot be opened;
// callers that treat a missing file as "nothing to upload" check for
// that before yielding.
func OpenHashFile(path string) (*HashFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &HashFile{
		f:    f,
		path: path,
		h:    sha1.New(),
	}, nil
}

func (hf *HashFile) Read(p []byte) (int, error) {
	n, err := hf.f.Read(p)
	if n > 0 {
		hf.h.Write(p[:n])
	}
	return n, err
}

func (hf *HashFile) Close() error {
	return hf.f.Close()
}

// Path returns the path the file was opened from.
func (hf *HashFile) Path() string {
	return hf.path
}

// Base returns the file's base name, used as the multipart filename.
func (hf *HashFile) Base() string {
	return filepath.Base(hf.path)
}

// Sum returns the hex SHA-1 digest of the bytes read so far.
func (hf *HashFile) Sum() string {
	return hex.EncodeToString(hf.h.Sum(nil))
}
