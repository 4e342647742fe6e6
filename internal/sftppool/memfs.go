package sftppool

import (
	"bytes"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"
)

// MemClient is an in-memory FileClient. It backs unit tests of discovery and
// the tail readers without a live SFTP endpoint.
type MemClient struct {
	files map[string][]byte
}

// NewMemClient creates an empty in-memory remote filesystem.
func NewMemClient() *MemClient {
	return &MemClient{files: make(map[string][]byte)}
}

// WriteFile sets the content of a remote path, creating parents implicitly.
func (m *MemClient) WriteFile(p string, data []byte) {
	m.files[path.Clean(p)] = data
}

// Append appends to a remote path, creating it if absent.
func (m *MemClient) Append(p string, data []byte) {
	p = path.Clean(p)
	m.files[p] = append(m.files[p], data...)
}

func (m *MemClient) ReadDir(dir string) ([]os.FileInfo, error) {
	dir = path.Clean(dir)
	prefix := dir + "/"
	if dir == "." || dir == "/" {
		prefix = ""
	}

	seen := make(map[string]os.FileInfo)
	for p, data := range m.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if rest == "" {
			continue
		}
		if idx := strings.Index(rest, "/"); idx >= 0 {
			name := rest[:idx]
			seen[name] = memInfo{name: name, dir: true}
		} else {
			seen[rest] = memInfo{name: rest, size: int64(len(data))}
		}
	}
	if len(seen) == 0 {
		return nil, os.ErrNotExist
	}

	infos := make([]os.FileInfo, 0, len(seen))
	for _, fi := range seen {
		infos = append(infos, fi)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	return infos, nil
}

func (m *MemClient) Stat(p string) (os.FileInfo, error) {
	data, ok := m.files[path.Clean(p)]
	if !ok {
		return nil, os.ErrNotExist
	}
	return memInfo{name: path.Base(p), size: int64(len(data))}, nil
}

func (m *MemClient) Open(p string) (io.ReadSeekCloser, error) {
	data, ok := m.files[path.Clean(p)]
	if !ok {
		return nil, os.ErrNotExist
	}
	return nopCloser{bytes.NewReader(data)}, nil
}

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }

type memInfo struct {
	name string
	size int64
	dir  bool
}

func (i memInfo) Name() string       { return i.name }
func (i memInfo) Size() int64        { return i.size }
func (i memInfo) Mode() os.FileMode  { return 0644 }
func (i memInfo) ModTime() time.Time { return time.Time{} }
func (i memInfo) IsDir() bool        { return i.dir }
func (i memInfo) Sys() interface{}   { return nil }
