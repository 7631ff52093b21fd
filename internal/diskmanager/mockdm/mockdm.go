// Package mockdm provides a mock implementation of the disk manager for testing
package mockdm

import (
	"io"
	"os"
	"time"

	"github.com/MikhailWahib/stablestore/internal/diskmanager"
)

// MockFile implements diskmanager.FileHandle for testing purposes
type MockFile struct {
	data   []byte
	name   string
	syncs  int
	closed bool
}

// WriteAt writes len(b) bytes to the file starting at byte offset off
func (m *MockFile) WriteAt(b []byte, off int64) (int, error) {
	// Extend the slice if needed
	requiredLen := int(off) + len(b)
	if requiredLen > len(m.data) {
		newData := make([]byte, requiredLen)
		copy(newData, m.data)
		m.data = newData
	}
	return copy(m.data[off:], b), nil
}

// ReadAt reads len(b) bytes from the file starting at byte offset off
func (m *MockFile) ReadAt(b []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(b, m.data[off:])
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

// Truncate resizes the mock file, zero-filling on growth
func (m *MockFile) Truncate(size int64) error {
	if int(size) <= len(m.data) {
		m.data = m.data[:size]
		return nil
	}
	newData := make([]byte, size)
	copy(newData, m.data)
	m.data = newData
	return nil
}

// Close closes the mock file
func (m *MockFile) Close() error {
	m.closed = true
	return nil
}

// Sync simulates syncing file contents to disk
func (m *MockFile) Sync() error {
	m.syncs++
	return nil
}

// Syncs reports how many times Sync was called
func (m *MockFile) Syncs() int {
	return m.syncs
}

// Closed reports whether Close was called
func (m *MockFile) Closed() bool {
	return m.closed
}

// Stat returns file information
func (m *MockFile) Stat() (os.FileInfo, error) {
	return &testFileInfo{size: int64(len(m.data)), name: m.name}, nil
}

type testFileInfo struct {
	size int64
	name string
}

func (m *testFileInfo) Name() string       { return m.name }
func (m *testFileInfo) Size() int64        { return m.size }
func (m *testFileInfo) Mode() os.FileMode  { return 0644 }
func (m *testFileInfo) ModTime() time.Time { return time.Now() }
func (m *testFileInfo) IsDir() bool        { return false }
func (m *testFileInfo) Sys() any           { return nil }

// MockDiskManager implements diskmanager.DiskManager interface for testing.
// Files survive Close so a test can reopen the same region after a simulated restart.
type MockDiskManager struct {
	files map[string]*MockFile
}

var _ diskmanager.DiskManager = (*MockDiskManager)(nil)

// NewMockDiskManager creates a new MockDiskManager instance
func NewMockDiskManager() *MockDiskManager {
	return &MockDiskManager{
		files: make(map[string]*MockFile),
	}
}

// Open creates or opens a mock file
func (dm *MockDiskManager) Open(path string, _ int, _ os.FileMode) (diskmanager.FileHandle, error) {
	if file, exists := dm.files[path]; exists {
		file.closed = false
		return file, nil
	}

	file := &MockFile{
		data: []byte{},
		name: path,
	}
	dm.files[path] = file
	return file, nil
}

// File returns the mock file stored at path, or nil
func (dm *MockDiskManager) File(path string) *MockFile {
	return dm.files[path]
}

// Delete removes a mock file
func (dm *MockDiskManager) Delete(path string) error {
	delete(dm.files, path)
	return nil
}

// Close closes a mock file
func (dm *MockDiskManager) Close(path string) error {
	if file, exists := dm.files[path]; exists {
		return file.Close()
	}
	return nil
}

// CloseAll closes every mock file
func (dm *MockDiskManager) CloseAll() error {
	for _, file := range dm.files {
		_ = file.Close()
	}
	return nil
}
