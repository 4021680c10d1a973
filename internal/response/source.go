package response

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Source abstracts the two substrates the emitter can read a file's
// contents from: a memory-resident buffer (a cache entry or an mmap'd
// file), which supports zero-copy scatter/gather sends, or a positioned
// file handle, which requires a seek-then-copy per range.
type Source interface {
	// Size returns the total number of bytes available.
	Size() int64
	// Slice returns a direct reference to [start, start+n) when the source
	// is memory-resident. ok is false for channel-backed sources, signaling
	// callers to use ReadAt instead.
	Slice(start, n int64) (data []byte, ok bool)
	// ReadAt copies [start, start+n) to dst.
	ReadAt(start, n int64, dst io.Writer) error
	// Close releases any resources (closes the file handle, unmaps memory).
	Close() error
}

// MemSource wraps an already-resident byte slice — the fastpath's typical
// source when serving from the file cache.
type MemSource struct {
	Data []byte
}

// NewMemSource returns a Source over an in-memory buffer.
func NewMemSource(data []byte) *MemSource { return &MemSource{Data: data} }

func (s *MemSource) Size() int64 { return int64(len(s.Data)) }

func (s *MemSource) Slice(start, n int64) ([]byte, bool) {
	return s.Data[start : start+n], true
}

func (s *MemSource) ReadAt(start, n int64, dst io.Writer) error {
	_, err := dst.Write(s.Data[start : start+n])
	return err
}

func (s *MemSource) Close() error { return nil }

// MmapSource memory-maps a file read-only, giving the emitter the same
// zero-copy, scatter/gather-eligible access as a cache hit without the
// cache's bookkeeping — this is NsMemMap's counterpart.
type MmapSource struct {
	data []byte
}

// OpenMmap maps the first size bytes of f for reading. The caller retains
// ownership of f; closing f after a successful OpenMmap is safe, the
// mapping stays valid until Close unmaps it.
func OpenMmap(f *os.File, size int64) (*MmapSource, error) {
	if size == 0 {
		return &MmapSource{data: nil}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &MmapSource{data: data}, nil
}

func (s *MmapSource) Size() int64 { return int64(len(s.data)) }

func (s *MmapSource) Slice(start, n int64) ([]byte, bool) {
	return s.data[start : start+n], true
}

func (s *MmapSource) ReadAt(start, n int64, dst io.Writer) error {
	_, err := dst.Write(s.data[start : start+n])
	return err
}

func (s *MmapSource) Close() error {
	if len(s.data) == 0 {
		return nil
	}
	return unix.Munmap(s.data)
}

// FileSource reads from an open file handle with an explicit Seek before
// each range — the "open a read channel in binary mode" fallback when
// mmap is disabled, unavailable, or the platform doesn't support it.
type FileSource struct {
	f    *os.File
	size int64
}

// NewFileSource returns a Source that reads from f, which must support
// Seek. size is the file's total length at open time.
func NewFileSource(f *os.File, size int64) *FileSource {
	return &FileSource{f: f, size: size}
}

func (s *FileSource) Size() int64 { return s.size }

func (s *FileSource) Slice(int64, int64) ([]byte, bool) { return nil, false }

func (s *FileSource) ReadAt(start, n int64, dst io.Writer) error {
	if _, err := s.f.Seek(start, io.SeekStart); err != nil {
		return err
	}
	_, err := io.CopyN(dst, s.f, n)
	return err
}

func (s *FileSource) Close() error { return s.f.Close() }
