// Package response assembles and writes the HTTP body for a resolved byte
// range set: the whole resource, a single byte range, or a
// multipart/byteranges reply, against either a memory-resident source (a
// file cache entry or an mmap'd file) or a plain file handle.
package response

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/Elettrotecnica/naviserver/internal/byterange"
)

// Emit writes the status line, headers, and body for rs against src.
//
// status is used verbatim when rs carries no ranges (the common whole-file
// case, where callers may still want to return something other than 200);
// rs.Status (always 206 once any range is present) is used otherwise. rs
// with Status 416 must never reach Emit — the caller answers those directly
// with an empty body and a Content-Range: bytes */size header.
func Emit(w http.ResponseWriter, status int, rs byterange.Set, src Source, contentType string) error {
	switch len(rs.Ranges) {
	case 0:
		return emitWhole(w, status, src, contentType)
	case 1:
		return emitSingle(w, rs.Ranges[0], rs.FileSize, src, contentType)
	default:
		return emitMultipart(w, rs.Ranges, rs.FileSize, src, contentType)
	}
}

func emitWhole(w http.ResponseWriter, status int, src Source, contentType string) error {
	size := src.Size()
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(status)

	if data, ok := src.Slice(0, size); ok {
		return writeGather(w, [][]byte{data})
	}
	return src.ReadAt(0, size, w)
}

func emitSingle(w http.ResponseWriter, r byterange.Offset, fileSize int64, src Source, contentType string) error {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Range", contentRange(r, fileSize))
	w.Header().Set("Content-Length", strconv.FormatInt(r.Size(), 10))
	w.WriteHeader(http.StatusPartialContent)

	if data, ok := src.Slice(r.Start, r.Size()); ok {
		return writeGather(w, [][]byte{data})
	}
	return src.ReadAt(r.Start, r.Size(), w)
}

func emitMultipart(w http.ResponseWriter, ranges []byterange.Offset, fileSize int64, src Source, contentType string) error {
	boundary := uuid.New().String()

	type part struct {
		header  []byte
		rng     byterange.Offset
		trailer []byte
	}
	parts := make([]part, len(ranges))
	var total int64
	for i, r := range ranges {
		var hdr bytes.Buffer
		fmt.Fprintf(&hdr, "--%s\r\n", boundary)
		fmt.Fprintf(&hdr, "Content-Type: %s\r\n", contentType)
		fmt.Fprintf(&hdr, "Content-Range: %s\r\n\r\n", contentRange(r, fileSize))
		parts[i] = part{header: hdr.Bytes(), rng: r, trailer: []byte("\r\n")}
		total += int64(len(parts[i].header)) + r.Size() + int64(len(parts[i].trailer))
	}
	closing := []byte(fmt.Sprintf("--%s--\r\n", boundary))
	total += int64(len(closing))

	w.Header().Set("Content-Type", "multipart/byteranges; boundary="+boundary)
	w.Header().Set("Content-Length", strconv.FormatInt(total, 10))
	w.WriteHeader(http.StatusPartialContent)

	memoryResident := true
	bufs := make([][]byte, 0, len(parts)*3+1)
	for _, p := range parts {
		data, ok := src.Slice(p.rng.Start, p.rng.Size())
		if !ok {
			memoryResident = false
			break
		}
		bufs = append(bufs, p.header, data, p.trailer)
	}

	if memoryResident {
		bufs = append(bufs, closing)
		return writeGather(w, bufs)
	}

	for _, p := range parts {
		if _, err := w.Write(p.header); err != nil {
			return err
		}
		if err := src.ReadAt(p.rng.Start, p.rng.Size(), w); err != nil {
			return err
		}
		if _, err := w.Write(p.trailer); err != nil {
			return err
		}
	}
	_, err := w.Write(closing)
	return err
}

func contentRange(r byterange.Offset, fileSize int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, fileSize)
}
