package cachestore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/kestrelcache/edgecache/internal/cacheobject"
)

// Sidecar file layout:
//
//	magic   [4]byte  "ECS1"
//	version uint32
//	then, repeated to EOF:
//	  keyLen     uint32
//	  key        []byte
//	  status     uint32
//	  headerLen  uint32
//	  header     []byte (repeated "name\x00value\x00" pairs)
//	  bodyLen    uint32
//	  body       []byte
var sidecarMagic = [4]byte{'E', 'C', 'S', '1'}

const sidecarVersion = 1

// WriteFile atomically writes entries to path as a binary sidecar file,
// writing to a temp file first and renaming over the destination so a
// crash mid-write never leaves a truncated sidecar behind.
func WriteFile(path string, entries []DumpEntry) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)

	if err := writeSidecar(w, entries); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeSidecar(w io.Writer, entries []DumpEntry) error {
	if _, err := w.Write(sidecarMagic[:]); err != nil {
		return err
	}
	if err := writeU32(w, sidecarVersion); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writeEntry(w, e); err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(w io.Writer, e DumpEntry) error {
	if err := writeU32(w, uint32(len(e.Key))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, e.Key); err != nil {
		return err
	}
	if err := writeU32(w, uint32(e.Entry.Status)); err != nil {
		return err
	}

	headerBytes := encodeHeader(e.Entry.Headers)
	if err := writeU32(w, uint32(len(headerBytes))); err != nil {
		return err
	}
	if _, err := w.Write(headerBytes); err != nil {
		return err
	}

	if err := writeU32(w, uint32(len(e.Entry.Body))); err != nil {
		return err
	}
	_, err := w.Write(e.Entry.Body)
	return err
}

func encodeHeader(h http.Header) []byte {
	var buf []byte
	for name, values := range h {
		for _, v := range values {
			buf = append(buf, name...)
			buf = append(buf, 0)
			buf = append(buf, v...)
			buf = append(buf, 0)
		}
	}
	return buf
}

func decodeHeader(buf []byte) http.Header {
	h := make(http.Header)
	for len(buf) > 0 {
		nameEnd := indexByte(buf, 0)
		if nameEnd < 0 {
			break
		}
		name := string(buf[:nameEnd])
		buf = buf[nameEnd+1:]
		valEnd := indexByte(buf, 0)
		if valEnd < 0 {
			break
		}
		value := string(buf[:valEnd])
		buf = buf[valEnd+1:]
		h.Add(name, value)
	}
	return h
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

func writeU32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// ReadFile reads a sidecar file written by WriteFile. A missing file
// returns (nil, nil): there is simply nothing to warm the cache with yet.
func ReadFile(path string) ([]DumpEntry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	if magic != sidecarMagic {
		return nil, fmt.Errorf("cachestore: bad sidecar magic %q", magic)
	}
	version, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if version != sidecarVersion {
		return nil, fmt.Errorf("cachestore: unsupported sidecar version %d", version)
	}

	var entries []DumpEntry
	for {
		keyLen, err := readU32(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, err
		}
		status, err := readU32(r)
		if err != nil {
			return nil, err
		}
		headerLen, err := readU32(r)
		if err != nil {
			return nil, err
		}
		headerBytes := make([]byte, headerLen)
		if _, err := io.ReadFull(r, headerBytes); err != nil {
			return nil, err
		}
		bodyLen, err := readU32(r)
		if err != nil {
			return nil, err
		}
		body := make([]byte, bodyLen)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
		entries = append(entries, DumpEntry{
			Key: string(key),
			Entry: &cacheobject.CachedEntry{
				Status:  int(status),
				Headers: decodeHeader(headerBytes),
				Body:    body,
			},
		})
	}
	return entries, nil
}
