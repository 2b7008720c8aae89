// Package codec implements the compress/decompress primitives for the
// content-encodings the cache stores and serves: brotli, gzip, deflate and
// identity.
package codec

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"sync"

	"github.com/andybalholm/brotli"
)

// Name identifies a content-encoding understood by the codec pool.
type Name string

const (
	Brotli   Name = "br"
	Gzip     Name = "gzip"
	Deflate  Name = "deflate"
	Identity Name = "identity"
)

// CodecError is returned by Compress/Decompress when the underlying codec
// fails. It always carries the encoding name so callers can log or branch
// on it without string-matching the message.
type CodecError struct {
	Encoding Name
	Op       string
	Err      error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("codec: %s %s: %v", e.Op, e.Encoding, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// Pool compresses and decompresses bytes for the supported encodings. It is
// safe for concurrent use. brotli availability is probed once, at
// construction, because the pure-Go encoder used here never actually fails
// to be available -- the probe exists so deployments that disable brotli
// via config still fall back correctly, and so a future native binding
// with real availability constraints slots in without changing callers.
type Pool struct {
	mu            sync.RWMutex
	brotliEnabled bool
}

// New creates a codec pool and probes brotli availability.
func New(preferBrotli bool) *Pool {
	p := &Pool{}
	if preferBrotli {
		p.brotliEnabled = probeBrotli()
	}
	return p
}

// probeBrotli exercises a full compress/decompress round trip so a broken
// brotli toolchain is caught once, at startup, rather than mid-request.
func probeBrotli() bool {
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := w.Write([]byte("ok")); err != nil {
		return false
	}
	if err := w.Close(); err != nil {
		return false
	}
	r := brotli.NewReader(&buf)
	if _, err := io.ReadAll(r); err != nil {
		return false
	}
	return true
}

// BrotliAvailable reports whether brotli may be used as a store or transcode
// target. Once disabled it stays disabled for the process lifetime.
func (p *Pool) BrotliAvailable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.brotliEnabled
}

// PreferredEncodings returns the store-encoding preference order, with
// brotli present only if available.
func (p *Pool) PreferredEncodings() []Name {
	if p.BrotliAvailable() {
		return []Name{Brotli, Gzip, Deflate, Identity}
	}
	return []Name{Gzip, Deflate, Identity}
}

// Compress encodes data using the named encoding.
func (p *Pool) Compress(data []byte, enc Name) ([]byte, error) {
	switch enc {
	case Identity:
		return data, nil
	case Gzip:
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		if err != nil {
			return nil, &CodecError{Encoding: enc, Op: "compress", Err: err}
		}
		if _, err := w.Write(data); err != nil {
			return nil, &CodecError{Encoding: enc, Op: "compress", Err: err}
		}
		if err := w.Close(); err != nil {
			return nil, &CodecError{Encoding: enc, Op: "compress", Err: err}
		}
		return buf.Bytes(), nil
	case Deflate:
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.BestCompression)
		if err != nil {
			return nil, &CodecError{Encoding: enc, Op: "compress", Err: err}
		}
		if _, err := w.Write(data); err != nil {
			return nil, &CodecError{Encoding: enc, Op: "compress", Err: err}
		}
		if err := w.Close(); err != nil {
			return nil, &CodecError{Encoding: enc, Op: "compress", Err: err}
		}
		return buf.Bytes(), nil
	case Brotli:
		if !p.BrotliAvailable() {
			return nil, &CodecError{Encoding: enc, Op: "compress", Err: fmt.Errorf("brotli unavailable")}
		}
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, brotli.BestCompression)
		if _, err := w.Write(data); err != nil {
			return nil, &CodecError{Encoding: enc, Op: "compress", Err: err}
		}
		if err := w.Close(); err != nil {
			return nil, &CodecError{Encoding: enc, Op: "compress", Err: err}
		}
		return buf.Bytes(), nil
	default:
		return nil, &CodecError{Encoding: enc, Op: "compress", Err: fmt.Errorf("unknown encoding")}
	}
}

// Decompress decodes data that was encoded using the named encoding.
func (p *Pool) Decompress(data []byte, enc Name) ([]byte, error) {
	switch enc {
	case Identity, "":
		return data, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, &CodecError{Encoding: enc, Op: "decompress", Err: err}
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, &CodecError{Encoding: enc, Op: "decompress", Err: err}
		}
		return out, nil
	case Deflate:
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, &CodecError{Encoding: enc, Op: "decompress", Err: err}
		}
		return out, nil
	case Brotli:
		r := brotli.NewReader(bytes.NewReader(data))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, &CodecError{Encoding: enc, Op: "decompress", Err: err}
		}
		return out, nil
	default:
		return nil, &CodecError{Encoding: enc, Op: "decompress", Err: fmt.Errorf("unknown encoding")}
	}
}

// Valid reports whether name is one of the four encodings this pool knows.
func Valid(name string) bool {
	switch Name(name) {
	case Brotli, Gzip, Deflate, Identity:
		return true
	}
	return false
}
