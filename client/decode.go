package client

import (
	"bufio"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// decoders maps a Content-Encoding token to a body decoder.
var decoders = map[string]func(io.Reader) (io.ReadCloser, error){
	"gzip":    newGzip,
	"x-gzip":  newGzip,
	"deflate": newDeflate,
	"br":      func(r io.Reader) (io.ReadCloser, error) { return io.NopCloser(brotli.NewReader(r)), nil },
	"zstd":    newZstd,
}

func newGzip(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) }

func newZstd(r io.Reader) (io.ReadCloser, error) {
	d, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return d.IOReadCloser(), nil
}

// newDeflate accepts both zlib-wrapped and raw deflate streams.
func newDeflate(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	if h, err := br.Peek(2); err == nil && h[0]&0x0f == 8 && (uint16(h[0])<<8|uint16(h[1]))%31 == 0 {
		return zlib.NewReader(br)
	}
	return flate.NewReader(br), nil
}

// decodeResponse replaces resp.Body with a decoded stream when the
// Content-Encoding is one of decoders.  Decoding starts on the first Read so
// empty bodies never fail.
func decodeResponse(resp *http.Response) {
	enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	newDecoder, ok := decoders[enc]
	if !ok {
		return
	}
	resp.Body = &decodedBody{raw: resp.Body, newDecoder: newDecoder}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
}

type decodedBody struct {
	raw        io.ReadCloser
	newDecoder func(io.Reader) (io.ReadCloser, error)
	dec        io.ReadCloser
	err        error
}

func (b *decodedBody) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	if b.dec == nil {
		if b.dec, b.err = b.newDecoder(b.raw); b.err != nil {
			return 0, b.err
		}
	}
	return b.dec.Read(p)
}

func (b *decodedBody) Close() error {
	if b.dec != nil {
		_ = b.dec.Close()
	}
	return b.raw.Close()
}
