package h2_test

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/firasghr/GoImpersonate/fingerprint"
	"github.com/firasghr/GoImpersonate/h2"
)

// peer is the server side of a test connection.
type peer struct {
	t    *testing.T
	conn net.Conn
	fr   *http2.Framer
	buf  bytes.Buffer
	enc  *hpack.Encoder
}

func (p *peer) next() http2.Frame {
	f, err := p.fr.ReadFrame()
	if err != nil {
		p.t.Errorf("server read: %v", err)
		return nil
	}
	return f
}

// until reads frames until one matches keep.
func (p *peer) until(keep func(http2.Frame) bool) http2.Frame {
	for {
		f := p.next()
		if f == nil || keep(f) {
			return f
		}
	}
}

func (p *peer) headers(id uint32, end bool, fields ...hpack.HeaderField) {
	p.buf.Reset()
	for _, f := range fields {
		_ = p.enc.WriteField(f)
	}
	assert.NoError(p.t, p.fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID: id, BlockFragment: p.buf.Bytes(), EndStream: end, EndHeaders: true,
	}))
}

// serve accepts one connection, checks the client preface and hands the
// connection to handle.
func serve(t *testing.T, handle func(p *peer)) (string, <-chan struct{}) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close()
		preface := make([]byte, len(http2.ClientPreface))
		if _, err := io.ReadFull(conn, preface); err != nil || string(preface) != http2.ClientPreface {
			t.Errorf("bad preface %q: %v", preface, err)
			return
		}
		p := &peer{t: t, conn: conn, fr: http2.NewFramer(conn, conn)}
		p.fr.ReadMetaHeaders = hpack.NewDecoder(65536, nil)
		p.enc = hpack.NewEncoder(&p.buf)
		handle(p)
	}()
	return ln.Addr().String(), done
}

func dial(t *testing.T, addr string, profile *fingerprint.HTTP2Profile) *h2.Conn {
	t.Helper()
	raw, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	cc, err := h2.NewConn(raw, h2.NewInitializer(profile))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return cc
}

func TestConn_GetFollowsProfile(t *testing.T) {
	addr, done := serve(t, func(p *peer) {
		settings, ok := p.next().(*http2.SettingsFrame)
		if !assert.True(t, ok) {
			return
		}
		v, _ := settings.Value(http2.SettingInitialWindowSize)
		assert.Equal(t, uint32(131072), v)

		wu := p.next().(*http2.WindowUpdateFrame)
		assert.Equal(t, uint32(12517377), wu.Increment)

		hf := p.until(func(f http2.Frame) bool {
			_, ok := f.(*http2.MetaHeadersFrame)
			return ok
		}).(*http2.MetaHeadersFrame)
		assert.Equal(t, uint32(1), hf.StreamID)
		assert.True(t, hf.StreamEnded())
		var got []string
		for _, f := range hf.Fields {
			got = append(got, f.Name)
		}
		assert.Equal(t, []string{":method", ":path", ":authority", ":scheme", "accept", "user-agent"}, got)

		swu := p.next().(*http2.WindowUpdateFrame)
		assert.Equal(t, uint32(1), swu.StreamID)
		assert.Equal(t, uint32(12517377), swu.Increment)

		assert.NoError(t, p.fr.WriteSettings(http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: 100}))
		p.headers(1, false,
			hpack.HeaderField{Name: ":status", Value: "200"},
			hpack.HeaderField{Name: "content-type", Value: "text/plain"},
		)
		assert.NoError(t, p.fr.WriteData(1, true, []byte("hello")))

		p.until(func(f http2.Frame) bool {
			s, ok := f.(*http2.SettingsFrame)
			return ok && s.IsAck()
		})
	})

	const firefox = "1:65536,4:131072,5:16384|12517377|0|m,p,a,s"
	cc := dial(t, addr, mustProfile(t, firefox))

	req, err := http.NewRequest(http.MethodGet, "https://example.com/index.html", nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("Accept", "*/*")
	req.Header[fingerprint.HeaderOrderKey] = []string{"accept", "user-agent"}

	resp, err := cc.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "HTTP/2.0", resp.Proto)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	assert.True(t, cc.CanTakeNewRequest())

	<-done
}

func TestConn_PostBodyAndTrailers(t *testing.T) {
	payload := strings.Repeat("x", 40000)
	addr, done := serve(t, func(p *peer) {
		var received bytes.Buffer
		p.until(func(f http2.Frame) bool {
			d, ok := f.(*http2.DataFrame)
			if ok {
				received.Write(d.Data())
			}
			return ok && d.StreamEnded()
		})
		assert.Equal(t, len(payload), received.Len())

		p.headers(1, false, hpack.HeaderField{Name: ":status", Value: "201"})
		assert.NoError(t, p.fr.WriteData(1, false, []byte("created")))
		p.headers(1, true, hpack.HeaderField{Name: "x-checksum", Value: "abc"})
	})

	cc := dial(t, addr, nil)
	req, err := http.NewRequest(http.MethodPost, "https://example.com/upload", strings.NewReader(payload))
	require.NoError(t, err)

	resp, err := cc.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "created", string(body))
	assert.Equal(t, "abc", resp.Trailer.Get("X-Checksum"))
	<-done
}

func TestConn_StreamReset(t *testing.T) {
	addr, done := serve(t, func(p *peer) {
		p.until(func(f http2.Frame) bool {
			_, ok := f.(*http2.MetaHeadersFrame)
			return ok
		})
		assert.NoError(t, p.fr.WriteRSTStream(1, http2.ErrCodeRefusedStream))
	})

	cc := dial(t, addr, nil)
	req, err := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	require.NoError(t, err)

	_, err = cc.RoundTrip(req)
	assert.ErrorIs(t, err, h2.ErrStreamReset)
	assert.True(t, cc.CanTakeNewRequest())
	<-done
}

func TestConn_GoAway(t *testing.T) {
	addr, done := serve(t, func(p *peer) {
		p.until(func(f http2.Frame) bool {
			_, ok := f.(*http2.MetaHeadersFrame)
			return ok
		})
		assert.NoError(t, p.fr.WriteGoAway(0, http2.ErrCodeNo, nil))
	})

	cc := dial(t, addr, nil)
	req, err := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	require.NoError(t, err)

	_, err = cc.RoundTrip(req)
	assert.ErrorIs(t, err, h2.ErrConnClosing)
	assert.False(t, cc.CanTakeNewRequest())
	<-done
}

func TestConn_InvalidHeaderKeepsConnection(t *testing.T) {
	addr, _ := serve(t, func(p *peer) {
		_, _ = io.Copy(io.Discard, p.conn)
	})
	profile, err := fingerprint.NewHTTP2Profile(fingerprint.HTTP2Params{ConnectionFlow: 1})
	require.NoError(t, err)
	cc := dial(t, addr, profile)

	req, err := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	require.NoError(t, err)
	req.Header.Set("Bad Header", "x")
	_, err = cc.RoundTrip(req)
	assert.Error(t, err)
	assert.True(t, cc.CanTakeNewRequest())
}

func TestConn_ContextCancel(t *testing.T) {
	addr, _ := serve(t, func(p *peer) {
		_, _ = io.Copy(io.Discard, p.conn)
	})
	cc := dial(t, addr, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://example.com/", nil)
	require.NoError(t, err)

	_, err = cc.RoundTrip(req)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, cc.CanTakeNewRequest())
}

func TestConn_StreamWindowStaysWithinLimit(t *testing.T) {
	// INITIAL_WINDOW_SIZE leaves 1000 bytes of room below 2^31-1.
	const akamai = "4:2147482647|15663105|0|m,a,s,p"

	addr, done := serve(t, func(p *peer) {
		p.until(func(f http2.Frame) bool {
			wu, ok := f.(*http2.WindowUpdateFrame)
			return ok && wu.StreamID == 0
		})
		swu, ok := p.until(func(f http2.Frame) bool {
			_, ok := f.(*http2.WindowUpdateFrame)
			return ok
		}).(*http2.WindowUpdateFrame)
		if !assert.True(t, ok) {
			return
		}
		assert.Equal(t, uint32(1), swu.StreamID)
		assert.Equal(t, uint32(1000), swu.Increment)

		p.headers(1, true, hpack.HeaderField{Name: ":status", Value: "204"})
	})

	cc := dial(t, addr, mustProfile(t, akamai))
	req, err := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	require.NoError(t, err)
	resp, err := cc.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()
	<-done
}

func TestInitializer_StreamWindowIncrement(t *testing.T) {
	full := h2.NewInitializer(mustProfile(t, "4:2147483647|15663105|0|m,a,s,p"))
	assert.Zero(t, full.StreamWindowIncrement())

	firefox := h2.NewInitializer(mustProfile(t, "1:65536,4:131072,5:16384|12517377|0|m,p,a,s"))
	assert.Equal(t, uint32(12517377), firefox.StreamWindowIncrement())
}
