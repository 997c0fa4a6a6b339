package h2

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

const maxStreamID = 1<<31 - 1

var (
	// ErrConnClosing is returned once the peer sent GOAWAY or the
	// connection failed.
	ErrConnClosing = errors.New("h2: connection is closing")

	// ErrStreamReset is wrapped by errors for streams the peer reset.
	ErrStreamReset = errors.New("h2: stream reset by peer")
)

var aLongTimeAgo = time.Unix(1, 0)

// Conn is a client HTTP/2 connection carrying one request at a time.
// Responses are read to completion before RoundTrip returns.
type Conn struct {
	conn net.Conn
	bw   *bufio.Writer
	fr   *http2.Framer
	dec  *hpack.Decoder
	henc *hpack.Encoder
	hbuf bytes.Buffer
	init *Initializer

	mu     sync.Mutex
	nextID uint32
	err    error
	goAway bool

	peerMaxFrame      uint32
	peerInitialWindow int64
	connSendWindow    int64

	connRecvWindow  int64
	connRecvUnacked int64
}

type stream struct {
	id         uint32
	sendWindow int64

	recvWindow  int64
	recvUnacked int64

	resp    *http.Response
	body    bytes.Buffer
	ended   bool
	headers bool
}

// NewConn writes the preface described by init on c and returns the
// connection.  The peer's SETTINGS are processed as frames arrive.
func NewConn(c net.Conn, init *Initializer) (*Conn, error) {
	if init == nil {
		init = NewInitializer(nil)
	}
	cc := &Conn{
		conn:              c,
		bw:                bufio.NewWriter(c),
		init:              init,
		nextID:            1,
		peerMaxFrame:      defaultMaxFrameSize,
		peerInitialWindow: defaultWindowSize,
		connSendWindow:    defaultWindowSize,
		connRecvWindow:    defaultWindowSize + int64(init.ConnectionFlow()),
	}
	cc.fr = http2.NewFramer(cc.bw, bufio.NewReader(c))
	cc.dec = hpack.NewDecoder(defaultHeaderTableSize, nil)
	cc.fr.ReadMetaHeaders = cc.dec
	if v, ok := init.setting(http2.SettingMaxFrameSize); ok {
		cc.fr.SetMaxReadFrameSize(v)
	}
	if v, ok := init.setting(http2.SettingMaxHeaderListSize); ok {
		cc.fr.MaxHeaderListSize = v
	}
	cc.henc = hpack.NewEncoder(&cc.hbuf)
	if err := init.Start(cc.bw, cc.fr, cc.dec); err != nil {
		return nil, err
	}
	return cc, nil
}

// CanTakeNewRequest reports whether RoundTrip may be called again.
func (c *Conn) CanTakeNewRequest() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err == nil && !c.goAway && c.nextID < maxStreamID
}

// Close sends GOAWAY and closes the transport.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		_ = c.fr.WriteGoAway(0, http2.ErrCodeNo, nil)
		_ = c.bw.Flush()
		c.err = net.ErrClosed
	}
	return c.conn.Close()
}

// RoundTrip sends req on a new stream and reads the whole response.
func (c *Conn) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		defer req.Body.Close()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if c.goAway || c.nextID >= maxStreamID {
		return nil, ErrConnClosing
	}

	c.hbuf.Reset()
	if err := EncodeRequestHeaders(c.henc, req, c.init.PseudoHeaderOrder()); err != nil {
		return nil, err
	}

	ctx := req.Context()
	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() { _ = c.conn.SetDeadline(aLongTimeAgo) })
		defer stop()
	}

	resp, err := c.roundTrip(req)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		if !errors.Is(err, ErrStreamReset) {
			c.err = err
		}
		return nil, err
	}
	return resp, nil
}

// roundTrip sends the header block already encoded in c.hbuf.
func (c *Conn) roundTrip(req *http.Request) (*http.Response, error) {
	inc := c.init.StreamWindowIncrement()
	s := &stream{
		id:         c.nextID,
		sendWindow: c.peerInitialWindow,
		recvWindow: int64(c.init.InitialWindowSize()) + int64(inc),
	}
	c.nextID += 2

	withBody := hasBody(req)
	if err := c.writeHeaders(s.id, c.hbuf.Bytes(), !withBody); err != nil {
		return nil, err
	}
	if inc > 0 {
		if err := c.fr.WriteWindowUpdate(s.id, inc); err != nil {
			return nil, err
		}
	}
	if err := c.bw.Flush(); err != nil {
		return nil, err
	}
	if withBody {
		if err := c.writeBody(s, req.Body); err != nil {
			return nil, err
		}
	}
	for !s.ended {
		if err := c.readFrame(s); err != nil {
			return nil, err
		}
	}
	if s.resp == nil {
		return nil, fmt.Errorf("h2: stream %d ended without response headers", s.id)
	}

	resp := s.resp
	resp.Request = req
	resp.Body = io.NopCloser(bytes.NewReader(s.body.Bytes()))
	if resp.ContentLength < 0 {
		resp.ContentLength = int64(s.body.Len())
	}
	if st, ok := c.conn.(interface{ ConnectionState() tls.ConnectionState }); ok {
		state := st.ConnectionState()
		resp.TLS = &state
	}
	return resp, nil
}

func (c *Conn) writeHeaders(id uint32, block []byte, endStream bool) error {
	limit := int(c.peerMaxFrame)
	first := block
	if len(first) > limit {
		first = block[:limit]
	}
	block = block[len(first):]
	err := c.fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      id,
		BlockFragment: first,
		EndStream:     endStream,
		EndHeaders:    len(block) == 0,
	})
	for err == nil && len(block) > 0 {
		chunk := block
		if len(chunk) > limit {
			chunk = block[:limit]
		}
		block = block[len(chunk):]
		err = c.fr.WriteContinuation(id, len(block) == 0, chunk)
	}
	return err
}

func (c *Conn) writeBody(s *stream, body io.Reader) error {
	buf := make([]byte, defaultMaxFrameSize)
	for {
		n, rerr := body.Read(buf)
		if err := c.sendData(s, buf[:n]); err != nil {
			return err
		}
		if s.ended {
			return nil
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			_ = c.fr.WriteRSTStream(s.id, http2.ErrCodeCancel)
			_ = c.bw.Flush()
			return fmt.Errorf("h2: read request body: %w", rerr)
		}
	}
	if err := c.fr.WriteData(s.id, true, nil); err != nil {
		return err
	}
	return c.bw.Flush()
}

// sendData writes p in frames that respect the peer's frame size and flow
// windows, reading frames while the windows are exhausted.
func (c *Conn) sendData(s *stream, p []byte) error {
	for len(p) > 0 && !s.ended {
		n := min(int64(len(p)), int64(c.peerMaxFrame), c.connSendWindow, s.sendWindow)
		if n <= 0 {
			if err := c.bw.Flush(); err != nil {
				return err
			}
			if err := c.readFrame(s); err != nil {
				return err
			}
			continue
		}
		if err := c.fr.WriteData(s.id, false, p[:n]); err != nil {
			return err
		}
		c.connSendWindow -= n
		s.sendWindow -= n
		p = p[n:]
	}
	return c.bw.Flush()
}

func (c *Conn) readFrame(s *stream) error {
	f, err := c.fr.ReadFrame()
	if err != nil {
		return err
	}
	switch f := f.(type) {
	case *http2.SettingsFrame:
		if f.IsAck() {
			return nil
		}
		if err := f.ForeachSetting(func(st http2.Setting) error {
			switch st.ID {
			case http2.SettingMaxFrameSize:
				c.peerMaxFrame = st.Val
			case http2.SettingInitialWindowSize:
				delta := int64(st.Val) - c.peerInitialWindow
				c.peerInitialWindow = int64(st.Val)
				s.sendWindow += delta
			case http2.SettingHeaderTableSize:
				c.henc.SetMaxDynamicTableSizeLimit(st.Val)
			}
			return nil
		}); err != nil {
			return err
		}
		if err := c.fr.WriteSettingsAck(); err != nil {
			return err
		}
		return c.bw.Flush()
	case *http2.PingFrame:
		if f.IsAck() {
			return nil
		}
		if err := c.fr.WritePing(true, f.Data); err != nil {
			return err
		}
		return c.bw.Flush()
	case *http2.WindowUpdateFrame:
		switch f.StreamID {
		case 0:
			c.connSendWindow += int64(f.Increment)
		case s.id:
			s.sendWindow += int64(f.Increment)
		}
	case *http2.GoAwayFrame:
		c.goAway = true
		if f.LastStreamID < s.id {
			return fmt.Errorf("%w: GOAWAY %v", ErrConnClosing, f.ErrCode)
		}
	case *http2.RSTStreamFrame:
		if f.StreamID == s.id {
			return fmt.Errorf("%w: stream %d: %v", ErrStreamReset, s.id, f.ErrCode)
		}
	case *http2.MetaHeadersFrame:
		if f.StreamID != s.id {
			return nil
		}
		if err := s.onHeaders(f); err != nil {
			return err
		}
	case *http2.DataFrame:
		return c.onData(s, f)
	}
	return nil
}

func (s *stream) onHeaders(f *http2.MetaHeadersFrame) error {
	if f.Truncated {
		return fmt.Errorf("h2: response headers on stream %d exceed the header list limit", s.id)
	}
	if s.headers {
		// Trailers.
		if s.resp.Trailer == nil {
			s.resp.Trailer = make(http.Header)
		}
		for _, hf := range f.RegularFields() {
			s.resp.Trailer.Add(http.CanonicalHeaderKey(hf.Name), hf.Value)
		}
		s.ended = f.StreamEnded()
		return nil
	}

	code, err := strconv.Atoi(f.PseudoValue("status"))
	if err != nil {
		return fmt.Errorf("h2: malformed :status on stream %d", s.id)
	}
	if code >= 100 && code < 200 {
		return nil
	}
	resp := &http.Response{
		Status:        strconv.Itoa(code) + " " + http.StatusText(code),
		StatusCode:    code,
		Proto:         "HTTP/2.0",
		ProtoMajor:    2,
		Header:        make(http.Header),
		ContentLength: -1,
	}
	for _, hf := range f.RegularFields() {
		resp.Header.Add(http.CanonicalHeaderKey(hf.Name), hf.Value)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64); err == nil {
			resp.ContentLength = n
		}
	}
	s.resp = resp
	s.headers = true
	s.ended = f.StreamEnded()
	return nil
}

func (c *Conn) onData(s *stream, f *http2.DataFrame) error {
	n := int64(f.Header().Length)
	if f.StreamID == s.id {
		if !s.headers {
			return fmt.Errorf("h2: DATA before HEADERS on stream %d", s.id)
		}
		s.body.Write(f.Data())
		s.ended = f.StreamEnded()
	}
	if n == 0 {
		return nil
	}

	c.connRecvUnacked += n
	if c.connRecvUnacked >= c.connRecvWindow/2 {
		if err := c.fr.WriteWindowUpdate(0, uint32(c.connRecvUnacked)); err != nil {
			return err
		}
		c.connRecvUnacked = 0
	}
	if f.StreamID == s.id && !s.ended {
		s.recvUnacked += n
		if s.recvUnacked >= s.recvWindow/2 {
			if err := c.fr.WriteWindowUpdate(s.id, uint32(s.recvUnacked)); err != nil {
				return err
			}
			s.recvUnacked = 0
		}
	}
	return c.bw.Flush()
}
