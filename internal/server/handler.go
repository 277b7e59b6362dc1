package server

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rmacdonaldsmith/tailnode/internal/node"
	"github.com/rmacdonaldsmith/tailnode/internal/textcodec"
)

// Listener is the part of *node.Listener the servers use.
type Listener interface {
	Accept() (*node.Conn, error)
	Close() error
}

// Handler serves one connection until the peer closes it.
type Handler interface {
	ServeConn(ctx context.Context, c *node.Conn) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, c *node.Conn) error

// ServeConn calls f(ctx, c).
func (f HandlerFunc) ServeConn(ctx context.Context, c *node.Conn) error { return f(ctx, c) }

// Processor handles one chunk read from c.
type Processor interface {
	Process(c *node.Conn, chunk []byte) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(c *node.Conn, chunk []byte) error

// Process calls f(c, chunk).
func (f ProcessorFunc) Process(c *node.Conn, chunk []byte) error { return f(c, chunk) }

// Drain returns a Handler that reads chunks of at most chunkSize bytes and
// passes each to p until the peer closes.
func Drain(p Processor, chunkSize int) Handler {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return HandlerFunc(func(_ context.Context, c *node.Conn) error {
		return drain(c, p, chunkSize)
	})
}

func drain(c *node.Conn, p Processor, chunkSize int) error {
	buf := make([]byte, chunkSize)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			if perr := p.Process(c, buf[:n]); perr != nil {
				return perr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// PrintHandler writes every received chunk to w as text. Chunks that are
// not valid in the decoder's encoding are written with U+FFFD substituted.
type PrintHandler struct {
	mu  sync.Mutex
	w   io.Writer
	dec *textcodec.Decoder
}

// NewPrintHandler returns a PrintHandler writing to w. A nil dec means
// UTF-8.
func NewPrintHandler(w io.Writer, dec *textcodec.Decoder) *PrintHandler {
	if dec == nil {
		dec, _ = textcodec.NewDecoder(textcodec.DefaultEncoding)
	}
	return &PrintHandler{w: w, dec: dec}
}

// Process decodes chunk and writes it to the output.
func (h *PrintHandler) Process(_ *node.Conn, chunk []byte) error {
	text := h.dec.Decode(chunk)

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, text)
	return err
}

// ServeConn prints every chunk until the peer closes.
func (h *PrintHandler) ServeConn(_ context.Context, c *node.Conn) error {
	return drain(c, h, DefaultChunkSize)
}

// EchoHandler writes every received chunk back to the peer.
type EchoHandler struct{}

// Process writes chunk back to c.
func (EchoHandler) Process(c *node.Conn, chunk []byte) error {
	_, err := c.Write(chunk)
	return err
}

// ServeConn echoes every chunk until the peer closes.
func (h EchoHandler) ServeConn(_ context.Context, c *node.Conn) error {
	return drain(c, h, DefaultChunkSize)
}
