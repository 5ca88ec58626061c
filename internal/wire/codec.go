// Package wire frames packets on a byte stream: an 8-byte big-endian length
// followed by a msgpack body, lz4 compressed when the mesh agrees to it.
package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	HeaderSize          = 8
	DefaultMaxFrameSize = 16 << 20
)

var ErrFrameTooLarge = errors.New("wire: frame length out of range")

// Codec must be configured identically on every node of a mesh.
type Codec struct {
	MaxFrameSize uint64
	Compress     bool
}

func (c Codec) maxFrame() uint64 {
	if c.MaxFrameSize == 0 {
		return DefaultMaxFrameSize
	}
	return c.MaxFrameSize
}

func (c Codec) Marshal(v any) ([]byte, error) {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	if !c.Compress {
		return body, nil
	}
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, fmt.Errorf("wire: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("wire: compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (c Codec) Unmarshal(data []byte, v any) error {
	if c.Compress {
		// The inflated body obeys the same bound as the frame.
		limit := int64(c.maxFrame())
		var buf bytes.Buffer
		n, err := io.Copy(&buf, io.LimitReader(lz4.NewReader(bytes.NewReader(data)), limit+1))
		if err != nil {
			return fmt.Errorf("wire: decompress: %w", err)
		}
		if n > limit {
			return fmt.Errorf("%w: body inflates past %d bytes", ErrFrameTooLarge, limit)
		}
		data = buf.Bytes()
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("wire: decode: %w", err)
	}
	return nil
}

// WriteFrame writes one length-prefixed frame and flushes w.
func (c Codec) WriteFrame(w *bufio.Writer, v any) error {
	body, err := c.Marshal(v)
	if err != nil {
		return err
	}
	if uint64(len(body)) > c.maxFrame() {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	var header [HeaderSize]byte
	binary.BigEndian.PutUint64(header[:], uint64(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	return w.Flush()
}

// ReadFrame reads exactly one frame into v. A clean EOF before the header is
// returned as io.EOF; a short header or body as io.ErrUnexpectedEOF.
func (c Codec) ReadFrame(r io.Reader, v any) error {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint64(header[:])
	if n == 0 || n > c.maxFrame() {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	return c.Unmarshal(body, v)
}
