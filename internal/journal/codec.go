package journal

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifiers stored in each record header.
const (
	codecNone   byte = 0
	codecSnappy byte = 1
	codecZlib   byte = 2
	codecZstd   byte = 3
	codecLz4    byte = 4
)

// Codec compresses record payloads.
type Codec interface {
	Name() string
	ID() byte
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
}

// CodecByName returns the codec for a configuration value.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "none":
		return noneCodec{}, nil
	case "snappy":
		return snappyCodec{}, nil
	case "zlib":
		return zlibCodec{}, nil
	case "zstd":
		return newZstdCodec()
	case "lz4":
		return lz4Codec{}, nil
	default:
		return nil, fmt.Errorf("journal: unknown compressor %q", name)
	}
}

// decodePayload decompresses data based on the codec id in its header.
// Records written with any codec remain readable after the journal
// compressor is changed.
func decodePayload(id byte, data []byte) ([]byte, error) {
	switch id {
	case codecNone:
		return data, nil

	case codecSnappy:
		return snappy.Decode(nil, data)

	case codecZlib:
		reader, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zlib reader: %w", err)
		}
		defer reader.Close()
		return io.ReadAll(reader)

	case codecZstd:
		decoder, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer decoder.Close()
		return io.ReadAll(decoder)

	case codecLz4:
		reader := lz4.NewReader(bytes.NewReader(data))
		return io.ReadAll(reader)

	default:
		return nil, fmt.Errorf("unsupported codec id: %d", id)
	}
}

type noneCodec struct{}

func (noneCodec) Name() string                      { return "none" }
func (noneCodec) ID() byte                          { return codecNone }
func (noneCodec) Encode(src []byte) ([]byte, error) { return src, nil }
func (noneCodec) Decode(src []byte) ([]byte, error) { return src, nil }

type snappyCodec struct{}

func (snappyCodec) Name() string { return "snappy" }
func (snappyCodec) ID() byte     { return codecSnappy }

func (snappyCodec) Encode(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (snappyCodec) Decode(src []byte) ([]byte, error) {
	return decodePayload(codecSnappy, src)
}

type zlibCodec struct{}

func (zlibCodec) Name() string { return "zlib" }
func (zlibCodec) ID() byte     { return codecZlib }

func (zlibCodec) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("zlib write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}
	return buf.Bytes(), nil
}

func (zlibCodec) Decode(src []byte) ([]byte, error) {
	return decodePayload(codecZlib, src)
}

// zstdCodec keeps one stateless encoder; EncodeAll is safe for concurrent use.
type zstdCodec struct {
	enc *zstd.Encoder
}

func newZstdCodec() (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	return &zstdCodec{enc: enc}, nil
}

func (*zstdCodec) Name() string { return "zstd" }
func (*zstdCodec) ID() byte     { return codecZstd }

func (c *zstdCodec) Encode(src []byte) ([]byte, error) {
	return c.enc.EncodeAll(src, nil), nil
}

func (*zstdCodec) Decode(src []byte) ([]byte, error) {
	return decodePayload(codecZstd, src)
}

type lz4Codec struct{}

func (lz4Codec) Name() string { return "lz4" }
func (lz4Codec) ID() byte     { return codecLz4 }

func (lz4Codec) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

func (lz4Codec) Decode(src []byte) ([]byte, error) {
	return decodePayload(codecLz4, src)
}
