package fileio

import (
	"context"
	"errors"
	"io"
)

// Read fills buf from offset. The request is split into chunks of at most
// MaxChunk bytes; any failure fails the whole request.
func (f *File) Read(ctx context.Context, offset int64, buf []byte) error {
	if f.closed.Load() {
		return &IOError{Op: "read", Name: f.name, Length: len(buf), Offset: offset, Err: ErrClosed}
	}
	if err := f.checkAlignment("read", offset, buf); err != nil {
		return err
	}

	calls := 0
	err := f.read(ctx, offset, buf, &calls)
	if f.metrics != nil {
		f.metrics.RecordRead(len(buf), calls, err)
	}
	if err != nil {
		f.logger.Errorf("read failed", map[string]any{
			"file":   f.name,
			"offset": offset,
			"length": len(buf),
			"error":  err.Error(),
		})
	}
	return err
}

func (f *File) read(ctx context.Context, offset int64, buf []byte, calls *int) error {
	fail := func(err error) error {
		return &IOError{Op: "read", Name: f.name, Length: len(buf), Offset: offset, Err: err}
	}

	pos := offset
	for rest := buf; len(rest) > 0; {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		chunk := rest
		if len(chunk) > f.maxChunk {
			chunk = chunk[:f.maxChunk]
		}
		n, err := f.dev.ReadAt(chunk, pos)
		*calls++
		if n < 0 {
			return fail(errors.New("negative read count"))
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return fail(err)
		}
		if n == 0 {
			return fail(ErrShortRead)
		}
		rest = rest[n:]
		pos += int64(n)
	}
	return nil
}

// Write stores buf at offset. A placement hint, if configured, is applied
// before the first device call; hint failures are logged only.
func (f *File) Write(ctx context.Context, offset int64, buf []byte) error {
	if f.closed.Load() {
		return &IOError{Op: "write", Name: f.name, Length: len(buf), Offset: offset, Err: ErrClosed}
	}
	if err := f.checkAlignment("write", offset, buf); err != nil {
		return err
	}

	f.advise(offset, len(buf))

	calls := 0
	err := f.write(ctx, offset, buf, &calls)
	if f.metrics != nil {
		f.metrics.RecordWrite(len(buf), calls, err)
	}
	if err != nil {
		f.logger.Errorf("write failed", map[string]any{
			"file":   f.name,
			"offset": offset,
			"length": len(buf),
			"error":  err.Error(),
		})
	}
	return err
}

func (f *File) write(ctx context.Context, offset int64, buf []byte, calls *int) error {
	fail := func(err error) error {
		return &IOError{Op: "write", Name: f.name, Length: len(buf), Offset: offset, Err: err}
	}

	pos := offset
	for rest := buf; len(rest) > 0; {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		chunk := rest
		if len(chunk) > f.maxChunk {
			chunk = chunk[:f.maxChunk]
		}
		n, err := f.dev.WriteAt(chunk, pos)
		*calls++
		if err != nil {
			return fail(err)
		}
		if n <= 0 {
			return fail(ErrShortWrite)
		}
		rest = rest[n:]
		pos += int64(n)
	}
	return nil
}

func (f *File) advise(offset int64, length int) {
	if f.placement == nil || f.advisor == nil {
		return
	}
	stream, ok := f.placement.Place(f, offset, length)
	if !ok {
		return
	}
	err := f.advisor.Advise(f.dev.Fd(), stream)
	if f.metrics != nil {
		f.metrics.RecordAdvise(stream, err)
	}
	if err != nil {
		f.logger.Warnf("placement hint failed", map[string]any{
			"file":   f.name,
			"offset": offset,
			"length": length,
			"stream": int(stream),
			"error":  err.Error(),
		})
	}
}
