package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	lzo "github.com/rasky/go-lzo"
)

// Compression levels. 0 is identity, 1–9 select deflate at that level,
// 10 and 11 select single-pass and max-compression LZO.
const (
	CompressionNone    = 0
	CompressionLZOFast = 10
	CompressionLZOBest = 11
)

// Compress compresses src at the given level into dst and returns the number
// of bytes written. dst must not overlap src.
func Compress(dst, src []byte, level int) (int, error) {
	switch {
	case level == CompressionNone:
		if len(src) > len(dst) {
			return 0, fmt.Errorf("compressed packet does not fit: %d > %d", len(src), len(dst))
		}
		return copy(dst, src), nil

	case level < CompressionLZOFast:
		var buf bytes.Buffer
		w, err := zlib.NewWriterLevel(&buf, level)
		if err != nil {
			return 0, fmt.Errorf("deflate level %d: %w", level, err)
		}
		if _, err := w.Write(src); err != nil {
			return 0, err
		}
		if err := w.Close(); err != nil {
			return 0, err
		}
		if buf.Len() > len(dst) {
			return 0, fmt.Errorf("compressed packet does not fit: %d > %d", buf.Len(), len(dst))
		}
		return copy(dst, buf.Bytes()), nil

	case level == CompressionLZOFast:
		return copyLZO(dst, lzo.Compress1X(src))

	case level == CompressionLZOBest:
		return copyLZO(dst, lzo.Compress1X999(src))
	}

	return 0, fmt.Errorf("unknown compression level %d", level)
}

// Decompress reverses Compress for the given level, writing into dst and
// returning the number of bytes written.
func Decompress(dst, src []byte, level int) (int, error) {
	if level > 9 {
		out, err := lzo.Decompress1X(bytes.NewReader(src), len(src), 0)
		if err != nil {
			return 0, fmt.Errorf("lzo decompress: %w", err)
		}
		return copyLZO(dst, out)
	}

	if level == CompressionNone {
		if len(src) > len(dst) {
			return 0, fmt.Errorf("decompressed packet does not fit: %d > %d", len(src), len(dst))
		}
		return copy(dst, src), nil
	}

	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return 0, fmt.Errorf("inflate: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, int64(len(dst))+1))
	if err != nil {
		return 0, fmt.Errorf("inflate: %w", err)
	}
	if len(out) > len(dst) {
		return 0, fmt.Errorf("decompressed packet does not fit: %d > %d", len(out), len(dst))
	}
	return copy(dst, out), nil
}

func copyLZO(dst, out []byte) (int, error) {
	if len(out) > len(dst) {
		return 0, fmt.Errorf("packet does not fit: %d > %d", len(out), len(dst))
	}
	return copy(dst, out), nil
}
