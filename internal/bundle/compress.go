package bundle

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies how an entry's payload is stored. The values are
// part of the file format.
type CompressionTag uint8

const (
	// CompressionNone stores the payload as-is. Used for images, which are
	// already compressed.
	CompressionNone CompressionTag = 0
	// CompressionLZ4 is LZ4 block compression for binary payloads.
	CompressionLZ4 CompressionTag = 1
	// CompressionZstd is zstd at the default level for text payloads.
	CompressionZstd CompressionTag = 2
)

// String returns the human-readable name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

var (
	imageExtensions = map[string]struct{}{".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".bmp": {}}
	textExtensions  = map[string]struct{}{".xml": {}, ".json": {}, ".txt": {}}
)

// IsImage reports whether name has a recognized image extension.
func IsImage(name string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// ChooseCompression returns the preferred algorithm for an entry name.
func ChooseCompression(name string) CompressionTag {
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := imageExtensions[ext]; ok {
		return CompressionNone
	}
	if _, ok := textExtensions[ext]; ok {
		return CompressionZstd
	}
	return CompressionLZ4
}

// errIncompressible is returned when compressing would not shrink the payload.
var errIncompressible = errors.New("payload is incompressible")

// encodePayload compresses data with the preferred algorithm for name,
// falling back to CompressionNone when that does not help.
func encodePayload(name string, data []byte) (CompressionTag, []byte, error) {
	tag := ChooseCompression(name)
	var (
		stored []byte
		err    error
	)
	switch tag {
	case CompressionNone:
		return CompressionNone, data, nil
	case CompressionLZ4:
		stored, err = compressLZ4(data)
	case CompressionZstd:
		stored, err = compressZstd(data)
	}
	if errors.Is(err, errIncompressible) {
		return CompressionNone, data, nil
	}
	if err != nil {
		return 0, nil, err
	}
	return tag, stored, nil
}

func decodePayload(tag CompressionTag, stored []byte, rawSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(stored) != rawSize {
			return nil, fmt.Errorf("uncompressed entry: size %d does not match expected %d", len(stored), rawSize)
		}
		return append([]byte(nil), stored...), nil
	case CompressionLZ4:
		return decompressLZ4(stored, rawSize)
	case CompressionZstd:
		return decompressZstd(stored, rawSize)
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errIncompressible
	}
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, rawSize int) ([]byte, error) {
	destination := make([]byte, rawSize)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != rawSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, rawSize)
	}
	return destination, nil
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("bundle: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("bundle: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errIncompressible
	}
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, rawSize int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, rawSize))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != rawSize {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), rawSize)
	}
	return result, nil
}
