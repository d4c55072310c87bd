// Package codec implements the on-disk record frame used by every segment
// append. A frame is a fixed header (magic, version, flags, body length,
// and a CRC32 checksum over the uncompressed body) followed by a
// msgpack-encoded body, optionally DEFLATE-compressed. The checksum sits in
// the header, ahead of the body, not after it — a length-prefixed,
// checksummed framing idiom implemented with encoding/binary and hash/crc32.
package codec

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/mindcache/mindcache/internal/errs"
)

// magic identifies a MindCache record frame; version lets future framing
// changes be detected without guessing at the body shape.
const (
	magic         uint32 = 0x4d43524b // "MCRK"
	version       uint8  = 1
	flagCompressed byte  = 1 << 0
)

// headerLen is the fixed byte size of everything before the body:
// magic(4) + version(1) + flags(1) + bodyLen(4) + crc32(4).
const headerLen = 4 + 1 + 1 + 4 + 4

// Encode serializes v to msgpack, compresses it with DEFLATE when the
// encoded size is at least threshold bytes, and wraps the result in a
// framed record ready to append to a segment.
func Encode(v any, threshold int64) ([]byte, error) {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return nil, errs.InternalErr("marshal record body", err)
	}
	sum := crc32.ChecksumIEEE(body)

	flags := byte(0)
	payload := body
	if threshold >= 0 && int64(len(body)) >= threshold {
		compressed, err := deflate(body)
		if err == nil && len(compressed) < len(body) {
			payload = compressed
			flags |= flagCompressed
		}
	}

	frame := make([]byte, headerLen+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], magic)
	frame[4] = version
	frame[5] = flags
	binary.BigEndian.PutUint32(frame[6:10], uint32(len(payload)))
	binary.BigEndian.PutUint32(frame[10:14], sum)
	copy(frame[headerLen:], payload)
	return frame, nil
}

// Decode reverses Encode, validating magic, version, and the CRC32 of the
// recovered uncompressed body. segment and offset are used only to enrich
// the CorruptRecord error.
func Decode(frame []byte, v any, segment string, offset int64) error {
	if len(frame) < headerLen {
		return errs.CorruptErr(segment, offset, io.ErrUnexpectedEOF)
	}
	gotMagic := binary.BigEndian.Uint32(frame[0:4])
	if gotMagic != magic {
		return errs.CorruptErr(segment, offset, errs.New(errs.CorruptRecord, "bad magic"))
	}
	if frame[4] != version {
		return errs.CorruptErr(segment, offset, errs.New(errs.CorruptRecord, "unsupported version"))
	}
	flags := frame[5]
	bodyLen := binary.BigEndian.Uint32(frame[6:10])
	wantSum := binary.BigEndian.Uint32(frame[10:14])
	payload := frame[headerLen:]
	if uint32(len(payload)) != bodyLen {
		return errs.CorruptErr(segment, offset, errs.New(errs.CorruptRecord, "length mismatch"))
	}

	body := payload
	if flags&flagCompressed != 0 {
		var err error
		body, err = inflate(payload)
		if err != nil {
			return errs.CorruptErr(segment, offset, err)
		}
	}
	if crc32.ChecksumIEEE(body) != wantSum {
		return errs.CorruptErr(segment, offset, errs.New(errs.CorruptRecord, "crc32 mismatch"))
	}
	if err := msgpack.Unmarshal(body, v); err != nil {
		return errs.CorruptErr(segment, offset, err)
	}
	return nil
}

// FrameLen reports how many bytes Encode would produce for an already
// framed buffer's header, letting callers reading a segment sequentially
// learn a record's total length from its first headerLen bytes.
func FrameLen(header []byte) (total int, err error) {
	if len(header) < headerLen {
		return 0, io.ErrUnexpectedEOF
	}
	bodyLen := binary.BigEndian.Uint32(header[6:10])
	return headerLen + int(bodyLen), nil
}

// HeaderLen is the fixed header size, exported so the segment reader knows
// how many bytes to read before it can compute FrameLen.
func HeaderLen() int { return headerLen }

func deflate(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(payload []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(payload))
	defer r.Close()
	return io.ReadAll(r)
}
