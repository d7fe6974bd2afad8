package parallel

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
)

// Broadcast objects (datasets, model state) can run to megabytes; payloads
// above the threshold are gzip-compressed before they enter the shared
// bucket. Small payloads pass through untouched.
const objectCompressThreshold = 1 << 10

var (
	objectMagic = []byte("POB1")

	// ErrCorruptObject is returned when a broadcast payload fails to decode.
	ErrCorruptObject = errors.New("parallel: corrupt broadcast payload")
)

func encodeObject(value []byte) ([]byte, error) {
	if len(value) >= objectCompressThreshold {
		var buf bytes.Buffer
		buf.Write(objectMagic)
		_ = buf.WriteByte('g')
		zw, _ := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
		if _, err := zw.Write(value); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		if buf.Len() < len(value) {
			return buf.Bytes(), nil
		}
	}
	// A raw payload that happens to start with the magic needs an escape so
	// decode stays unambiguous.
	if bytes.HasPrefix(value, objectMagic) {
		out := make([]byte, 0, len(objectMagic)+1+len(value))
		out = append(out, objectMagic...)
		out = append(out, 'r')
		return append(out, value...), nil
	}
	return value, nil
}

func decodeObject(body []byte) ([]byte, error) {
	if !bytes.HasPrefix(body, objectMagic) {
		return body, nil
	}
	if len(body) < len(objectMagic)+1 {
		return nil, ErrCorruptObject
	}
	payload := body[len(objectMagic)+1:]
	switch body[len(objectMagic)] {
	case 'r':
		return payload, nil
	case 'g':
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, errors.Join(ErrCorruptObject, err)
		}
		defer func() { _ = zr.Close() }()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, errors.Join(ErrCorruptObject, err)
		}
		return out, nil
	default:
		return nil, ErrCorruptObject
	}
}
