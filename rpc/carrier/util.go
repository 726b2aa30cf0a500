package carrier

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrPayloadTooLarge is returned when a frame exceeds the payload limit
	ErrPayloadTooLarge = errors.New("payload exceeds limit")
	// ErrBadFrame is returned for frames that violate the carrier's framing
	ErrBadFrame = errors.New("malformed frame")
	// ErrRejected is returned when the responder does not accept the header
	ErrRejected = errors.New("header rejected by peer")
)

// maxNameLength bounds port and delegate names in binary headers
const maxNameLength = 1024

// writeString writes a string with a big endian uint32 length prefix
func writeString(w *bufio.Writer, s string) error {
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(s)))
	if _, err := w.Write(size[:]); err != nil {
		return err
	}
	_, err := w.WriteString(s)
	return err
}

// readString reads a string written by writeString
func readString(r *bufio.Reader) (string, error) {
	var size [4]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(size[:])
	if n > maxNameLength {
		return "", fmt.Errorf("%w: name of %d bytes", ErrBadFrame, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// readLine reads one line without its line ending. Lines longer than limit
// bytes are rejected without buffering them completely.
func readLine(r *bufio.Reader, limit int) (string, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(line)+len(chunk) > limit+2 {
			return "", fmt.Errorf("%w: line longer than %d bytes", ErrPayloadTooLarge, limit)
		}
		line = append(line, chunk...)
		switch {
		case err == nil:
			return string(bytes.TrimRight(line, "\r\n")), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			return string(bytes.TrimRight(line, "\r\n")), nil
		default:
			return "", err
		}
	}
}
