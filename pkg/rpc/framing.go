package rpc

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxMessageSize bounds a single framed payload.
const maxMessageSize = 64 << 20

func writeMessage(w *bufio.Writer, payload []byte) error {
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(payload)); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return w.Flush()
}

// readMessage reads one Content-Length framed payload. A bare JSON object on
// a single line is accepted as well, which keeps manual testing with nc easy.
func readMessage(r *bufio.Reader) ([]byte, error) {
	for {
		line, err := r.ReadString('\n')
		if err != nil && len(line) == 0 {
			return nil, err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "{") {
			return []byte(trimmed), nil
		}

		contentLength, err := parseHeader(trimmed, 0)
		if err != nil {
			return nil, err
		}
		for {
			headerLine, readErr := r.ReadString('\n')
			if readErr != nil && len(headerLine) == 0 {
				return nil, readErr
			}
			header := strings.TrimRight(headerLine, "\r\n")
			if header == "" {
				break
			}
			if contentLength, err = parseHeader(header, contentLength); err != nil {
				return nil, err
			}
		}

		if contentLength <= 0 {
			return nil, fmt.Errorf("missing Content-Length")
		}
		if contentLength > maxMessageSize {
			return nil, fmt.Errorf("message of %d bytes exceeds limit", contentLength)
		}
		payload := make([]byte, contentLength)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}

func parseHeader(header string, current int) (int, error) {
	if !strings.HasPrefix(strings.ToLower(header), "content-length:") {
		return current, nil
	}
	value := strings.TrimSpace(strings.SplitN(header, ":", 2)[1])
	length, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid Content-Length %q: %w", value, err)
	}
	return length, nil
}
