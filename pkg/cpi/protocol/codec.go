package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxMessageSize bounds a single request or response.
const MaxMessageSize = 10 * 1024 * 1024 // 10 MB

// ErrEmpty is returned when the stream ends without a message.
var ErrEmpty = errors.New("empty message")

// Encoder writes protocol messages to an io.Writer.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates a new protocol encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w: bufio.NewWriter(w),
	}
}

func (e *Encoder) encode(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return nil
}

// EncodeRequest writes a request.
func (e *Encoder) EncodeRequest(req *Request) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return e.encode(req)
}

// EncodeResponse writes a response.
func (e *Encoder) EncodeResponse(resp *Response) error {
	return e.encode(resp)
}

// Decoder reads one protocol message from an io.Reader.
type Decoder struct {
	r io.Reader
}

// NewDecoder creates a new protocol decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

func (d *Decoder) read() ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(d.r, MaxMessageSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("message exceeds %d bytes", MaxMessageSize)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	return data, nil
}

// DecodeRequest reads and validates a request.
func (d *Decoder) DecodeRequest() (*Request, error) {
	data, err := d.read()
	if err != nil {
		return nil, err
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}

	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	return &req, nil
}

// DecodeResponse reads a response. At least one of the result and error
// fields must be present; a missing one reads as null.
func (d *Decoder) DecodeResponse() (*Response, error) {
	data, err := d.read()
	if err != nil {
		return nil, err
	}
	return ParseResponse(data)
}

// ParseResponse parses a complete response document.
func ParseResponse(data []byte) (*Response, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	_, hasResult := fields["result"]
	_, hasError := fields["error"]
	if !hasResult && !hasError {
		return nil, fmt.Errorf("response has neither %q nor %q", "result", "error")
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &resp, nil
}
