package blogapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
)

const contentTypeJSON = "application/json"

// Body is a request payload. It is fully buffered so the request can be
// replayed after a token refresh.
type Body interface {
	// contentType returns the Content-Type the payload needs, or "" to
	// fall back to the client's JSON default.
	contentType() string
	bytes() []byte
}

// JSONBody is a pre-encoded JSON payload.
type JSONBody []byte

func (b JSONBody) contentType() string { return "" }
func (b JSONBody) bytes() []byte       { return b }

// EncodeJSON marshals v into a JSONBody.
func EncodeJSON(v any) (JSONBody, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshalling request body: %w", err)
	}

	return JSONBody(payload), nil
}

// Form is a multipart/form-data payload. Requests carrying a Form never get
// the JSON content type; the multipart boundary header is set instead.
type Form struct {
	buf    bytes.Buffer
	writer *multipart.Writer
	closed bool
}

// NewForm starts an empty multipart form.
func NewForm() *Form {
	f := &Form{}
	f.writer = multipart.NewWriter(&f.buf)

	return f
}

// Field appends a plain form field. Repeating a name appends another value.
func (f *Form) Field(name, value string) error {
	if f.closed {
		return fmt.Errorf("form already encoded")
	}

	if err := f.writer.WriteField(name, value); err != nil {
		return fmt.Errorf("writing form field %s: %w", name, err)
	}

	return nil
}

// File appends a file part read from r.
func (f *Form) File(name, filename string, r io.Reader) error {
	if f.closed {
		return fmt.Errorf("form already encoded")
	}

	part, err := f.writer.CreateFormFile(name, filename)
	if err != nil {
		return fmt.Errorf("creating form file %s: %w", name, err)
	}

	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("copying form file %s: %w", name, err)
	}

	return nil
}

// close writes the trailing boundary. Further writes are rejected.
func (f *Form) close() {
	if f.closed {
		return
	}

	f.closed = true
	_ = f.writer.Close()
}

func (f *Form) contentType() string {
	return f.writer.FormDataContentType()
}

func (f *Form) bytes() []byte {
	f.close()
	return f.buf.Bytes()
}
