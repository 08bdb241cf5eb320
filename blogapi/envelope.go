package blogapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// envelopeFailureMessage is used when an envelope reports success=false
// without an error message.
const envelopeFailureMessage = "API request failed"

// Meta is the pagination block some list endpoints attach to the envelope.
type Meta struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// Result is the unwrapped payload of a successful request. Data is the
// envelope's data member, or the whole body for endpoints that do not use
// the envelope.
type Result struct {
	StatusCode int
	Data       json.RawMessage
	Meta       *Meta
}

// Decode unmarshals Data into out. A nil out is a no-op.
func (r *Result) Decode(out any) error {
	if out == nil {
		return nil
	}

	if err := json.Unmarshal(r.Data, out); err != nil {
		return fmt.Errorf("decoding response data: %w", err)
	}

	return nil
}

// emptyResult is what a 204 yields: an empty object, never a parsed body.
func emptyResult() *Result {
	return &Result{StatusCode: http.StatusNoContent, Data: json.RawMessage(`{}`)}
}

// truthy mirrors how the API's JavaScript consumers test envelope fields:
// null, false, 0 and "" are all false.
func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	default:
		return true
	}
}

// errorFromBody builds the error for a non-2xx response. The message comes
// from error.message, then message, then the status text.
func errorFromBody(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var parsed gjson.Result
	if gjson.ValidBytes(body) {
		parsed = gjson.ParseBytes(body)
	}

	if e := parsed.Get("error"); truthy(e) {
		apiErr.Code = e.Get("code").String()
		apiErr.Message = e.Get("message").String()
	} else {
		apiErr.Message = parsed.Get("message").String()
	}

	if apiErr.Message == "" {
		apiErr.Message = genericStatusMessage(http.StatusText(status))
	}

	return apiErr
}

// unwrapBody interprets a 2xx body. Objects carrying both success and data
// are treated as envelopes; anything else is passed through untouched.
func unwrapBody(status int, body []byte) (*Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrMalformedResponse
	}

	parsed := gjson.ParseBytes(body)

	success := parsed.Get("success")
	data := parsed.Get("data")

	if !parsed.IsObject() || !success.Exists() || !data.Exists() {
		return &Result{StatusCode: status, Data: json.RawMessage(body)}, nil
	}

	if !truthy(success) {
		apiErr := &APIError{
			StatusCode: status,
			Code:       parsed.Get("error.code").String(),
			Message:    parsed.Get("error.message").String(),
		}
		if apiErr.Message == "" {
			apiErr.Message = envelopeFailureMessage
		}

		return nil, apiErr
	}

	result := &Result{StatusCode: status, Data: json.RawMessage(data.Raw)}

	if m := parsed.Get("meta"); m.IsObject() {
		var meta Meta
		if err := json.Unmarshal([]byte(m.Raw), &meta); err == nil {
			result.Meta = &meta
		}
	}

	return result, nil
}
