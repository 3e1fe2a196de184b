package authapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func decodeJSON(r io.Reader, maxBytes int64, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r, maxBytes))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there is no extra data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}

// statusError builds a StatusError from a non-2xx response. Bodies that are
// not the backend's error envelope keep the HTTP status text.
func statusError(resp *http.Response, maxBytes int64) *StatusError {
	se := &StatusError{Status: resp.StatusCode, Code: strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))}
	var body errorResponse
	if err := decodeJSON(resp.Body, maxBytes, &body); err == nil && body.Error.Code != "" {
		se.Code = body.Error.Code
		se.Message = body.Error.Message
	}
	return se
}

func marshalBody(v any) (io.Reader, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return bytes.NewReader(b), nil
}
