package main

import (
	"encoding/json"
	"fmt"
	"io"
)

// successPayload and failurePayload are the only two shapes ever written to
// stdout. They are separate types so neither key can be omitted or mixed.
type successPayload struct {
	Code string `json:"code"`
}

type failurePayload struct {
	Error string `json:"error"`
}

// writePayload writes v as a single JSON line.
func writePayload(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	b = append(b, '\n')
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}
