// Package wire holds the CDP envelope types shared by internal/cdpclient.
//
// DAP framing is not reimplemented here: github.com/google/go-dap already
// provides Content-Length-framed read/write helpers, and internal/dapclient
// uses those directly (the same way the rest of the corpus's DAP clients
// do) rather than duplicating them.
package wire

import "encoding/json"

// CDPRequest is a command sent to the inspector: {"id","method","params"}.
type CDPRequest struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// CDPResponse is the reply to a CDPRequest: {"id","result"} or {"id","error"}.
type CDPResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *CDPError       `json:"error,omitempty"`
}

// CDPError is the error shape embedded in a CDPResponse.
type CDPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CDPEvent is an out-of-band notification: {"method","params"}, no id.
type CDPEvent struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Envelope is the minimal shape used to classify an incoming CDP frame
// before unmarshalling into CDPResponse or CDPEvent.
type Envelope struct {
	ID     *int            `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *CDPError       `json:"error,omitempty"`
}

// IsResponse reports whether the envelope carries a request/response id.
func (e Envelope) IsResponse() bool { return e.ID != nil }
