package gas

import (
	"encoding/json"
	"strings"
)

// Mode selects the operation on the deployment endpoint.
type Mode string

const (
	ModeSlots    Mode = "slots"
	ModeBook     Mode = "book"
	ModeRegister Mode = "register"
	ModeRequest  Mode = "request"
)

// StatusOK is the only status value the endpoint uses for success.
const StatusOK = "ok"

// RawSlot is a slot as published by the endpoint. EndISO and Label are optional.
type RawSlot struct {
	StartISO string `json:"startISO"`
	EndISO   string `json:"endISO,omitempty"`
	Label    string `json:"label,omitempty"`
}

// Response is the verdict payload returned by the POST modes.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// OK reports whether the endpoint accepted the request.
func (r Response) OK() bool {
	return r.Status == StatusOK
}

// Identity holds the contact fields sent with every POST mode.
type Identity struct {
	Name     string
	Furigana string
	Email    string
	Tel      string
}

// decodeSlots validates the slot list element by element. Elements that are not
// objects or carry no string startISO are dropped; non-string optional fields are
// defaulted to empty.
func decodeSlots(items []json.RawMessage) []RawSlot {
	out := make([]RawSlot, 0, len(items))
	for _, item := range items {
		var fields map[string]any
		if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
			continue
		}
		start, ok := fields["startISO"].(string)
		if !ok || strings.TrimSpace(start) == "" {
			continue
		}
		end, _ := fields["endISO"].(string)
		label, _ := fields["label"].(string)
		out = append(out, RawSlot{
			StartISO: strings.TrimSpace(start),
			EndISO:   strings.TrimSpace(end),
			Label:    label,
		})
	}
	return out
}

// decodeResponse reads a verdict payload. A non-string status is treated as missing,
// which callers interpret as a rejection.
func decodeResponse(data []byte) (Response, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return Response{}, err
	}
	status, _ := fields["status"].(string)
	message, _ := fields["message"].(string)
	return Response{Status: status, Message: message}, nil
}
