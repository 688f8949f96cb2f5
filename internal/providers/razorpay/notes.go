package razorpay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var errNotes = errors.New("notes must be an object or an empty array")

// notes is Razorpay's key/value annotation field. The API encodes an empty
// set as [] and may return non-string values.
type notes map[string]string

func (n *notes) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(b, &arr); err != nil || len(arr) > 0 {
			return errNotes
		}
		return nil
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	out := make(notes, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	*n = out
	return nil
}
