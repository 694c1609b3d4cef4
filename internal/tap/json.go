package tap

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// DecodeJSON decodes an API payload keeping numbers as json.Number so that
// identifiers format exactly as the API sent them.
func DecodeJSON(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

// IDString renders an identifier field as a string. Numbers keep their exact
// textual form; absent, null and empty values report false.
func IDString(v any) (string, bool) {
	switch id := v.(type) {
	case json.Number:
		return id.String(), id != ""
	case string:
		return id, id != ""
	case int:
		return fmt.Sprint(id), true
	case int64:
		return fmt.Sprint(id), true
	case float64:
		return fmt.Sprintf("%.0f", id), true
	default:
		return "", false
	}
}
