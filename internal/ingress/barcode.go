package ingress

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// BarcodeValue accepts a barcode sent either as a JSON string or a JSON
// number. Numbers keep their literal digits.
type BarcodeValue string

func (b *BarcodeValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = BarcodeValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("barcode must be a string or number")
	}
	*b = BarcodeValue(n.String())
	return nil
}

// SanitizeBarcode strips ASCII control characters and trims surrounding
// whitespace, which scanners in keyboard-wedge mode tend to append.
func SanitizeBarcode(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, raw)
	return strings.TrimSpace(cleaned)
}
