package domain

import (
	"encoding/json"
	"strings"
)

// placeholderOrderCode is what the backend stores before a carrier code is assigned
const placeholderOrderCode = "string"

// CarrierCode is an optional carrier-assigned order code.
// The zero value means no shipment has been created with the carrier yet.
type CarrierCode struct {
	value string
}

// ParseCarrierCode converts a raw backend value; "" and the backend placeholder are absent.
func ParseCarrierCode(raw string) CarrierCode {
	v := strings.TrimSpace(raw)
	if v == "" || v == placeholderOrderCode {
		return CarrierCode{}
	}
	return CarrierCode{value: v}
}

// Get returns the code and whether it is present
func (c CarrierCode) Get() (string, bool) {
	return c.value, c.value != ""
}

// IsSet reports whether the carrier code was assigned
func (c CarrierCode) IsSet() bool {
	return c.value != ""
}

func (c CarrierCode) String() string {
	return c.value
}

func (c CarrierCode) MarshalJSON() ([]byte, error) {
	if c.value == "" {
		return []byte("null"), nil
	}
	return json.Marshal(c.value)
}
