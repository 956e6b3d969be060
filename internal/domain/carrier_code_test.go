package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCarrierCode(t *testing.T) {
	for _, raw := range []string{"", "string", "  ", " string "} {
		code := ParseCarrierCode(raw)
		assert.False(t, code.IsSet(), "raw %q", raw)
		_, ok := code.Get()
		assert.False(t, ok)
	}

	code := ParseCarrierCode(" LBK7XY ")
	v, ok := code.Get()
	assert.True(t, ok)
	assert.Equal(t, "LBK7XY", v)
}

func TestCarrierCode_MarshalJSON(t *testing.T) {
	out, err := json.Marshal(struct {
		Code CarrierCode `json:"code"`
	}{Code: ParseCarrierCode("string")})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"code":null}`, string(out))

	out, err = json.Marshal(ParseCarrierCode("GHN1"))
	assert.NoError(t, err)
	assert.Equal(t, `"GHN1"`, string(out))
}

func TestParseShipmentLeg(t *testing.T) {
	leg, ok := ParseShipmentLeg(" Pick-Up ")
	assert.True(t, ok)
	assert.Equal(t, LegPickup, leg)

	_, ok = ParseShipmentLeg("air freight")
	assert.False(t, ok)
}

func TestParseActionKind(t *testing.T) {
	kind, ok := ParseActionKind("confirm-received")
	assert.True(t, ok)
	assert.Equal(t, ActionConfirmReceived, kind)

	_, ok = ParseActionKind("teleport")
	assert.False(t, ok)
}
