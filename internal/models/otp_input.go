package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// OTPInput accepts the code either as a JSON string ("012345") or as a JSON
// number (12345). Numbers are left-padded to six digits because older clients
// send the code as an integer and lose the leading zeros.
type OTPInput string

func (o *OTPInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*o = OTPInput(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("otp must be a string or a number: %w", err)
	}
	v, err := n.Int64()
	if err != nil || v < 0 {
		return fmt.Errorf("otp must be a non-negative integer")
	}
	*o = OTPInput(fmt.Sprintf("%06d", v))
	return nil
}

func (o OTPInput) String() string { return string(o) }
