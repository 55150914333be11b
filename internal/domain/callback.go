package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// CallbackPayload is an inbound gateway notification. Known fields are typed;
// anything else the gateway sends is kept in Extra.
type CallbackPayload struct {
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	CollectRequestID string          `json:"collect_request_id"`
	PaymentDetails   json.RawMessage `json:"payment_details,omitempty"`
	BankReference    *string         `json:"bank_reference,omitempty"`
	PaymentMode      *string         `json:"payment_mode,omitempty"`
	PaymentMessage   *string         `json:"payment_message,omitempty"`
	ErrorMessage     *string         `json:"error_message,omitempty"`
	PaymentTime      *time.Time      `json:"payment_time,omitempty"`
	Sign             string          `json:"sign,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var callbackKeys = []string{
	"payment_status", "collect_request_id", "payment_details", "bank_reference",
	"payment_mode", "payment_message", "error_message", "payment_time", "sign",
}

// paymentTimeLayouts are tried in order; RFC 3339 first.
var paymentTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// UnmarshalJSON only fails when data is not a JSON object. The required
// fields must be strings or they stay empty for Validate to reject. Optional
// fields never fail: scalars are stringified into text fields, values that
// cannot be used are kept in Extra.
func (p *CallbackPayload) UnmarshalJSON(data []byte) error {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	var out CallbackPayload
	take := func(key string) (json.RawMessage, bool) {
		raw, ok := all[key]
		delete(all, key)
		return raw, ok && !isNull(raw)
	}
	keep := func(key string, raw json.RawMessage) { all[key] = raw }

	if raw, ok := take("payment_status"); ok {
		var status string
		if json.Unmarshal(raw, &status) == nil {
			out.PaymentStatus = PaymentStatus(status)
		} else {
			keep("payment_status", raw)
		}
	}
	if raw, ok := take("collect_request_id"); ok {
		if json.Unmarshal(raw, &out.CollectRequestID) != nil {
			keep("collect_request_id", raw)
		}
	}
	if raw, ok := take("payment_details"); ok {
		out.PaymentDetails = raw
	}
	for key, field := range map[string]**string{
		"bank_reference":  &out.BankReference,
		"payment_mode":    &out.PaymentMode,
		"payment_message": &out.PaymentMessage,
		"error_message":   &out.ErrorMessage,
	} {
		if raw, ok := take(key); ok {
			if text, ok := scalarText(raw); ok {
				*field = &text
			} else {
				keep(key, raw)
			}
		}
	}
	if raw, ok := take("payment_time"); ok {
		if at, ok := parsePaymentTime(raw); ok {
			out.PaymentTime = &at
		} else {
			keep("payment_time", raw)
		}
	}
	if raw, ok := take("sign"); ok {
		if json.Unmarshal(raw, &out.Sign) != nil {
			keep("sign", raw)
		}
	}

	if len(all) > 0 {
		out.Extra = all
	}
	*p = out
	return nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// scalarText renders a JSON string, number or bool as text.
func scalarText(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch v.(type) {
	case float64, bool:
		return string(bytes.TrimSpace(raw)), true
	}
	return "", false
}

func parsePaymentTime(raw json.RawMessage) (time.Time, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	for _, layout := range paymentTimeLayouts {
		if at, err := time.Parse(layout, s); err == nil {
			return at, true
		}
	}
	return time.Time{}, false
}

func (p CallbackPayload) MarshalJSON() ([]byte, error) {
	type plain CallbackPayload
	known, err := json.Marshal(plain(p))
	if err != nil || len(p.Extra) == 0 {
		return known, err
	}
	merged := make(map[string]json.RawMessage, len(p.Extra)+len(callbackKeys))
	for k, v := range p.Extra {
		merged[k] = v
	}
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	return json.Marshal(merged)
}

// Validate trims the identifying fields and checks the required ones.
func (p *CallbackPayload) Validate() error {
	p.PaymentStatus = PaymentStatus(strings.TrimSpace(string(p.PaymentStatus)))
	p.CollectRequestID = strings.TrimSpace(p.CollectRequestID)
	if p.PaymentStatus == "" || p.CollectRequestID == "" {
		return Validation("missing required callback data: payment_status or collect_request_id")
	}
	return nil
}

// DetailsText renders payment_details as stored text. JSON strings are
// unquoted, other JSON values are kept verbatim. Empty or null yields nil.
func (p CallbackPayload) DetailsText() *string {
	raw := bytes.TrimSpace(p.PaymentDetails)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return &s
	}
	text := string(raw)
	return &text
}
