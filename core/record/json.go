package record

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireValue is the tagged JSON shape of a Value: {"kind": "...", "value": ...}.
type wireValue struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes the value with its kind tag.
func (v Value) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.kind {
	case KindNull:
		return json.Marshal(wireValue{Kind: KindNull.String()})
	case KindString:
		payload = v.str
	case KindInt:
		payload = v.num
	case KindFloat:
		payload = v.flt
	case KindBool:
		payload = v.bln
	case KindTime:
		payload = v.tm.UTC().Format(time.RFC3339Nano)
	case KindAsset:
		payload = v.asset
	case KindLocation:
		payload = v.loc
	case KindReference:
		payload = v.ref
	case KindList:
		payload = v.list
	default:
		return nil, fmt.Errorf("cannot encode value of %s", v.kind)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s value: %w", v.kind, err)
	}
	return json.Marshal(wireValue{Kind: v.kind.String(), Value: raw})
}

// UnmarshalJSON decodes a kind-tagged value.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("failed to decode value: %w", err)
	}
	kind, err := parseKind(w.Kind)
	if err != nil {
		return err
	}

	out := Value{kind: kind}
	switch kind {
	case KindNull:
	case KindString:
		err = json.Unmarshal(w.Value, &out.str)
	case KindInt:
		err = json.Unmarshal(w.Value, &out.num)
	case KindFloat:
		err = json.Unmarshal(w.Value, &out.flt)
	case KindBool:
		err = json.Unmarshal(w.Value, &out.bln)
	case KindTime:
		var s string
		if err = json.Unmarshal(w.Value, &s); err == nil {
			out.tm, err = time.Parse(time.RFC3339Nano, s)
		}
	case KindAsset:
		err = json.Unmarshal(w.Value, &out.asset)
	case KindLocation:
		err = json.Unmarshal(w.Value, &out.loc)
	case KindReference:
		err = json.Unmarshal(w.Value, &out.ref)
	case KindList:
		err = json.Unmarshal(w.Value, &out.list)
	}
	if err != nil {
		return fmt.Errorf("failed to decode %s value: %w", kind, err)
	}

	*v = out
	return nil
}
