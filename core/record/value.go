package record

import (
	"fmt"
	"path/filepath"
	"time"
)

// Kind discriminates the variants a Value can hold.
type Kind uint8

const (
	// KindNull marks an absent value. Writing it to a field removes the field.
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindTime
	KindAsset
	KindLocation
	KindReference
	KindList
)

var kindNames = map[Kind]string{
	KindNull:      "null",
	KindString:    "string",
	KindInt:       "int",
	KindFloat:     "float",
	KindBool:      "bool",
	KindTime:      "time",
	KindAsset:     "asset",
	KindLocation:  "location",
	KindReference: "reference",
	KindList:      "list",
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func parseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return KindNull, fmt.Errorf("unknown value kind %q", name)
}

// Asset is a location handle for binary content. Path points at a local
// file that has not been uploaded yet; Key is the object key in blob storage.
type Asset struct {
	// Path is the local file path, empty once the asset lives only in storage.
	Path string `json:"path,omitempty"`
	// Key is the storage object key, empty until uploaded.
	Key string `json:"key,omitempty"`
}

// Location is a geographic point in degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Value is an immutable field value. The zero Value is null.
type Value struct {
	kind  Kind
	str   string
	num   int64
	flt   float64
	bln   bool
	tm    time.Time
	asset Asset
	loc   Location
	ref   ID
	list  []Value
}

// Null returns the absent value.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInt, num: i} }

// Float returns a floating-point value.
func Float(f float64) Value { return Value{kind: KindFloat, flt: f} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, bln: b} }

// Time returns a timestamp value.
func Time(t time.Time) Value { return Value{kind: KindTime, tm: t} }

// File returns an asset value backed by a local file that still has to be uploaded.
func File(path string) Value { return Value{kind: KindAsset, asset: Asset{Path: path}} }

// StoredAsset returns an asset value that already lives in blob storage.
func StoredAsset(key string) Value { return Value{kind: KindAsset, asset: Asset{Key: key}} }

// AssetValue wraps an Asset handle.
func AssetValue(a Asset) Value { return Value{kind: KindAsset, asset: a} }

// Point returns a geo-point value.
func Point(lat, lon float64) Value {
	return Value{kind: KindLocation, loc: Location{Latitude: lat, Longitude: lon}}
}

// Ref returns a reference to another record.
func Ref(id ID) Value { return Value{kind: KindReference, ref: id} }

// List returns a list value. The elements are copied.
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is absent.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Typed accessors return false when v holds a different kind.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }
func (v Value) AsInt() (int64, bool) { return v.num, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool) { return v.flt, v.kind == KindFloat }
func (v Value) AsBool() (bool, bool) { return v.bln, v.kind == KindBool }
func (v Value) AsTime() (time.Time, bool) { return v.tm, v.kind == KindTime }
func (v Value) AsAsset() (Asset, bool) { return v.asset, v.kind == KindAsset }
func (v Value) AsLocation() (Location, bool) { return v.loc, v.kind == KindLocation }
func (v Value) AsReference() (ID, bool) { return v.ref, v.kind == KindReference }

// AsList returns a copy of the list elements.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	cp := make([]Value, len(v.list))
	copy(cp, v.list)
	return cp, true
}

// String renders the value for logs.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return fmt.Sprintf("%q", v.str)
	case KindInt:
		return fmt.Sprintf("%d", v.num)
	case KindFloat:
		return fmt.Sprintf("%g", v.flt)
	case KindBool:
		return fmt.Sprintf("%t", v.bln)
	case KindTime:
		return v.tm.Format(time.RFC3339Nano)
	case KindAsset:
		if v.asset.Key != "" {
			return "asset:" + v.asset.Key
		}
		return "file:" + v.asset.Path
	case KindLocation:
		return fmt.Sprintf("(%g,%g)", v.loc.Latitude, v.loc.Longitude)
	case KindReference:
		return "ref:" + v.ref.String()
	case KindList:
		return fmt.Sprintf("list[%d]", len(v.list))
	}
	return v.kind.String()
}

// Equal reports whether a and b hold the same logical value. Values of
// different kinds are never equal; lists compare element-wise.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindString:
		return a.str == b.str
	case KindInt:
		return a.num == b.num
	case KindFloat:
		return a.flt == b.flt
	case KindBool:
		return a.bln == b.bln
	case KindTime:
		return a.tm.Equal(b.tm)
	case KindAsset:
		return a.asset.equal(b.asset)
	case KindLocation:
		return a.loc == b.loc
	case KindReference:
		return a.ref == b.ref
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Uploaded assets compare by storage key, local files by cleaned path.
func (a Asset) equal(b Asset) bool {
	if a.Key != "" || b.Key != "" {
		return a.Key == b.Key
	}
	return filepath.Clean(a.Path) == filepath.Clean(b.Path)
}
