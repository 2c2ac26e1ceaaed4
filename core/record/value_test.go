package record_test

import (
	"encoding/json"
	"testing"
	"time"

	"record-sync/core/record"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqual(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	idA := record.ID{Zone: "default", Name: "a"}
	idB := record.ID{Zone: "default", Name: "b"}

	tests := []struct {
		name string
		a    record.Value
		b    record.Value
		want bool
	}{
		{"NullNull", record.Null(), record.Null(), true},
		{"NullVsString", record.Null(), record.String(""), false},
		{"SameString", record.String("x"), record.String("x"), true},
		{"DifferentString", record.String("x"), record.String("y"), false},
		{"SameInt", record.Int(10), record.Int(10), true},
		{"IntVsFloat", record.Int(10), record.Float(10), false},
		{"SameFloat", record.Float(1.5), record.Float(1.5), true},
		{"Bool", record.Bool(true), record.Bool(false), false},
		{"SameInstantDifferentZone", record.Time(now), record.Time(now.In(time.FixedZone("X", 3600))), true},
		{"DifferentTime", record.Time(now), record.Time(now.Add(time.Second)), false},
		{"FileCleanedPath", record.File("/tmp/a/../b.png"), record.File("/tmp/b.png"), true},
		{"StoredAssetKey", record.StoredAsset("k1"), record.StoredAsset("k1"), true},
		{"UploadedVsStored", record.AssetValue(record.Asset{Path: "/tmp/b.png", Key: "k1"}), record.StoredAsset("k1"), true},
		{"FileVsStored", record.File("/tmp/b.png"), record.StoredAsset("k1"), false},
		{"Point", record.Point(1, 2), record.Point(1, 2), true},
		{"PointDiffers", record.Point(1, 2), record.Point(2, 1), false},
		{"SameRef", record.Ref(idA), record.Ref(idA), true},
		{"DifferentRef", record.Ref(idA), record.Ref(idB), false},
		{"ListElementWise", record.List(record.Int(1), record.Ref(idA)), record.List(record.Int(1), record.Ref(idA)), true},
		{"ListOrderMatters", record.List(record.Int(1), record.Int(2)), record.List(record.Int(2), record.Int(1)), false},
		{"ListLength", record.List(record.Int(1)), record.List(record.Int(1), record.Int(1)), false},
		{"EmptyLists", record.List(), record.List(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, record.Equal(tt.a, tt.b))
			assert.Equal(t, tt.want, record.Equal(tt.b, tt.a))
		})
	}
}

func TestValueJSON(t *testing.T) {
	id := record.ID{Zone: "z", Name: "n"}
	original := record.List(
		record.String("s"),
		record.Int(7),
		record.Time(time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)),
		record.Ref(id),
		record.StoredAsset("blob"),
		record.Point(48.1, 11.5),
	)

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded record.Value
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, record.Equal(original, decoded))

	t.Run("UnknownKind", func(t *testing.T) {
		var v record.Value
		err := json.Unmarshal([]byte(`{"kind":"blob","value":1}`), &v)
		assert.Error(t, err)
	})

	t.Run("Null", func(t *testing.T) {
		var v record.Value
		require.NoError(t, json.Unmarshal([]byte(`{"kind":"null"}`), &v))
		assert.True(t, v.IsNull())
	})
}

func TestRecord(t *testing.T) {
	t.Run("SetNullRemoves", func(t *testing.T) {
		r := record.New("Order", record.ID{Zone: "z", Name: "o1"})
		r.Set("total", record.Int(10))
		r.Set("total", record.Null())
		assert.NotContains(t, r.Fields, "total")
	})

	t.Run("CloneIsIndependent", func(t *testing.T) {
		parent := record.ID{Zone: "z", Name: "p"}
		r := record.New("Order", record.ID{Zone: "z", Name: "o1"})
		r.Parent = &parent
		r.Set("total", record.Int(10))

		cp := r.Clone()
		cp.Set("total", record.Int(11))
		cp.Parent.Name = "other"

		assert.True(t, record.Equal(record.Int(10), r.Get("total")))
		assert.Equal(t, "p", r.Parent.Name)
	})

	t.Run("ChildIDs", func(t *testing.T) {
		c1 := record.ID{Zone: "z", Name: "c1"}
		c2 := record.ID{Zone: "z", Name: "c2"}
		r := record.New("Order", record.ID{Zone: "z", Name: "o1"})
		r.Set(record.ChildrenField, record.List(record.Ref(c1), record.Ref(c2)))
		assert.Equal(t, []record.ID{c1, c2}, r.ChildIDs())
	})

	t.Run("ParseID", func(t *testing.T) {
		id, err := record.ParseID("default/o1")
		require.NoError(t, err)
		assert.Equal(t, record.ID{Zone: "default", Name: "o1"}, id)

		_, err = record.ParseID("nozone")
		assert.Error(t, err)
	})

	t.Run("DeviceField", func(t *testing.T) {
		assert.True(t, record.IsDeviceField("device_cursor"))
		assert.False(t, record.IsDeviceField("total"))
	})
}
