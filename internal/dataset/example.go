package dataset

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Feature keys written by the slim dataset converters.
const (
	KeyImageEncoded = "image/encoded"
	KeyImageFormat  = "image/format"
	KeyClassLabel   = "image/class/label"
	KeyImageHeight  = "image/height"
	KeyImageWidth   = "image/width"
)

// Feature is one value list of a tf.Example.
type Feature struct {
	Bytes [][]byte
	Float []float32
	Int64 []int64
}

// Example is the decoded feature map of a tf.Example message.
type Example map[string]Feature

// DecodeExample parses a serialized tf.Example.
//
//	Example  { Features features = 1; }
//	Features { map<string, Feature> feature = 1; }
//	Feature  { oneof { BytesList = 1; FloatList = 2; Int64List = 3; } }
func DecodeExample(b []byte) (Example, error) {
	ex := Example{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != 1 || typ != protowire.BytesType {
			return nil
		}
		return walkFields(v, func(num protowire.Number, typ protowire.Type, entry []byte) error {
			if num != 1 || typ != protowire.BytesType {
				return nil
			}
			key, feature, err := decodeEntry(entry)
			if err != nil {
				return err
			}
			ex[key] = feature
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode tf.Example")
	}
	return ex, nil
}

func decodeEntry(b []byte) (string, Feature, error) {
	var key string
	var feature Feature
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == 1 && typ == protowire.BytesType:
			key = string(v)
		case num == 2 && typ == protowire.BytesType:
			f, err := decodeFeature(v)
			if err != nil {
				return err
			}
			feature = f
		}
		return nil
	})
	return key, feature, err
}

func decodeFeature(b []byte) (Feature, error) {
	var f Feature
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, list []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			return walkFields(list, func(_ protowire.Number, typ protowire.Type, v []byte) error {
				if typ == protowire.BytesType {
					f.Bytes = append(f.Bytes, append([]byte(nil), v...))
				}
				return nil
			})
		case 2:
			return walkScalars(list, func(typ protowire.Type, raw uint64) {
				if typ == protowire.Fixed32Type {
					f.Float = append(f.Float, math.Float32frombits(uint32(raw)))
				}
			}, protowire.Fixed32Type)
		case 3:
			return walkScalars(list, func(typ protowire.Type, raw uint64) {
				if typ == protowire.VarintType {
					f.Int64 = append(f.Int64, int64(raw))
				}
			}, protowire.VarintType)
		}
		return nil
	})
	return f, err
}

// walkFields iterates the top level fields of a message. Only length
// delimited values are handed to fn; other wire types are skipped.
func walkFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := fn(num, typ, v); err != nil {
				return err
			}
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

// walkScalars reads field 1 of a FloatList or Int64List, packed or not.
func walkScalars(b []byte, fn func(protowire.Type, uint64), elem protowire.Type) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			for len(packed) > 0 {
				raw, m := consumeScalar(elem, packed)
				if m < 0 {
					return protowire.ParseError(m)
				}
				fn(elem, raw)
				packed = packed[m:]
			}
		case num == 1 && typ == elem:
			raw, m := consumeScalar(elem, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			fn(elem, raw)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	return nil
}

func consumeScalar(typ protowire.Type, b []byte) (uint64, int) {
	if typ == protowire.Fixed32Type {
		v, n := protowire.ConsumeFixed32(b)
		return uint64(v), n
	}
	return protowire.ConsumeVarint(b)
}

// Encode serializes ex as a tf.Example. Keys are written in sorted order.
func (ex Example) Encode() []byte {
	keys := make([]string, 0, len(ex))
	for k := range ex {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var features []byte
	for _, k := range keys {
		var entry []byte
		entry = protowire.AppendTag(entry, 1, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, 2, protowire.BytesType)
		entry = protowire.AppendBytes(entry, ex[k].encode())

		features = protowire.AppendTag(features, 1, protowire.BytesType)
		features = protowire.AppendBytes(features, entry)
	}
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.BytesType)
	out = protowire.AppendBytes(out, features)
	return out
}

func (f Feature) encode() []byte {
	var list []byte
	var num protowire.Number
	switch {
	case f.Bytes != nil:
		num = 1
		for _, v := range f.Bytes {
			list = protowire.AppendTag(list, 1, protowire.BytesType)
			list = protowire.AppendBytes(list, v)
		}
	case f.Float != nil:
		num = 2
		var packed []byte
		for _, v := range f.Float {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		list = protowire.AppendTag(list, 1, protowire.BytesType)
		list = protowire.AppendBytes(list, packed)
	default:
		num = 3
		var packed []byte
		for _, v := range f.Int64 {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		list = protowire.AppendTag(list, 1, protowire.BytesType)
		list = protowire.AppendBytes(list, packed)
	}
	var out []byte
	out = protowire.AppendTag(out, num, protowire.BytesType)
	out = protowire.AppendBytes(out, list)
	return out
}

// ImageExample builds the feature map written for one labelled image.
func ImageExample(encoded []byte, format string, height, width, label int) Example {
	return Example{
		KeyImageEncoded: {Bytes: [][]byte{encoded}},
		KeyImageFormat:  {Bytes: [][]byte{[]byte(format)}},
		KeyClassLabel:   {Int64: []int64{int64(label)}},
		KeyImageHeight:  {Int64: []int64{int64(height)}},
		KeyImageWidth:   {Int64: []int64{int64(width)}},
	}
}

// ToRecord extracts the image and label of a slim image example.
func (ex Example) ToRecord(key string) (Record, error) {
	enc := ex[KeyImageEncoded].Bytes
	if len(enc) == 0 {
		return Record{}, errors.Errorf("example %s: missing %s", key, KeyImageEncoded)
	}
	labels := ex[KeyClassLabel].Int64
	if len(labels) == 0 {
		return Record{}, errors.Errorf("example %s: missing %s", key, KeyClassLabel)
	}
	format := "jpeg"
	if f := ex[KeyImageFormat].Bytes; len(f) > 0 {
		format = string(f[0])
	}
	return Record{Key: key, Image: enc[0], Format: format, Label: int(labels[0])}, nil
}
