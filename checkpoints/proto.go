package checkpoints

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire layout of a checkpoint message. Tensors are nested messages with a
// packed shape and packed little-endian float64 data.
const (
	fieldLR        protowire.Number = 1
	fieldBatchSize protowire.Number = 2
	fieldBias      protowire.Number = 3
	fieldBN        protowire.Number = 4
	fieldDropout   protowire.Number = 5
	fieldFeatType  protowire.Number = 6
	fieldTensor    protowire.Number = 7
	fieldUnit      protowire.Number = 8
	fieldStep      protowire.Number = 9
	fieldMetadata  protowire.Number = 10
	fieldLayers    protowire.Number = 11

	tensorName  protowire.Number = 1
	tensorShape protowire.Number = 2
	tensorData  protowire.Number = 3

	metaVersion   protowire.Number = 1
	metaFramework protowire.Number = 2
	metaCreated   protowire.Number = 3
)

// MarshalProto encodes a checkpoint in protobuf wire format
func MarshalProto(c *Checkpoint) ([]byte, error) {
	var b []byte
	b = appendDouble(b, fieldLR, c.LR)
	b = appendVarint(b, fieldBatchSize, uint64(c.BatchSize))
	b = appendBool(b, fieldBias, c.Bias)
	b = appendBool(b, fieldBN, c.BN)
	if c.Dropout != nil {
		b = appendDouble(b, fieldDropout, *c.Dropout)
	}
	b = protowire.AppendTag(b, fieldFeatType, protowire.BytesType)
	b = protowire.AppendString(b, c.FeatType)
	b = appendVarint(b, fieldLayers, uint64(c.Layers))

	for _, w := range c.StateDict {
		n := 1
		for _, d := range w.Shape {
			n *= d
		}
		if len(w.Shape) > 0 && n != len(w.Data) {
			return nil, fmt.Errorf("tensor %s: shape %v holds %d values, got %d", w.Name, w.Shape, n, len(w.Data))
		}
		b = protowire.AppendTag(b, fieldTensor, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalTensor(w))
	}

	b = protowire.AppendTag(b, fieldUnit, protowire.BytesType)
	b = protowire.AppendString(b, c.Unit)
	b = appendVarint(b, fieldStep, uint64(c.Step))

	var m []byte
	m = protowire.AppendTag(m, metaVersion, protowire.BytesType)
	m = protowire.AppendString(m, c.Metadata.Version)
	m = protowire.AppendTag(m, metaFramework, protowire.BytesType)
	m = protowire.AppendString(m, c.Metadata.Framework)
	if !c.Metadata.CreatedAt.IsZero() {
		m = appendVarint(m, metaCreated, uint64(c.Metadata.CreatedAt.UnixNano()))
	}
	b = protowire.AppendTag(b, fieldMetadata, protowire.BytesType)
	b = protowire.AppendBytes(b, m)
	return b, nil
}

func marshalTensor(w WeightTensor) []byte {
	var b []byte
	b = protowire.AppendTag(b, tensorName, protowire.BytesType)
	b = protowire.AppendString(b, w.Name)

	var shape []byte
	for _, d := range w.Shape {
		shape = protowire.AppendVarint(shape, uint64(d))
	}
	b = protowire.AppendTag(b, tensorShape, protowire.BytesType)
	b = protowire.AppendBytes(b, shape)

	data := make([]byte, 0, 8*len(w.Data))
	for _, v := range w.Data {
		data = protowire.AppendFixed64(data, math.Float64bits(v))
	}
	b = protowire.AppendTag(b, tensorData, protowire.BytesType)
	b = protowire.AppendBytes(b, data)
	return b
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

// UnmarshalProto decodes a checkpoint written by MarshalProto. Unknown
// fields are skipped.
func UnmarshalProto(b []byte) (*Checkpoint, error) {
	c := &Checkpoint{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == fieldLR && typ == protowire.Fixed64Type:
			x, _ := protowire.ConsumeFixed64(v)
			c.LR = math.Float64frombits(x)
		case num == fieldBatchSize && typ == protowire.VarintType:
			x, _ := protowire.ConsumeVarint(v)
			c.BatchSize = int(x)
		case num == fieldBias && typ == protowire.VarintType:
			x, _ := protowire.ConsumeVarint(v)
			c.Bias = protowire.DecodeBool(x)
		case num == fieldBN && typ == protowire.VarintType:
			x, _ := protowire.ConsumeVarint(v)
			c.BN = protowire.DecodeBool(x)
		case num == fieldDropout && typ == protowire.Fixed64Type:
			x, _ := protowire.ConsumeFixed64(v)
			d := math.Float64frombits(x)
			c.Dropout = &d
		case num == fieldFeatType && typ == protowire.BytesType:
			s, _ := protowire.ConsumeString(v)
			c.FeatType = s
		case num == fieldLayers && typ == protowire.VarintType:
			x, _ := protowire.ConsumeVarint(v)
			c.Layers = int(x)
		case num == fieldTensor && typ == protowire.BytesType:
			raw, _ := protowire.ConsumeBytes(v)
			w, err := unmarshalTensor(raw)
			if err != nil {
				return err
			}
			c.StateDict = append(c.StateDict, w)
		case num == fieldUnit && typ == protowire.BytesType:
			s, _ := protowire.ConsumeString(v)
			c.Unit = s
		case num == fieldStep && typ == protowire.VarintType:
			x, _ := protowire.ConsumeVarint(v)
			c.Step = int(x)
		case num == fieldMetadata && typ == protowire.BytesType:
			raw, _ := protowire.ConsumeBytes(v)
			return unmarshalMetadata(raw, &c.Metadata)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func unmarshalTensor(b []byte) (WeightTensor, error) {
	var w WeightTensor
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		raw, _ := protowire.ConsumeBytes(v)
		switch num {
		case tensorName:
			w.Name = string(raw)
		case tensorShape:
			for len(raw) > 0 {
				d, n := protowire.ConsumeVarint(raw)
				if n < 0 {
					return fmt.Errorf("tensor shape: %v", protowire.ParseError(n))
				}
				w.Shape = append(w.Shape, int(d))
				raw = raw[n:]
			}
		case tensorData:
			if len(raw)%8 != 0 {
				return fmt.Errorf("tensor %s: data length %d is not a multiple of 8", w.Name, len(raw))
			}
			w.Data = make([]float64, 0, len(raw)/8)
			for len(raw) > 0 {
				x, n := protowire.ConsumeFixed64(raw)
				w.Data = append(w.Data, math.Float64frombits(x))
				raw = raw[n:]
			}
		}
		return nil
	})
	return w, err
}

func unmarshalMetadata(b []byte, m *CheckpointMetadata) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == metaVersion && typ == protowire.BytesType:
			m.Version, _ = protowire.ConsumeString(v)
		case num == metaFramework && typ == protowire.BytesType:
			m.Framework, _ = protowire.ConsumeString(v)
		case num == metaCreated && typ == protowire.VarintType:
			x, _ := protowire.ConsumeVarint(v)
			m.CreatedAt = time.Unix(0, int64(x)).UTC()
		}
		return nil
	})
}

// walk calls fn for each top-level field with the undecoded field value
func walk(b []byte, fn func(protowire.Number, protowire.Type, []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return protowire.ParseError(m)
		}
		if err := fn(num, typ, b[:m]); err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}
