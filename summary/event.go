package summary

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// TensorBoard Event proto field numbers
const (
	eventWallTime    protowire.Number = 1
	eventStep        protowire.Number = 2
	eventFileVersion protowire.Number = 3
	eventSummary     protowire.Number = 5

	summaryValue protowire.Number = 1

	valueTag    protowire.Number = 1
	valueSimple protowire.Number = 2
	valueImage  protowire.Number = 4

	imageHeight     protowire.Number = 1
	imageWidth      protowire.Number = 2
	imageColorspace protowire.Number = 3
	imageEncoded    protowire.Number = 4
)

// FileVersion is the header event of every events file
const FileVersion = "brain.Event:2"

// ErrCorruptRecord is returned when a record checksum does not match
var ErrCorruptRecord = errors.New("corrupt record")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// maskedCRC is the TFRecord checksum of data
func maskedCRC(data []byte) uint32 {
	crc := crc32.Checksum(data, castagnoli)
	return ((crc >> 15) | (crc << 17)) + 0xa282ead8
}

// Image is an encoded summary image
type Image struct {
	Height     int
	Width      int
	Colorspace int
	Encoded    []byte
}

// Value is one tagged summary value, either a scalar or an image
type Value struct {
	Tag    string
	Simple float32
	Image  *Image
}

// Event is one record of an events file
type Event struct {
	WallTime    float64
	Step        int64
	FileVersion string
	Values      []Value
}

// Marshal encodes the event in protobuf wire format
func (e *Event) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, eventWallTime, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(e.WallTime))
	if e.Step != 0 {
		b = protowire.AppendTag(b, eventStep, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.Step))
	}
	if e.FileVersion != "" {
		b = protowire.AppendTag(b, eventFileVersion, protowire.BytesType)
		b = protowire.AppendString(b, e.FileVersion)
	}
	if len(e.Values) > 0 {
		var s []byte
		for _, v := range e.Values {
			s = protowire.AppendTag(s, summaryValue, protowire.BytesType)
			s = protowire.AppendBytes(s, v.marshal())
		}
		b = protowire.AppendTag(b, eventSummary, protowire.BytesType)
		b = protowire.AppendBytes(b, s)
	}
	return b
}

func (v Value) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, valueTag, protowire.BytesType)
	b = protowire.AppendString(b, v.Tag)
	if v.Image != nil {
		var img []byte
		img = protowire.AppendTag(img, imageHeight, protowire.VarintType)
		img = protowire.AppendVarint(img, uint64(v.Image.Height))
		img = protowire.AppendTag(img, imageWidth, protowire.VarintType)
		img = protowire.AppendVarint(img, uint64(v.Image.Width))
		img = protowire.AppendTag(img, imageColorspace, protowire.VarintType)
		img = protowire.AppendVarint(img, uint64(v.Image.Colorspace))
		img = protowire.AppendTag(img, imageEncoded, protowire.BytesType)
		img = protowire.AppendBytes(img, v.Image.Encoded)
		b = protowire.AppendTag(b, valueImage, protowire.BytesType)
		return protowire.AppendBytes(b, img)
	}
	b = protowire.AppendTag(b, valueSimple, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v.Simple))
}

// UnmarshalEvent decodes one event record
func UnmarshalEvent(b []byte) (*Event, error) {
	e := &Event{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == eventWallTime && typ == protowire.Fixed64Type:
			x, _ := protowire.ConsumeFixed64(v)
			e.WallTime = math.Float64frombits(x)
		case num == eventStep && typ == protowire.VarintType:
			x, _ := protowire.ConsumeVarint(v)
			e.Step = int64(x)
		case num == eventFileVersion && typ == protowire.BytesType:
			e.FileVersion, _ = protowire.ConsumeString(v)
		case num == eventSummary && typ == protowire.BytesType:
			raw, _ := protowire.ConsumeBytes(v)
			return walk(raw, func(num protowire.Number, typ protowire.Type, v []byte) error {
				if num != summaryValue || typ != protowire.BytesType {
					return nil
				}
				raw, _ := protowire.ConsumeBytes(v)
				val, err := unmarshalValue(raw)
				if err != nil {
					return err
				}
				e.Values = append(e.Values, val)
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func unmarshalValue(b []byte) (Value, error) {
	var val Value
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == valueTag && typ == protowire.BytesType:
			val.Tag, _ = protowire.ConsumeString(v)
		case num == valueSimple && typ == protowire.Fixed32Type:
			x, _ := protowire.ConsumeFixed32(v)
			val.Simple = math.Float32frombits(x)
		case num == valueImage && typ == protowire.BytesType:
			raw, _ := protowire.ConsumeBytes(v)
			img := &Image{}
			err := walk(raw, func(num protowire.Number, typ protowire.Type, v []byte) error {
				if typ == protowire.BytesType && num == imageEncoded {
					img.Encoded, _ = protowire.ConsumeBytes(v)
					return nil
				}
				if typ != protowire.VarintType {
					return nil
				}
				x, _ := protowire.ConsumeVarint(v)
				switch num {
				case imageHeight:
					img.Height = int(x)
				case imageWidth:
					img.Width = int(x)
				case imageColorspace:
					img.Colorspace = int(x)
				}
				return nil
			})
			if err != nil {
				return err
			}
			val.Image = img
		}
		return nil
	})
	return val, err
}

func walk(b []byte, fn func(protowire.Number, protowire.Type, []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("invalid tag: %v", protowire.ParseError(n))
		}
		m := protowire.ConsumeFieldValue(num, typ, b[n:])
		if m < 0 {
			return fmt.Errorf("invalid field %d: %v", num, protowire.ParseError(m))
		}
		if err := fn(num, typ, b[n:n+m]); err != nil {
			return err
		}
		b = b[n+m:]
	}
	return nil
}

// writeRecord frames data as one TFRecord:
//
//	uint64 length, uint32 masked crc(length), data, uint32 masked crc(data)
func writeRecord(w io.Writer, data []byte) error {
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(header[8:], maskedCRC(header[:8]))
	var footer [4]byte
	binary.LittleEndian.PutUint32(footer[:], maskedCRC(data))

	for _, chunk := range [][]byte{header[:], data, footer[:]} {
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

// ReadRecords reads every TFRecord of r, verifying both checksums
func ReadRecords(r io.Reader) ([][]byte, error) {
	br := bufio.NewReader(r)
	var records [][]byte
	for {
		var header [12]byte
		if _, err := io.ReadFull(br, header[:]); err != nil {
			if err == io.EOF {
				return records, nil
			}
			return records, fmt.Errorf("failed to read record header: %w", err)
		}
		if maskedCRC(header[:8]) != binary.LittleEndian.Uint32(header[8:]) {
			return records, fmt.Errorf("%w: length checksum", ErrCorruptRecord)
		}
		n := binary.LittleEndian.Uint64(header[:8])
		data := make([]byte, n+4)
		if _, err := io.ReadFull(br, data); err != nil {
			return records, fmt.Errorf("failed to read record body: %w", err)
		}
		if maskedCRC(data[:n]) != binary.LittleEndian.Uint32(data[n:]) {
			return records, fmt.Errorf("%w: data checksum", ErrCorruptRecord)
		}
		records = append(records, data[:n])
	}
}

// ReadEvents decodes every event of an events stream
func ReadEvents(r io.Reader) ([]*Event, error) {
	records, err := ReadRecords(r)
	if err != nil {
		return nil, err
	}
	events := make([]*Event, 0, len(records))
	for i, rec := range records {
		e, err := UnmarshalEvent(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		events = append(events, e)
	}
	return events, nil
}
