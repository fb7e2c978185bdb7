// Package tlv maps BER-TLV (Basic Encoding Rules - Tag-Length-Value) data
// into Go structures using struct tags.
//
// Memory cards keep their directory data in plain EEPROM, so a TLV block is
// usually followed by erased bytes (FF) or zero fill. Unmarshal trims that
// padding before decoding.
package tlv

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"
)

// Unmarshaler allows custom types to implement their own TLV parsing logic.
type Unmarshaler interface {
	UnmarshalTLV(data []byte) error
}

// TrimPadding drops trailing erased (FF) and zero bytes.
func TrimPadding(data []byte) []byte {
	end := len(data)
	for end > 0 && (data[end-1] == 0xFF || data[end-1] == 0x00) {
		end--
	}
	return data[:end]
}

// Decode trims the EEPROM padding and decodes the remaining BER-TLV objects.
func Decode(data []byte) ([]bertlv.TLV, error) {
	trimmed := TrimPadding(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("no TLV data")
	}
	packets, err := bertlv.Decode(trimmed)
	if err != nil {
		return nil, fmt.Errorf("bertlv decode failed: %w", err)
	}
	return packets, nil
}

// Unmarshal parses raw BER-TLV data and maps it into a target Go struct.
func Unmarshal(data []byte, target interface{}) error {
	packets, err := Decode(data)
	if err != nil {
		return err
	}
	return UnmarshalFromPackets(packets, target)
}

// UnmarshalFromPackets maps a slice of pre-decoded bertlv.TLV objects to a target struct.
// It supports multiple occurrences of the same tag if the target field is a slice.
func UnmarshalFromPackets(packets []bertlv.TLV, target interface{}) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("target must be a non-nil pointer")
	}
	v = v.Elem()
	t := v.Type()

	consumed := make(map[int]bool)

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		tagConfig := fieldType.Tag.Get("tlv")

		if tagConfig == "" || isUnknownField(fieldType) {
			continue
		}

		tagHex := strings.ToUpper(strings.Split(tagConfig, ",")[0])

		for idx, packet := range packets {
			if strings.ToUpper(packet.Tag) != tagHex {
				continue
			}
			if err := mapPacketToField(packet, field); err != nil {
				return fmt.Errorf("tag %s: %w", tagHex, err)
			}
			consumed[idx] = true
		}
	}

	return collectUnknown(v, t, packets, consumed)
}

func mapPacketToField(packet bertlv.TLV, field reflect.Value) error {
	// Repeated tags grow a slice of structs, []byte stays a leaf.
	if field.Kind() == reflect.Slice && !isByteSlice(field) {
		elem := reflect.New(field.Type().Elem()).Elem()
		if err := decodeToValue(packet, elem); err != nil {
			return err
		}
		field.Set(reflect.Append(field, elem))
		return nil
	}

	return decodeToValue(packet, field)
}

func decodeToValue(packet bertlv.TLV, field reflect.Value) error {
	if field.CanAddr() {
		if u, ok := field.Addr().Interface().(Unmarshaler); ok {
			return u.UnmarshalTLV(rawValue(packet))
		}
	}

	switch {
	case isByteSlice(field):
		field.SetBytes(rawValue(packet))
	case field.Kind() == reflect.String:
		field.SetString(hex.EncodeToString(packet.Value))
	case field.Kind() == reflect.Uint8 && len(packet.Value) == 1:
		field.SetUint(uint64(packet.Value[0]))
	case isStructOrPtrToStruct(field):
		target := addressable(field)
		if len(packet.TLVs) > 0 {
			return UnmarshalFromPackets(packet.TLVs, target.Interface())
		}
		return Unmarshal(packet.Value, target.Interface())
	}

	return nil
}

func collectUnknown(v reflect.Value, t reflect.Type, packets []bertlv.TLV, consumed map[int]bool) error {
	for i := 0; i < v.NumField(); i++ {
		if !isUnknownField(t.Field(i)) {
			continue
		}
		var leftovers []bertlv.TLV
		for idx, packet := range packets {
			if !consumed[idx] {
				leftovers = append(leftovers, packet)
			}
		}
		if len(leftovers) > 0 {
			v.Field(i).Set(reflect.ValueOf(leftovers))
		}
		return nil
	}
	return nil
}

func isUnknownField(f reflect.StructField) bool {
	return f.Tag.Get("tlv") == ",unknown" || f.Name == "Unknown"
}

func rawValue(p bertlv.TLV) []byte {
	if len(p.TLVs) > 0 {
		if enc, err := bertlv.Encode(p.TLVs); err == nil {
			return enc
		}
	}
	return p.Value
}

func isByteSlice(v reflect.Value) bool {
	return v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8
}

func isStructOrPtrToStruct(v reflect.Value) bool {
	if v.Kind() == reflect.Struct {
		return true
	}
	return v.Kind() == reflect.Ptr && v.Type().Elem().Kind() == reflect.Struct
}

func addressable(field reflect.Value) reflect.Value {
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		return field
	}
	return field.Addr()
}
