package tlv

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"
)

// WriteStructFields writes one report line per populated field of s.
// Lines are joined with newlines without a trailing one. If the builder is
// not empty, a newline separates this block from the previous content.
//
// Supported `fmt` tags on []byte fields: "ascii", "int", "bits". Anything
// else is rendered as upper-case hex.
func WriteStructFields(sb *strings.Builder, prefix string, s interface{}) {
	val := reflect.ValueOf(s)

	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return
		}
		val = val.Elem()
	}

	typ := val.Type()
	var lines []string

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		switch {
		case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.Uint8:
			if line := formatByteSliceField(prefix, field, fieldType); line != "" {
				lines = append(lines, line)
			}
		case field.Type() == reflect.TypeOf([]bertlv.TLV{}):
			lines = append(lines, formatUnknownField(prefix, field)...)
		}
	}

	if len(lines) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(strings.Join(lines, "\n"))
	}
}

func formatByteSliceField(prefix string, field reflect.Value, fieldType reflect.StructField) string {
	if field.IsNil() || field.Len() == 0 {
		return ""
	}

	name := fieldType.Name
	if tag := fieldType.Tag.Get("tlv"); tag != "" {
		name = fmt.Sprintf("%s (%s)", name, tag)
	}

	return fmt.Sprintf("    - %s.%s: %s", prefix, name, formatByteValue(field.Bytes(), fieldType.Tag.Get("fmt")))
}

func formatUnknownField(prefix string, field reflect.Value) []string {
	if field.IsNil() || field.Len() == 0 {
		return nil
	}

	var lines []string
	for _, t := range field.Interface().([]bertlv.TLV) {
		lines = append(lines, fmt.Sprintf("    - %s.Unknown Tag %s: %s", prefix, t.Tag, strings.ToUpper(hex.EncodeToString(t.Value))))
	}
	return lines
}

func formatByteValue(data []byte, format string) string {
	switch format {
	case "ascii":
		return fmt.Sprintf("%X (%q)", data, MakeSafeASCII(data))
	case "int":
		var integer int
		for _, b := range data {
			integer = (integer << 8) | int(b)
		}
		return fmt.Sprintf("%X (Dec: %d)", data, integer)
	case "bits":
		parts := make([]string, len(data))
		for i, b := range data {
			parts[i] = fmt.Sprintf("%08b", b)
		}
		return fmt.Sprintf("%X (%s)", data, strings.Join(parts, " "))
	default:
		return strings.ToUpper(hex.EncodeToString(data))
	}
}

// MakeSafeASCII replaces non-printable bytes with '.', the way memory dumps
// render their ASCII column.
func MakeSafeASCII(data []byte) string {
	out := make([]byte, len(data))
	for i, b := range data {
		if b >= 32 && b <= 126 {
			out[i] = b
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}
