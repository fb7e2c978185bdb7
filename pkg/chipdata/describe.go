package chipdata

import (
	"fmt"
	"strings"

	"github.com/wikilift/sle-suite-pro/pkg/apdu"
	"github.com/wikilift/sle-suite-pro/pkg/tlv"
)

// Field is one row of the decoded block.
type Field struct {
	Pos   string // byte position, e.g. "B1-H2" or "B8/B12-ICCF"
	Name  string
	Value string
	Desc  string
}

// Fields lists the decoded block in memory order.
func (m *Metadata) Fields() []Field {
	h := m.Header
	mf := m.Manufacturer
	d := m.Directory

	readMode, readDesc := "0", "read to end"
	if h.ReadWithLength() {
		readMode, readDesc = "1", "read with defined length"
	}

	return []Field{
		{"B0-H1", "Protocol Type", fmt.Sprintf("%d", h.ProtocolType()), protocolDesc(h.ProtocolType())},
		{"B0-H1", "Structure", fmt.Sprintf("%02X", h.Structure()), structureDesc(h.Structure())},
		{"B1-H2", "Read Mode", readMode, readDesc},
		{"B1-H2", "Number of data units", fmt.Sprintf("%02X", h.DataUnits()), dataUnitsDesc(h.DataUnits())},
		{"B1-H2", "Length of data unit", fmt.Sprintf("%02X", h.DataUnitLength()), fmt.Sprintf("%d bits", h.DataUnitBits())},
		{"B2-H3", "Category", fmt.Sprintf("%02X", h.H3), ""},
		{"B3-H4", "DIR Data Ref", fmt.Sprintf("%d", h.DIRReference()), ""},

		{"B4-TM", "Manufacturer Tag", fmt.Sprintf("%02X", mf.Tag), ""},
		{"B5-LM", "Length of Manufacturer data", fmt.Sprintf("%02X", mf.Length), ""},
		{"B6-ICM", "IC Manufacturer ID", fmt.Sprintf("%02X", mf.ICVendor), ""},
		{"B7-ICT", "IC Type", fmt.Sprintf("%02X", mf.ICType), ""},
		{"B8/B12-ICCF", "IC Fabrication ID", apdu.FormatHex(mf.FabID), ""},
		{"B13/B16-ICCSN", "IC Serial No", apdu.FormatHex(mf.SerialNum), ""},

		{"B17-TT", "Application Template Tag", fmt.Sprintf("%02X", d.TemplateTag), ""},
		{"B18-LT", "Length of Application Template", fmt.Sprintf("%d", d.TemplateLen), ""},
		{"B19-TA", "AID Tag", fmt.Sprintf("%02X", d.AIDTag), ""},
		{"B20-LA", "Length of AID", fmt.Sprintf("%d", d.AIDLen), ""},
		{"B21/B26-AID", "AID", apdu.FormatHex(d.AID), ""},
		{"B27-TD", "Discretionary Data Tag", fmt.Sprintf("%02X", d.DiscretionaryTag), ""},
		{"B28-LD", "Length of Discretionary Data", fmt.Sprintf("%d", d.DiscretionaryLen), ""},
		{"B29-AP", "Application Personalisation", fmt.Sprintf("%02X", d.Personalisation), ""},
	}
}

// Describe renders the block as a report, one field per line.
func (m *Metadata) Describe() string {
	var sb strings.Builder
	sb.WriteString("=== CHIP DATA ===")

	for _, f := range m.Fields() {
		line := fmt.Sprintf("\n    - [%s] %s: %s", f.Pos, f.Name, f.Value)
		if f.Desc != "" {
			line += " (" + f.Desc + ")"
		}
		sb.WriteString(line)
	}

	if m.Application != nil {
		sb.WriteString("\n=== DIR APPLICATION TEMPLATE (61) ===")
		tlv.WriteStructFields(&sb, "App", m.Application)
	}

	return sb.String()
}

func protocolDesc(p byte) string {
	switch {
	case p <= 7:
		return "reserved for ISO"
	case p == 8:
		return "serial data access"
	case p == 9:
		return "3-wire bus"
	case p == 10:
		return "2-wire bus"
	case p == 15:
		return "RFU"
	default:
		return "not defined"
	}
}

func structureDesc(s byte) string {
	switch s {
	case 0, 4:
		return "reserved for ISO"
	case 2:
		return "general purpose structure"
	case 6:
		return "proprietary structure"
	default:
		return "special application"
	}
}

func dataUnitsDesc(n byte) string {
	switch n {
	case 0:
		return "no indication"
	case 15:
		return "RFU"
	}
	if n <= 6 {
		return fmt.Sprintf("%d", 64<<n)
	}
	return "greater than 4096"
}
