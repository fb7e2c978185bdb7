/*
Package chipdata decodes the identification block that SLE4442/5542 cards
carry in the first 30 bytes of main memory (ISO/IEC 7816-10 synchronous card
ATR followed by the manufacturer and DIR data).

# Layout

	Byte 0-3   H1..H4 header
	           H1 bits 8-5: protocol type, bits 3-1: structure
	           H2 bit 8: read mode, bits 7-4: number of data units,
	              bits 3-1: data unit length (2^n bits)
	           H3: category, H4 bits 7-1: DIR data reference
	Byte 4-16  manufacturer block
	           tag, length, IC manufacturer, IC type, fab id (5), serial (4)
	Byte 17-29 DIR data: application template (tag 61)
	           4F <6-byte AID>, 53 <application personalisation>
*/
package chipdata

import (
	"fmt"

	"github.com/moov-io/bertlv"
	"github.com/wikilift/sle-suite-pro/pkg/bits"
	"github.com/wikilift/sle-suite-pro/pkg/tlv"
)

// Size is the number of memory bytes the block spans.
const Size = 30

// Header holds the four ISO 7816-10 header bytes.
type Header struct {
	H1, H2, H3, H4 byte
}

// ProtocolType returns H1 bits 8-5.
func (h Header) ProtocolType() byte { return bits.GetRange(h.H1, 8, 5) }

// Structure returns H1 bits 3-1.
func (h Header) Structure() byte { return bits.GetRange(h.H1, 3, 1) }

// ReadWithLength reports H2 bit 8: read with a defined length instead of to the end.
func (h Header) ReadWithLength() bool { return bits.IsSet(h.H2, 8) }

// DataUnits returns the H2 bits 7-4 code of the memory size.
func (h Header) DataUnits() byte { return bits.GetRange(h.H2, 7, 4) }

// DataUnitLength returns H2 bits 3-1.
func (h Header) DataUnitLength() byte { return bits.GetRange(h.H2, 3, 1) }

// DataUnitBits returns the data unit length in bits.
func (h Header) DataUnitBits() int { return 1 << h.DataUnitLength() }

// DIRReference returns H4 bits 7-1.
func (h Header) DIRReference() byte { return bits.GetRange(h.H4, 7, 1) }

// Manufacturer is the IC manufacturer block.
type Manufacturer struct {
	Tag       byte
	Length    byte
	ICVendor  byte
	ICType    byte
	FabID     []byte
	SerialNum []byte
}

// Directory is the raw DIR data block.
type Directory struct {
	TemplateTag      byte
	TemplateLen      byte
	AIDTag           byte
	AIDLen           byte
	AID              []byte
	DiscretionaryTag byte
	DiscretionaryLen byte
	Personalisation  byte
}

// ApplicationTemplate is the BER-TLV view of the DIR data (tag '61').
type ApplicationTemplate struct {
	AID           []byte `tlv:"4F"`
	Label         []byte `tlv:"50" fmt:"ascii"`
	Discretionary []byte `tlv:"53"`

	Unknown []bertlv.TLV `tlv:",unknown"`
}

// Metadata is the decoded identification block.
type Metadata struct {
	Header       Header
	Manufacturer Manufacturer
	Directory    Directory

	// Application is set when the DIR bytes form a valid template.
	Application *ApplicationTemplate
}

// Decode parses the first Size bytes of a memory image.
func Decode(mem []byte) (*Metadata, error) {
	if len(mem) < Size {
		return nil, fmt.Errorf("chip data needs %d bytes, memory image has %d", Size, len(mem))
	}

	m := &Metadata{
		Header: Header{H1: mem[0], H2: mem[1], H3: mem[2], H4: mem[3]},
		Manufacturer: Manufacturer{
			Tag:       mem[4],
			Length:    mem[5],
			ICVendor:  mem[6],
			ICType:    mem[7],
			FabID:     append([]byte(nil), mem[8:13]...),
			SerialNum: append([]byte(nil), mem[13:17]...),
		},
		Directory: Directory{
			TemplateTag:      mem[17],
			TemplateLen:      mem[18],
			AIDTag:           mem[19],
			AIDLen:           mem[20],
			AID:              append([]byte(nil), mem[21:27]...),
			DiscretionaryTag: mem[27],
			DiscretionaryLen: mem[28],
			Personalisation:  mem[29],
		},
	}

	m.Application = decodeApplication(mem[17:Size])
	return m, nil
}

func decodeApplication(dir []byte) *ApplicationTemplate {
	if len(dir) < 2 || dir[0] != 0x61 || 2+int(dir[1]) > len(dir) {
		return nil
	}

	packets, err := bertlv.Decode(dir[:2+int(dir[1])])
	if err != nil || len(packets) != 1 {
		return nil
	}

	app := &ApplicationTemplate{}
	if err := tlv.UnmarshalFromPackets(packets[0].TLVs, app); err != nil {
		return nil
	}
	return app
}
