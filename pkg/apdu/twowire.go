package apdu

// 2-WIRE COMMANDS (SLE4432 / SLE4442 / SLE5542):
//
// Addresses are encoded on P1 (MSB) and P2 (LSB). The 2-wire chips only have
// 256 bytes, so P1 is always 00 for them, but the same builders serve the
// reader's byte-oriented commands for 1K chips.
//
//	READ MEMORY          FF B0 <hi> <lo> <len>
//	READ SECURITY        FF B1 00 00 04         (error counter + PSC)
//	READ PROTECTION      FF B2 00 00 04         (32 protection bits)
//	PRESENT CODE         FF 20 00 00 <n> <pin>
//	WRITE MEMORY         FF D0 <hi> <lo> <len> <data>
//	WRITE PROTECTION     FF D1 <hi> <lo> <len> <data>  (data compared with memory)
//	CHANGE CODE          FF D2 00 01 03 <pin>
//	SELECT CARD TYPE     FF A4 00 00 01 <type>

// Card types accepted by SELECT CARD TYPE.
const (
	CardTypeSLE4428 byte = 0x05
	CardTypeSLE4442 byte = 0x06
)

// Register sizes of the 2-wire chips.
const (
	SecurityMemorySize   = 4
	ProtectionMemorySize = 4
)

// SelectCardType tells the reader which memory card protocol to run.
func SelectCardType(cardType byte) *Command {
	return NewCommand(INS_SELECT_CARD_TYPE, 0x00, 0x00, []byte{cardType}, 0)
}

// ReadBinary reads length bytes of main memory starting at addr.
func ReadBinary(addr uint16, length int) *Command {
	return NewCommand(INS_READ_BINARY, byte(addr>>8), byte(addr), nil, length)
}

// ReadSecurityMemory reads the error counter and reference data (4 bytes).
func ReadSecurityMemory() *Command {
	return NewCommand(INS_READ_SECURITY, 0x00, 0x00, nil, SecurityMemorySize)
}

// ReadProtectionMemory reads the 32 protection bits of a 2-wire chip.
func ReadProtectionMemory() *Command {
	return NewCommand(INS_READ_PROTECTION, 0x00, 0x00, nil, ProtectionMemorySize)
}

// Verify presents a PIN (3 bytes for 2-wire chips, 2 bytes for 3-wire chips).
func Verify(pin []byte) *Command {
	return NewCommand(INS_VERIFY, 0x00, 0x00, append([]byte(nil), pin...), 0)
}

// WriteBinary writes data into main memory starting at addr.
func WriteBinary(addr uint16, data []byte) *Command {
	return NewCommand(INS_WRITE_BINARY, byte(addr>>8), byte(addr), append([]byte(nil), data...), 0)
}

// WriteProtection sets the protection bit of every byte in [addr, addr+len(data)).
// The chip only burns a bit when the supplied byte equals the memory content.
func WriteProtection(addr uint16, data []byte) *Command {
	return NewCommand(INS_WRITE_PROTECTION, byte(addr>>8), byte(addr), append([]byte(nil), data...), 0)
}

// ProtectByte protects a single erased (0xFF) byte.
func ProtectByte(addr uint16) *Command {
	return WriteProtection(addr, []byte{0xFF})
}

// ChangeCode replaces the reference PIN of a 2-wire chip. It requires a prior
// successful VERIFY in the same session.
func ChangeCode(pin []byte) *Command {
	return NewCommand(INS_CHANGE_CODE, 0x00, 0x01, append([]byte(nil), pin...), 0)
}
