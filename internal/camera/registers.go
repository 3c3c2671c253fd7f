package camera

// Control register addresses.
const (
	RegMetadataFlags uint64 = 0x12F8
	RegHDRControl    uint64 = 0x1800
)

// Per-bank shutter and gain registers, indexed by bank.
var (
	RegShutterBank = [NumBanks]uint64{0x1820, 0x1840, 0x1860, 0x1880}
	RegGainBank    = [NumBanks]uint64{0x1824, 0x1844, 0x1864, 0x1884}
)

const (
	// NumBanks is the number of HDR bracket banks on the device.
	NumBanks = 4

	// RegisterMarker is OR'd into every bank write; the device ignores
	// values without it.
	RegisterMarker uint32 = 0x82000000

	// HDREnablePattern and HDRDisablePattern are written to RegHDRControl.
	HDREnablePattern  uint32 = 0x82000000
	HDRDisablePattern uint32 = 0x80000000

	// BankValueMask extracts the shutter or gain value from a bank register.
	BankValueMask uint32 = 0x00000FFF

	// MetadataPresent is set in RegMetadataFlags when the register is implemented.
	MetadataPresent uint32 = 0x80000000
)

// BankValue builds a bank register value from a shutter or gain value.
func BankValue(v uint32) uint32 {
	return RegisterMarker | (v & BankValueMask)
}

// ShutterBankIndex returns the bank served by a shutter register, or -1.
func ShutterBankIndex(addr uint64) int {
	for i, a := range RegShutterBank {
		if a == addr {
			return i
		}
	}
	return -1
}

// GainBankIndex returns the bank served by a gain register, or -1.
func GainBankIndex(addr uint64) int {
	for i, a := range RegGainBank {
		if a == addr {
			return i
		}
	}
	return -1
}
