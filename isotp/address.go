package isotp

import "fmt"

// AddressingMode selects the arbitration identifier width. Only normal
// addressing is supported; extended and mixed modes are out of scope.
type AddressingMode uint8

const (
	Normal11Bits AddressingMode = iota
	Normal29Bits
)

// AddressType distinguishes point-to-point from broadcast requests.
type AddressType uint8

const (
	Physical AddressType = iota
	Functional
)

const (
	maxID11 = 0x7FF
	maxID29 = 0x1FFFFFFF
)

// Address holds the asymmetric rx/tx arbitration identifiers of one
// logical connection. FunctionalID is optional and only used for
// functionally addressed (broadcast) transmissions.
type Address struct {
	Mode         AddressingMode
	TxID         uint32
	RxID         uint32
	FunctionalID uint32
}

func NewAddress(mode AddressingMode, txID, rxID uint32) (*Address, error) {
	limit := uint32(maxID11)
	if mode == Normal29Bits {
		limit = maxID29
	}
	if txID > limit || rxID > limit {
		return nil, fmt.Errorf("arbitration id out of range for addressing mode (tx=0x%X rx=0x%X limit=0x%X)", txID, rxID, limit)
	}
	if txID == rxID {
		return nil, fmt.Errorf("tx and rx arbitration ids must differ (0x%X)", txID)
	}
	return &Address{Mode: mode, TxID: txID, RxID: rxID}, nil
}

func (a *Address) Is29Bit() bool {
	return a.Mode == Normal29Bits
}

// IsForMe reports whether a received frame belongs to this connection.
func (a *Address) IsForMe(msg *CanMessage) bool {
	if msg.IsExtendedID != a.Is29Bit() {
		return false
	}
	return msg.ArbitrationID == a.RxID
}

// TxArbitrationID returns the identifier to transmit with for the given
// address type. Functional falls back to the physical id when no
// functional id is configured.
func (a *Address) TxArbitrationID(at AddressType) uint32 {
	if at == Functional && a.FunctionalID != 0 {
		return a.FunctionalID
	}
	return a.TxID
}
