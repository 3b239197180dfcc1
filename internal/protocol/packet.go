// Package protocol defines the packet format carried over the DataChannel.
package protocol

// Packet type constants.
const (
	TypeData  uint8 = 0x01 // Stream payload
	TypeClose uint8 = 0x02 // Sender reached end of input
)

// HeaderSize is the fixed header size: Type(1) + SeqNum(4).
const HeaderSize = 5

// Packet represents one message of the byte stream.
type Packet struct {
	Type    uint8  // TypeData or TypeClose
	SeqNum  uint32 // Per-direction sequence number, starting at 1
	Payload []byte // Only used for TypeData
}
