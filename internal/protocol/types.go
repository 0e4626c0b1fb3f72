package protocol

// Wire constants for the subset of RFC 1035 handled here.
const (
	headerSize = 12

	// maxLabelSize and maxNameSize bound the encoded domain name.
	maxLabelSize = 63
	maxNameSize  = 255

	// questionOffset is where the only question's name starts; answers point back at it.
	questionOffset = headerSize
	pointerMask    = 0xC0

	// answerSize is the size of one compressed A answer: pointer, type, class, ttl, rdlength, rdata.
	answerSize = 2 + 2 + 2 + 4 + 2 + 4

	// maxMessageSize is the largest UDP payload deliverable over IPv4.
	maxMessageSize = 65507
)

const (
	// TypeA is the A record type.
	TypeA uint16 = 1
	// ClassINET is the Internet class.
	ClassINET uint16 = 1

	// AnswerTTL is the TTL, in seconds, of every synthesized answer.
	AnswerTTL uint32 = 60
)

// Header flag bits.
const (
	QRMask     = 0x8000
	OpcodeMask = 0x7800
	RDMask     = 0x0100
	RAMask     = 0x0080
	RCodeMask  = 0x000F

	// responseFlags marks a standard query response with recursion desired and available and no
	// error.
	responseFlags = QRMask | RDMask | RAMask

	rcodeServerFailure = 2
)

// Question is the decoded view of a query's header and its first question.
type Question struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	Name    string
	Type    uint16
	Class   uint16

	// DottedLabel is set when a label of the name contains a literal '.'. Name then cannot be
	// re-encoded to the labels that were asked for.
	DottedLabel bool
}

// Opcode returns the header opcode.
func (q Question) Opcode() uint8 {
	return uint8((q.Flags & OpcodeMask) >> 11)
}

// IsResponse reports whether the QR bit is set.
func (q Question) IsResponse() bool {
	return q.Flags&QRMask != 0
}

// Answerable reports whether the query is a plain single-question A/IN lookup whose name can be
// re-encoded faithfully, the only shape that is ever answered from the rule table.
func (q Question) Answerable() bool {
	return q.QDCount == 1 &&
		q.Opcode() == 0 &&
		q.Type == TypeA &&
		q.Class == ClassINET &&
		!q.DottedLabel
}
