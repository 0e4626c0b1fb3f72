package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
)

// messageReader is a bounds-checked cursor over a raw message.
type messageReader struct {
	data []byte
	pos  int
}

func (r *messageReader) readByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("%w: out of bounds reading byte: pos=%d", ErrMalformedQuery, r.pos)
	}

	val := r.data[r.pos]
	r.pos++

	return val, nil
}

func (r *messageReader) readUint16() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, fmt.Errorf("%w: out of bounds reading uint16: pos=%d", ErrMalformedQuery, r.pos)
	}

	val := binary.BigEndian.Uint16(r.data[r.pos : r.pos+2])
	r.pos += 2

	return val, nil
}

func (r *messageReader) readBytes(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf(
			"%w: label runs past end of message: pos=%d len=%d",
			ErrMalformedQuery,
			r.pos,
			n,
		)
	}

	val := r.data[r.pos : r.pos+n]
	r.pos += n

	return val, nil
}

// readName reads an uncompressed, zero-terminated sequence of labels. dotted reports whether any
// label contains a literal '.', in which case the returned dotted form does not round-trip to the
// same labels.
func (r *messageReader) readName() (name string, dotted bool, err error) {
	var labels []string

	for {
		length, err := r.readByte()
		if err != nil {
			return "", false, fmt.Errorf("%w: unterminated name", ErrMalformedQuery)
		}

		if length == 0 {
			break
		}

		// Pointers and the reserved label types never appear in the question of a query.
		if length&pointerMask != 0 {
			return "", false, fmt.Errorf(
				"%w: unsupported label type: pos=%d lead=%#x",
				ErrMalformedQuery,
				r.pos-1,
				length,
			)
		}

		label, err := r.readBytes(int(length))
		if err != nil {
			return "", false, err
		}

		if bytes.IndexByte(label, '.') >= 0 {
			dotted = true
		}

		labels = append(labels, string(label))
	}

	return strings.Join(labels, "."), dotted, nil
}

// ParseName extracts the domain name of the first question in a raw query. The name is returned
// without a trailing dot; the root name is returned as the empty string.
func ParseName(query []byte) (string, error) {
	if len(query) <= headerSize {
		return "", fmt.Errorf("%w: message too short: len=%d", ErrMalformedQuery, len(query))
	}

	r := &messageReader{data: query, pos: questionOffset}

	name, dotted, err := r.readName()
	if err != nil {
		return "", err
	}

	if dotted {
		return "", fmt.Errorf("%w: label contains a literal dot: name=%q", ErrMalformedQuery, name)
	}

	return name, nil
}

// ParseQuestion decodes the header and the first question of a raw query.
func ParseQuestion(query []byte) (Question, error) {
	if len(query) <= headerSize {
		return Question{}, fmt.Errorf("%w: message too short: len=%d", ErrMalformedQuery, len(query))
	}

	q := Question{
		ID:      binary.BigEndian.Uint16(query[0:2]),
		Flags:   binary.BigEndian.Uint16(query[2:4]),
		QDCount: binary.BigEndian.Uint16(query[4:6]),
	}

	if q.IsResponse() {
		return Question{}, fmt.Errorf("%w: message is a response: id=%d", ErrMalformedQuery, q.ID)
	}

	if q.QDCount == 0 {
		return Question{}, fmt.Errorf("%w: no question: id=%d", ErrMalformedQuery, q.ID)
	}

	r := &messageReader{data: query, pos: questionOffset}

	name, dotted, err := r.readName()
	if err != nil {
		return Question{}, err
	}

	q.Name = name
	q.DottedLabel = dotted

	if q.Type, err = r.readUint16(); err != nil {
		return Question{}, err
	}

	if q.Class, err = r.readUint16(); err != nil {
		return Question{}, err
	}

	return q, nil
}

// messageWriter appends wire-format fields to a buffer allocated up front.
type messageWriter struct {
	data []byte
}

func (w *messageWriter) writeUint16(v uint16) {
	w.data = binary.BigEndian.AppendUint16(w.data, v)
}

func (w *messageWriter) writeUint32(v uint32) {
	w.data = binary.BigEndian.AppendUint32(w.data, v)
}

func (w *messageWriter) writeBytes(v []byte) {
	w.data = append(w.data, v...)
}

// encodeName converts a dotted name into length-prefixed labels terminated by the root label.
func encodeName(name string) ([]byte, error) {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return []byte{0}, nil
	}

	labels := strings.Split(name, ".")
	encoded := make([]byte, 0, len(name)+2)

	for _, label := range labels {
		switch {
		case len(label) == 0:
			return nil, fmt.Errorf("%w: empty label: name=%q", ErrEncoding, name)
		case len(label) > maxLabelSize:
			return nil, fmt.Errorf("%w: label too long: name=%q len=%d", ErrEncoding, name, len(label))
		}

		encoded = append(encoded, byte(len(label)))
		encoded = append(encoded, label...)
	}

	encoded = append(encoded, 0)

	if len(encoded) > maxNameSize {
		return nil, fmt.Errorf("%w: name too long: name=%q len=%d", ErrEncoding, name, len(encoded))
	}

	return encoded, nil
}

// BuildResponse synthesizes an answer to query for name, with one A record per address in addrs.
// The header is copied from the query, so the transaction id is preserved, and every answer points
// back at the question name. The returned buffer is exactly as long as its contents.
func BuildResponse(query []byte, name string, addrs []net.IP) ([]byte, error) {
	if len(query) < headerSize {
		return nil, fmt.Errorf("%w: query shorter than header: len=%d", ErrEncoding, len(query))
	}

	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: no addresses: name=%q", ErrEncoding, name)
	}

	if len(addrs) > 0xFFFF {
		return nil, fmt.Errorf("%w: too many addresses: name=%q count=%d", ErrEncoding, name, len(addrs))
	}

	encodedName, err := encodeName(name)
	if err != nil {
		return nil, err
	}

	size := headerSize + len(encodedName) + 4 + answerSize*len(addrs)
	if size > maxMessageSize {
		return nil, fmt.Errorf("%w: response too large: name=%q count=%d size=%d", ErrEncoding, name, len(addrs), size)
	}

	w := &messageWriter{data: make([]byte, 0, size)}

	w.writeBytes(query[0:2])
	w.writeUint16(responseFlags)
	w.writeUint16(1)
	w.writeUint16(uint16(len(addrs)))
	w.writeUint16(0)
	w.writeUint16(0)

	w.writeBytes(encodedName)
	w.writeUint16(TypeA)
	w.writeUint16(ClassINET)

	for _, addr := range addrs {
		ip := addr.To4()
		if ip == nil {
			return nil, fmt.Errorf("%w: not an IPv4 address: name=%q addr=%v", ErrEncoding, name, addr)
		}

		w.writeUint16(uint16(pointerMask)<<8 | questionOffset)
		w.writeUint16(TypeA)
		w.writeUint16(ClassINET)
		w.writeUint32(AnswerTTL)
		w.writeUint16(net.IPv4len)
		w.writeBytes(ip)
	}

	if len(w.data) != size {
		return nil, fmt.Errorf("%w: size mismatch: expected=%d actual=%d", ErrEncoding, size, len(w.data))
	}

	return w.data, nil
}

// BuildServerFailure builds a header-only SERVFAIL reply to query, preserving its transaction id
// and recursion desired bit.
func BuildServerFailure(query []byte) ([]byte, error) {
	if len(query) < headerSize {
		return nil, fmt.Errorf("%w: query shorter than header: len=%d", ErrEncoding, len(query))
	}

	flags := binary.BigEndian.Uint16(query[2:4])

	w := &messageWriter{data: make([]byte, 0, headerSize)}
	w.writeBytes(query[0:2])
	w.writeUint16(QRMask | flags&(OpcodeMask|RDMask) | RAMask | rcodeServerFailure)
	w.writeUint16(0)
	w.writeUint16(0)
	w.writeUint16(0)
	w.writeUint16(0)

	return w.data, nil
}

// IsReplyTo reports whether reply is a response carrying the same transaction id as query.
func IsReplyTo(query []byte, reply []byte) bool {
	if len(query) < 2 || len(reply) < headerSize {
		return false
	}

	if binary.BigEndian.Uint16(reply[2:4])&QRMask == 0 {
		return false
	}

	return query[0] == reply[0] && query[1] == reply[1]
}
