package ber

// Node is an element of a BER tree built in two passes: the first pass
// computes content sizes bottom-up, the second writes octets into a
// buffer of exactly the computed size.
type Node struct {
	tag         uint32
	value       []byte
	children    []*Node
	constructed bool
	isRaw       bool
	raw         []byte
	size        int
}

// Primitive creates a node with the given content octets
func Primitive(tag uint32, value []byte) *Node {
	return &Node{tag: tag, value: value}
}

// Constructed creates a node whose content is the encoding of its children
func Constructed(tag uint32, children ...*Node) *Node {
	return &Node{tag: tag, children: children, constructed: true}
}

// Raw wraps an already encoded TLV
func Raw(encoded []byte) *Node {
	return &Node{raw: encoded, isRaw: true}
}

// Add appends children to a constructed node. Nil children are skipped.
func (n *Node) Add(children ...*Node) *Node {
	for _, child := range children {
		if child != nil {
			n.children = append(n.children, child)
		}
	}
	return n
}

// Signed creates a node holding a signed integer
func Signed(tag uint32, value int64) *Node {
	return Primitive(tag, EncodeSigned(value))
}

// Unsigned creates a node holding an unsigned integer
func Unsigned(tag uint32, value uint64) *Node {
	return Primitive(tag, EncodeUnsigned(value))
}

// Bool creates a node holding a boolean
func Bool(tag uint32, value bool) *Node {
	if value {
		return Primitive(tag, []byte{0x01})
	}
	return Primitive(tag, []byte{0x00})
}

// String creates a node holding the octets of s
func String(tag uint32, s string) *Node {
	return Primitive(tag, []byte(s))
}

// Bits creates a bit string node with the padding octet in front
func Bits(tag uint32, bitSize int, bits []byte) *Node {
	byteSize := (bitSize + 7) / 8
	padding := byteSize*8 - bitSize
	value := make([]byte, byteSize+1)
	value[0] = byte(padding)
	copy(value[1:], bits)
	if byteSize > 0 {
		value[byteSize] &= ^byte((1 << padding) - 1)
	}
	return Primitive(tag, value)
}

// Empty creates a node with no content
func Empty(tag uint32) *Node {
	return Primitive(tag, nil)
}

// ContentSize computes and caches the content length of the node
func (n *Node) ContentSize() int {
	switch {
	case n.isRaw:
		n.size = len(n.raw)
	case n.constructed:
		n.size = 0
		for _, child := range n.children {
			n.size += child.Size()
		}
	default:
		n.size = len(n.value)
	}
	return n.size
}

// Size returns the full encoded size of the node
func (n *Node) Size() int {
	content := n.ContentSize()
	if n.isRaw {
		return content
	}
	return DetermineTagSize(n.tag) + DetermineLengthSize(uint32(content)) + content
}

// Encode returns the encoding of the tree
func (n *Node) Encode() []byte {
	buffer := make([]byte, n.Size())
	n.write(buffer, 0)
	return buffer
}

// EncodeTo appends the encoding of the tree to buf
func (n *Node) EncodeTo(buf *ByteBuffer) error {
	size := n.Size()
	if size > buf.Free() {
		return ErrBufferOverflow
	}
	buffer := make([]byte, size)
	n.write(buffer, 0)
	return buf.Append(buffer...)
}

// write relies on sizes cached by the preceding Size call
func (n *Node) write(buffer []byte, pos int) int {
	if n.isRaw {
		return pos + copy(buffer[pos:], n.raw)
	}

	pos = EncodeTag(n.tag, buffer, pos)
	pos = EncodeLength(uint32(n.size), buffer, pos)

	if !n.constructed {
		return pos + copy(buffer[pos:], n.value)
	}

	for _, child := range n.children {
		pos = child.write(buffer, pos)
	}

	return pos
}
