package ber

// ByteBuffer is a byte slice with a fixed capacity. Appends past the
// capacity fail instead of growing the slice.
type ByteBuffer struct {
	buf     []byte
	maxSize int
}

// NewByteBuffer allocates a buffer that holds at most maxSize bytes
func NewByteBuffer(maxSize int) *ByteBuffer {
	return &ByteBuffer{
		buf:     make([]byte, 0, maxSize),
		maxSize: maxSize,
	}
}

// Append copies data to the end of the buffer
func (b *ByteBuffer) Append(data ...byte) error {
	if len(b.buf)+len(data) > b.maxSize {
		return ErrBufferOverflow
	}
	b.buf = append(b.buf, data...)
	return nil
}

// AppendByte adds one byte to the end of the buffer
func (b *ByteBuffer) AppendByte(v byte) error {
	return b.Append(v)
}

// Bytes returns the buffer content. The slice is valid until the next Reset.
func (b *ByteBuffer) Bytes() []byte {
	return b.buf
}

// Size returns the number of bytes in the buffer
func (b *ByteBuffer) Size() int {
	return len(b.buf)
}

// MaxSize returns the buffer capacity
func (b *ByteBuffer) MaxSize() int {
	return b.maxSize
}

// Free returns the remaining capacity
func (b *ByteBuffer) Free() int {
	return b.maxSize - len(b.buf)
}

// Reset empties the buffer keeping its capacity
func (b *ByteBuffer) Reset() {
	b.buf = b.buf[:0]
}
