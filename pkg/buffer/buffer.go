package buffer

import (
	"golang.org/x/sys/unix"
)

// DefaultCapacity is the capacity of a session buffer
const DefaultCapacity = 1024

// buffer is a fixed capacity byte buffer, bytes between readIndex and writeIndex
// are readable, bytes after writeIndex are writable
type buffer struct {
	data       []byte
	readIndex  int
	writeIndex int
}

func (buf *buffer) ReadableBytes() int {
	return buf.writeIndex - buf.readIndex
}

func (buf *buffer) WritableBytes() int {
	return len(buf.data) - buf.writeIndex
}

func (buf *buffer) Capacity() int {
	return len(buf.data)
}

func (buf *buffer) Peek() []byte {
	return buf.data[buf.readIndex:buf.writeIndex]
}

func (buf *buffer) Retrieve(i int) {
	if buf.ReadableBytes() < i {
		panic("retrieve too many bytes")
	}

	buf.readIndex += i
	if buf.readIndex == buf.writeIndex {
		buf.RetrieveAll()
	}
}

func (buf *buffer) RetrieveAll() {
	buf.readIndex = 0
	buf.writeIndex = 0
}

func (buf *buffer) RetrieveAsString() string {
	s := string(buf.data[buf.readIndex:buf.writeIndex])
	buf.RetrieveAll()
	return s
}

// Append copies as many bytes of bs as fit and returns how many were copied
func (buf *buffer) Append(bs []byte) int {
	if buf.WritableBytes() < len(bs) {
		buf.compact()
	}

	n := copy(buf.data[buf.writeIndex:], bs)
	buf.writeIndex += n
	return n
}

// move readable bytes to the front so that the tail is writable again
func (buf *buffer) compact() {
	if buf.readIndex == 0 {
		return
	}

	n := copy(buf.data, buf.data[buf.readIndex:buf.writeIndex])
	buf.readIndex = 0
	buf.writeIndex = n
}

// ReadFD reads at most WritableBytes() bytes from fd, the buffer never grows.
// (0, nil) means the peer closed its write side
func (buf *buffer) ReadFD(fd int) (int, error) {
	if buf.WritableBytes() == 0 {
		buf.compact()
	}
	if buf.WritableBytes() == 0 {
		return 0, unix.ENOBUFS
	}

	n, err := unix.Read(fd, buf.data[buf.writeIndex:])
	if err != nil {
		return 0, err
	}

	buf.writeIndex += n
	return n, nil
}

// WriteFD writes readable bytes into fd and retrieves the written part
func (buf *buffer) WriteFD(fd int) (int, error) {
	if buf.ReadableBytes() == 0 {
		return 0, nil
	}

	n, err := unix.Write(fd, buf.Peek())
	if err != nil {
		return 0, err
	}

	buf.Retrieve(n)
	return n, nil
}

// NewBuffer returns a buffer holding at most capacity bytes
func NewBuffer(capacity int) Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &buffer{
		data:       make([]byte, capacity),
		readIndex:  0,
		writeIndex: 0,
	}
}

type Buffer interface {
	ReadableBytes() int
	WritableBytes() int
	Capacity() int
	Peek() []byte
	Retrieve(int)
	RetrieveAll()
	RetrieveAsString() string
	Append([]byte) int
	ReadFD(fd int) (int, error)
	WriteFD(fd int) (int, error)
}
