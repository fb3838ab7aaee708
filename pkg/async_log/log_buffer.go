package async_log

// buffer is one fixed capacity slab of encoded log entries, it never grows so a
// full slab can be handed to the flushing goroutine as is
type buffer struct {
	data []byte
}

func newLogBuffer(size int) *buffer {
	return &buffer{data: make([]byte, 0, size)}
}

// Append copies entry in, false means the slab has no room left for it
func (buf *buffer) Append(entry []byte) bool {
	if len(entry) > buf.Available() {
		return false
	}
	buf.data = append(buf.data, entry...)
	return true
}

func (buf *buffer) Available() int {
	return cap(buf.data) - len(buf.data)
}

func (buf *buffer) Empty() bool { return len(buf.data) == 0 }

func (buf *buffer) Reset() { buf.data = buf.data[:0] }
