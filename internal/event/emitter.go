package event

// Emitter receives audit records as funding routines produce them.
type Emitter interface {
	Emit(r Record)
}

// Buffer collects records for one command. The core publishes the buffer
// only when the command commits.
type Buffer struct {
	records []Record
}

func (b *Buffer) Emit(r Record) {
	b.records = append(b.records, r)
}

func (b *Buffer) Records() []Record {
	return b.records
}

func (b *Buffer) Len() int {
	return len(b.records)
}
