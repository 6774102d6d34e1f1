package server

import (
	"encoding/binary"
	"time"

	"github.com/eapache/queue"
	"github.com/glycerine/rbuf"
)

// ReportBuffer хранит сериализованные отчёты BRCB в кольцевом буфере
// фиксированного размера. Записи нумеруются монотонно растущими
// номерами, oldest/nextToTransmit/last - номера, а не смещения.
//
// При нехватке места вытесняются самые старые записи, запись больше
// всего буфера отбрасывается. ReportBuffer не синхронизирован: доступ
// защищается блокировкой ReportControl.
type ReportBuffer struct {
	size    int
	arena   *rbuf.FixedSizeRingBuf
	entries *queue.Queue

	oldest         uint64
	next           uint64
	nextToTransmit uint64

	overflow bool
}

// BufferedReport описание записи буфера
type BufferedReport struct {
	seq         uint64
	EntryID     []byte
	TimeOfEntry time.Time
	length      int
}

// NewReportBuffer создаёт буфер размером size байт
func NewReportBuffer(size int) *ReportBuffer {
	return &ReportBuffer{
		size:    size,
		arena:   rbuf.NewFixedSizeRingBuf(size),
		entries: queue.New(),
	}
}

// Size возвращает размер буфера в байтах
func (b *ReportBuffer) Size() int {
	return b.size
}

// Used возвращает суммарный размер хранимых записей
func (b *ReportBuffer) Used() int {
	return b.arena.Readable
}

// Count возвращает количество записей
func (b *ReportBuffer) Count() int {
	return b.entries.Length()
}

// Pending возвращает количество непереданных записей
func (b *ReportBuffer) Pending() int {
	return int(b.next - b.nextToTransmit)
}

// Overflow сообщает, были ли вытеснены непереданные записи после
// последнего вызова ClearOverflow
func (b *ReportBuffer) Overflow() bool {
	return b.overflow
}

// ClearOverflow сбрасывает признак переполнения
func (b *ReportBuffer) ClearOverflow() {
	b.overflow = false
}

// Enqueue добавляет запись. Возвращает false, если запись больше буфера.
func (b *ReportBuffer) Enqueue(data []byte, timeOfEntry time.Time) (*BufferedReport, bool) {
	if len(data) > b.size || len(data) == 0 {
		return nil, false
	}

	for b.size-b.arena.Readable < len(data) {
		b.evictOldest()
	}

	if n, err := b.arena.Write(data); err != nil || n != len(data) {
		return nil, false
	}

	entry := &BufferedReport{
		seq:         b.next,
		EntryID:     entryID(b.next + 1),
		TimeOfEntry: timeOfEntry,
		length:      len(data),
	}
	b.entries.Add(entry)
	b.next++
	return entry, true
}

func (b *ReportBuffer) evictOldest() {
	entry := b.entries.Remove().(*BufferedReport)
	b.arena.Advance(entry.length)
	b.oldest++
	if b.nextToTransmit < b.oldest {
		b.nextToTransmit = b.oldest
		b.overflow = true
	}
}

// NextToTransmit возвращает следующую непереданную запись и её данные
func (b *ReportBuffer) NextToTransmit() (*BufferedReport, []byte, bool) {
	if b.nextToTransmit >= b.next {
		return nil, nil, false
	}
	entry, data := b.entry(b.nextToTransmit)
	return entry, data, true
}

// MarkTransmitted отмечает запись NextToTransmit переданной
func (b *ReportBuffer) MarkTransmitted() {
	if b.nextToTransmit < b.next {
		b.nextToTransmit++
	}
}

// ResetTransmission помечает все хранимые записи непереданными
func (b *ReportBuffer) ResetTransmission() {
	b.nextToTransmit = b.oldest
}

// SetNextAfter делает следующей для передачи запись, следующую за записью
// с идентификатором id. Возвращает false, если такой записи нет.
func (b *ReportBuffer) SetNextAfter(id []byte) bool {
	for i := 0; i < b.entries.Length(); i++ {
		entry := b.entries.Get(i).(*BufferedReport)
		if string(entry.EntryID) == string(id) {
			b.nextToTransmit = entry.seq + 1
			return true
		}
	}
	return false
}

// LastEntryID возвращает идентификатор последней записи или нулевой
func (b *ReportBuffer) LastEntryID() []byte {
	if b.entries.Length() == 0 {
		return make([]byte, 8)
	}
	return b.entries.Get(-1).(*BufferedReport).EntryID
}

// Purge удаляет все записи
func (b *ReportBuffer) Purge() {
	b.arena.Reset()
	for b.entries.Length() > 0 {
		b.entries.Remove()
	}
	b.oldest = b.next
	b.nextToTransmit = b.next
	b.overflow = false
}

func (b *ReportBuffer) entry(seq uint64) (*BufferedReport, []byte) {
	entry := b.entries.Get(int(seq - b.oldest)).(*BufferedReport)

	offset := 0
	for i := 0; i < int(seq-b.oldest); i++ {
		offset += b.entries.Get(i).(*BufferedReport).length
	}

	data := make([]byte, entry.length)
	copy(data, b.arena.Bytes()[offset:offset+entry.length])
	return entry, data
}

func entryID(n uint64) []byte {
	id := make([]byte, 8)
	binary.BigEndian.PutUint64(id, n)
	return id
}
