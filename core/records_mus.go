package core

import (
	"sort"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// MUS serializers for persisted records. Timestamps are stored as Unix
// microseconds. Map entries are written in sorted key order so equal records
// encode to equal bytes.
var (
	ChunkMUS           = chunkMUS{}
	EmbeddingRecordMUS = embeddingRecordMUS{}
	DeadLetterMUS      = deadLetterMUS{}
	CacheEntryMUS      = cacheEntryMUS{}
)

type chunkMUS struct{}

func (chunkMUS) Size(v Chunk) int {
	return ord.String.Size(v.ID) +
		ord.String.Size(v.DocumentID) +
		ord.String.Size(v.Text) +
		varint.Int.Size(v.OrderIndex) +
		stringMapSize(v.Metadata)
}

func (chunkMUS) Marshal(v Chunk, bs []byte) int {
	w := musWriter{bs: bs}
	w.string(v.ID)
	w.string(v.DocumentID)
	w.string(v.Text)
	w.int(v.OrderIndex)
	w.stringMap(v.Metadata)
	return w.n
}

func (chunkMUS) Unmarshal(bs []byte) (v Chunk, n int, err error) {
	r := musReader{bs: bs}
	v.ID = r.string()
	v.DocumentID = r.string()
	v.Text = r.string()
	v.OrderIndex = r.int()
	v.Metadata = r.stringMap()
	return v, r.n, r.err
}

type embeddingRecordMUS struct{}

func (embeddingRecordMUS) Size(v EmbeddingRecord) int {
	return ord.String.Size(v.ChunkID) +
		float32SliceSize(v.Vector) +
		ord.String.Size(v.ModelVersion) +
		timeSize(v.EmbeddedAt)
}

func (embeddingRecordMUS) Marshal(v EmbeddingRecord, bs []byte) int {
	w := musWriter{bs: bs}
	w.string(v.ChunkID)
	w.float32Slice(v.Vector)
	w.string(v.ModelVersion)
	w.time(v.EmbeddedAt)
	return w.n
}

func (embeddingRecordMUS) Unmarshal(bs []byte) (v EmbeddingRecord, n int, err error) {
	r := musReader{bs: bs}
	v.ChunkID = r.string()
	v.Vector = r.float32Slice()
	v.ModelVersion = r.string()
	v.EmbeddedAt = r.time()
	return v, r.n, r.err
}

type deadLetterMUS struct{}

func (deadLetterMUS) Size(v DeadLetter) int {
	size := ord.String.Size(v.ID) + varint.Int.Size(len(v.Chunks))
	for _, c := range v.Chunks {
		size += ChunkMUS.Size(c)
	}
	return size +
		ord.String.Size(v.ModelVersion) +
		ord.String.Size(v.Reason) +
		varint.Int.Size(v.Attempts) +
		timeSize(v.CreatedAt)
}

func (deadLetterMUS) Marshal(v DeadLetter, bs []byte) int {
	w := musWriter{bs: bs}
	w.string(v.ID)
	w.int(len(v.Chunks))
	for _, c := range v.Chunks {
		w.n += ChunkMUS.Marshal(c, w.bs[w.n:])
	}
	w.string(v.ModelVersion)
	w.string(v.Reason)
	w.int(v.Attempts)
	w.time(v.CreatedAt)
	return w.n
}

func (deadLetterMUS) Unmarshal(bs []byte) (v DeadLetter, n int, err error) {
	r := musReader{bs: bs}
	v.ID = r.string()
	count := r.int()
	if r.err == nil && count > 0 {
		v.Chunks = make([]Chunk, 0, count)
		for i := 0; i < count && r.err == nil; i++ {
			c, n1, err := ChunkMUS.Unmarshal(r.bs[r.n:])
			r.n += n1
			r.err = err
			v.Chunks = append(v.Chunks, c)
		}
	}
	v.ModelVersion = r.string()
	v.Reason = r.string()
	v.Attempts = r.int()
	v.CreatedAt = r.time()
	return v, r.n, r.err
}

type cacheEntryMUS struct{}

func (cacheEntryMUS) Size(v CacheEntry) int {
	return ord.String.Size(v.Fingerprint) +
		ord.String.Size(v.Answer) +
		stringSliceSize(v.CitedChunkIDs) +
		timeSize(v.ExpiresAt)
}

func (cacheEntryMUS) Marshal(v CacheEntry, bs []byte) int {
	w := musWriter{bs: bs}
	w.string(v.Fingerprint)
	w.string(v.Answer)
	w.stringSlice(v.CitedChunkIDs)
	w.time(v.ExpiresAt)
	return w.n
}

func (cacheEntryMUS) Unmarshal(bs []byte) (v CacheEntry, n int, err error) {
	r := musReader{bs: bs}
	v.Fingerprint = r.string()
	v.Answer = r.string()
	v.CitedChunkIDs = r.stringSlice()
	v.ExpiresAt = r.time()
	return v, r.n, r.err
}

func stringMapSize(m map[string]string) int {
	size := varint.Int.Size(len(m))
	for k, v := range m {
		size += ord.String.Size(k) + ord.String.Size(v)
	}
	return size
}

func stringSliceSize(s []string) int {
	size := varint.Int.Size(len(s))
	for _, v := range s {
		size += ord.String.Size(v)
	}
	return size
}

func float32SliceSize(s []float32) int {
	size := varint.Int.Size(len(s))
	for _, v := range s {
		size += raw.Float32.Size(v)
	}
	return size
}

func timeSize(t time.Time) int {
	return varint.Int64.Size(unixMicro(t))
}

func unixMicro(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

type musWriter struct {
	bs []byte
	n  int
}

func (w *musWriter) string(v string) {
	w.n += ord.String.Marshal(v, w.bs[w.n:])
}

func (w *musWriter) int(v int) {
	w.n += varint.Int.Marshal(v, w.bs[w.n:])
}

func (w *musWriter) time(t time.Time) {
	w.n += varint.Int64.Marshal(unixMicro(t), w.bs[w.n:])
}

func (w *musWriter) stringMap(m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.int(len(keys))
	for _, k := range keys {
		w.string(k)
		w.string(m[k])
	}
}

func (w *musWriter) stringSlice(s []string) {
	w.int(len(s))
	for _, v := range s {
		w.string(v)
	}
}

func (w *musWriter) float32Slice(s []float32) {
	w.int(len(s))
	for _, v := range s {
		w.n += raw.Float32.Marshal(v, w.bs[w.n:])
	}
}

// musReader accumulates the first error and turns later reads into no-ops.
type musReader struct {
	bs  []byte
	n   int
	err error
}

func (r *musReader) string() string {
	if r.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *musReader) int() int {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Int.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *musReader) time() time.Time {
	if r.err != nil {
		return time.Time{}
	}
	v, n, err := varint.Int64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	if err != nil || v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

func (r *musReader) stringMap() map[string]string {
	count := r.int()
	if r.err != nil || count == 0 {
		return nil
	}
	m := make(map[string]string, count)
	for i := 0; i < count && r.err == nil; i++ {
		k := r.string()
		v := r.string()
		m[k] = v
	}
	return m
}

func (r *musReader) stringSlice() []string {
	count := r.int()
	if r.err != nil || count == 0 {
		return nil
	}
	s := make([]string, 0, count)
	for i := 0; i < count && r.err == nil; i++ {
		s = append(s, r.string())
	}
	return s
}

func (r *musReader) float32Slice() []float32 {
	count := r.int()
	if r.err != nil || count == 0 {
		return nil
	}
	s := make([]float32, 0, count)
	for i := 0; i < count; i++ {
		v, n, err := raw.Float32.Unmarshal(r.bs[r.n:])
		r.n += n
		if err != nil {
			r.err = err
			return nil
		}
		s = append(s, v)
	}
	return s
}
