// Package vector holds the embedding math shared by the SQLite-backed stores:
// dimension normalisation, the float32 BLOB codec, cosine similarity and a
// bounded top-K collector.
package vector

import (
	"container/heap"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Dimension is the length every persisted embedding must have.
const Dimension = 1536

// Normalize returns a copy of v with exactly dim components, zero-padded or
// truncated as needed.
func Normalize(v []float32, dim int) []float32 {
	out := make([]float32, dim)
	copy(out, v)
	return out
}

// Encode serializes a float32 slice to little-endian bytes.
func Encode(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Decode deserializes little-endian bytes into a new float32 slice.
func Decode(b []byte) ([]float32, error) {
	return DecodeInto(nil, b)
}

// DecodeInto decodes into buf, growing it only when its capacity is too small.
func DecodeInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// Cosine returns dot(a,b) / (aNorm * |b|). aNorm is the precomputed norm of a.
// Mismatched lengths and zero vectors score 0.
func Cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) || aNorm == 0 {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// Scored pairs a record id with its similarity.
type Scored struct {
	ID    string
	Score float32
}

// TopK keeps the k highest scoring ids seen so far.
type TopK struct {
	k int
	h scoredHeap
}

// NewTopK returns a collector for at most k entries.
func NewTopK(k int) *TopK {
	return &TopK{k: k}
}

// Push offers an id/score pair.
func (t *TopK) Push(id string, score float32) {
	if t.k <= 0 {
		return
	}
	item := Scored{ID: id, Score: score}
	if t.h.Len() < t.k {
		heap.Push(&t.h, item)
		return
	}
	if less(t.h[0], item) {
		t.h[0] = item
		heap.Fix(&t.h, 0)
	}
}

// Len returns the number of retained entries.
func (t *TopK) Len() int { return t.h.Len() }

// Sorted returns the retained entries by score descending, ties by id ascending.
func (t *TopK) Sorted() []Scored {
	out := make([]Scored, len(t.h))
	copy(out, t.h)
	sort.Slice(out, func(i, j int) bool { return less(out[j], out[i]) })
	return out
}

// less orders a before b when a ranks worse: lower score, or equal score and
// larger id.
func less(a, b Scored) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.ID > b.ID
}

type scoredHeap []Scored

func (h scoredHeap) Len() int           { return len(h) }
func (h scoredHeap) Less(i, j int) bool { return less(h[i], h[j]) }
func (h scoredHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x any)        { *h = append(*h, x.(Scored)) }
func (h *scoredHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
