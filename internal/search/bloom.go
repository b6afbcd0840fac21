package search

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"
)

// Filter is a Bloom filter whose internal state (bitmap, hash count,
// and SipHash keys) can be exported and reimported byte-for-byte, so a
// peer's local index can be serialized and handed to remote nodes as
// an opaque membership summary.
type Filter struct {
	bitmap     *bitset.BitSet
	numHashes  uint
	bitmapBits uint64
	sipKeys    [2][2]uint64
	itemCount  uint64
}

// Data is the exportable, wire-serializable form of a Filter. Bitmap
// is raw little-endian bytes (base64 in JSON), so the filter
// reconstructs identically on any peer regardless of word size.
type Data struct {
	Bitmap     []byte       `json:"bitmap"`
	NumHashes  uint         `json:"num_hashes"`
	BitmapBits uint64       `json:"bitmap_bits"`
	SipKeys    [2][2]uint64 `json:"sip_keys"`
	ItemCount  uint64       `json:"item_count"`
}

// MaxImportBitmapBits caps the bitmap size accepted from a peer, so a
// malicious SendBloom cannot make this node allocate unbounded memory.
// 1<<27 bits is a 16 MiB bitmap, an order of magnitude beyond any
// realistically sized catalog filter.
const MaxImportBitmapBits = 1 << 27

// NewFilter builds a Filter sized for capacity items at the given
// false positive rate, with freshly generated random SipHash keys.
func NewFilter(capacity uint, fpRate float64) (*Filter, error) {
	bits := optimalBits(capacity, fpRate)
	hashes := optimalHashes(bits, capacity)

	keys, err := randomSipKeys()
	if err != nil {
		return nil, err
	}

	return &Filter{
		bitmap:     bitset.New(uint(bits)),
		numHashes:  hashes,
		bitmapBits: bits,
		sipKeys:    keys,
	}, nil
}

func optimalBits(capacity uint, fpRate float64) uint64 {
	if capacity == 0 {
		capacity = 1
	}
	m := -float64(capacity) * math.Log(fpRate) / (math.Ln2 * math.Ln2)
	bits := uint64(math.Ceil(m))
	if bits == 0 {
		bits = 1
	}
	return bits
}

func optimalHashes(bits uint64, capacity uint) uint {
	if capacity == 0 {
		capacity = 1
	}
	k := math.Round(float64(bits) / float64(capacity) * math.Ln2)
	if k < 1 {
		k = 1
	}
	return uint(k)
}

func randomSipKeys() ([2][2]uint64, error) {
	var keys [2][2]uint64
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return keys, err
	}
	keys[0][0] = binary.LittleEndian.Uint64(buf[0:8])
	keys[0][1] = binary.LittleEndian.Uint64(buf[8:16])
	keys[1][0] = binary.LittleEndian.Uint64(buf[16:24])
	keys[1][1] = binary.LittleEndian.Uint64(buf[24:32])
	return keys, nil
}

// indices returns the numHashes bit positions item maps to, using the
// Kirsch-Mitzenmacher construction: two independent SipHash digests
// combined linearly to cheaply derive as many hash functions as needed.
func (f *Filter) indices(item []byte) []uint64 {
	h1 := sipHash24(f.sipKeys[0][0], f.sipKeys[0][1], item)
	h2 := sipHash24(f.sipKeys[1][0], f.sipKeys[1][1], item)

	out := make([]uint64, f.numHashes)
	for i := uint(0); i < f.numHashes; i++ {
		out[i] = (h1 + uint64(i)*h2) % f.bitmapBits
	}
	return out
}

// Insert adds item to the filter.
func (f *Filter) Insert(item []byte) {
	for _, idx := range f.indices(item) {
		f.bitmap.Set(uint(idx))
	}
	f.itemCount++
}

// MightContain reports whether item may have been inserted. False
// means definitely not; true means possibly (a true result may be a
// false positive at any fill level).
func (f *Filter) MightContain(item []byte) bool {
	for _, idx := range f.indices(item) {
		if !f.bitmap.Test(uint(idx)) {
			return false
		}
	}
	return true
}

// ItemCount returns the number of items inserted since creation or
// import.
func (f *Filter) ItemCount() uint64 {
	return f.itemCount
}

// Export returns the filter's exportable state.
func (f *Filter) Export() Data {
	return Data{
		Bitmap:     wordsToBytes(f.bitmap.Bytes()),
		NumHashes:  f.numHashes,
		BitmapBits: f.bitmapBits,
		SipKeys:    f.sipKeys,
		ItemCount:  f.itemCount,
	}
}

// Import reconstructs a Filter from previously exported Data, as
// received from a peer over the wire. It rejects filters whose
// claimed dimensions are inconsistent or large enough to exhaust
// memory.
func Import(data Data) (*Filter, error) {
	if data.BitmapBits == 0 || data.NumHashes == 0 {
		return nil, fmt.Errorf("bloom filter has zero bitmap bits or hash count")
	}
	if data.BitmapBits > MaxImportBitmapBits {
		return nil, fmt.Errorf("bloom filter bitmap of %d bits exceeds the %d bit limit", data.BitmapBits, MaxImportBitmapBits)
	}
	if uint64(len(data.Bitmap))*8 < data.BitmapBits {
		return nil, fmt.Errorf("bloom filter bitmap of %d bytes cannot hold %d bits", len(data.Bitmap), data.BitmapBits)
	}

	bm := bitset.New(uint(data.BitmapBits))
	bm.FromWithLength(uint(data.BitmapBits), bytesToWords(data.Bitmap))
	return &Filter{
		bitmap:     bm,
		numHashes:  data.NumHashes,
		bitmapBits: data.BitmapBits,
		sipKeys:    data.SipKeys,
		itemCount:  data.ItemCount,
	}, nil
}

func wordsToBytes(words []uint64) []byte {
	out := make([]byte, 8*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint64(out[8*i:], w)
	}
	return out
}

func bytesToWords(b []byte) []uint64 {
	out := make([]uint64, (len(b)+7)/8)
	for i := range out {
		var word [8]byte
		copy(word[:], b[8*i:])
		out[i] = binary.LittleEndian.Uint64(word[:])
	}
	return out
}
