package deflate

import "github.com/apfscore/apfsro/internal/apfserr"

// huffmanTable is a canonical Huffman decoding table built from a list of
// per-symbol code lengths, following RFC 1951 section 3.2.2: codes of the
// same length are assigned consecutive values in symbol order, and the
// first code of each length is derived from the previous length's last
// code.
type huffmanTable struct {
	maxBits int
	// firstCode[len] is the first canonical code of that bit length.
	firstCode [maxCodeBits + 1]int
	// firstSymbolIndex[len] is the index into symbols where codes of
	// that bit length begin.
	firstSymbolIndex [maxCodeBits + 1]int
	// count[len] is the number of codes of that bit length.
	count [maxCodeBits + 1]int
	// symbols lists symbol values ordered by (length, code) — the order
	// canonical Huffman assigns them in.
	symbols []int
}

const maxCodeBits = 15

// buildHuffmanTable constructs a decode table from codeLengths, where
// codeLengths[symbol] is that symbol's bit length, or 0 if unused.
func buildHuffmanTable(codeLengths []int) (*huffmanTable, error) {
	t := &huffmanTable{}
	for _, l := range codeLengths {
		if l < 0 || l > maxCodeBits {
			return nil, apfserr.Wrap(apfserr.ErrNodeCorrupt, "invalid huffman code length %d", l)
		}
		t.count[l]++
	}
	t.count[0] = 0

	code := 0
	symIndex := 0
	for l := 1; l <= maxCodeBits; l++ {
		code = (code + t.count[l-1]) << 1
		t.firstCode[l] = code
		t.firstSymbolIndex[l] = symIndex
		symIndex += t.count[l]
		if t.count[l] > 0 {
			t.maxBits = l
		}
	}

	t.symbols = make([]int, symIndex)
	next := t.firstSymbolIndex
	for sym, l := range codeLengths {
		if l == 0 {
			continue
		}
		t.symbols[next[l]] = sym
		next[l]++
	}
	return t, nil
}

// decodeSymbol reads one Huffman-coded symbol. Per RFC 1951 section 3.1.1,
// Huffman codes are packed starting with the most significant bit of the
// code, so each new bit read from the (LSB-first) bitstream extends the
// code on its least-significant side before the accumulated code is
// shifted up for the next length class.
func (t *huffmanTable) decodeSymbol(r *BitReader) (int, error) {
	code, first := 0, 0
	for l := 1; l <= maxCodeBits; l++ {
		bit, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		code |= int(bit)
		count := t.count[l]
		if code-first < count {
			return t.symbols[t.firstSymbolIndex[l]+(code-first)], nil
		}
		first += count
		first <<= 1
		code <<= 1
	}
	return 0, apfserr.Wrap(apfserr.ErrNodeCorrupt, "huffman code not found in table")
}
