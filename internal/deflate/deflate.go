package deflate

import "github.com/apfscore/apfsro/internal/apfserr"

// Block type codes. Reference: RFC 1951 section 3.2.3.
const (
	blockTypeStored  = 0
	blockTypeFixed   = 1
	blockTypeDynamic = 2
	blockTypeInvalid = 3
)

// length and distance extra-bits/base tables. Reference: RFC 1951
// sections 3.2.5.
var lengthBase = []int{3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31, 35, 43, 51, 59, 67, 83, 99, 115, 131, 163, 195, 227, 258}
var lengthExtraBits = []int{0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5, 0}
var distBase = []int{1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193, 257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577}
var distExtraBits = []int{0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6, 7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13}

// codeLengthOrder is the order in which a dynamic block's code-length
// alphabet code lengths are transmitted. Reference: RFC 1951 section 3.2.7.
var codeLengthOrder = []int{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

// Decompress inflates a raw DEFLATE stream (no zlib wrapper). maxOutput
// bounds the output size so a corrupt stream with runaway back-references
// can't exhaust memory; it should be set to the caller's known
// uncompressed size.
func Decompress(compressed []byte, maxOutput int) ([]byte, error) {
	r := NewBitReader(compressed)
	out := make([]byte, 0, minInt(maxOutput, 1<<20))

	for {
		final, err := r.ReadBit()
		if err != nil {
			return nil, err
		}
		btype, err := r.ReadBits(2)
		if err != nil {
			return nil, err
		}

		switch btype {
		case blockTypeStored:
			out, err = decodeStoredBlock(r, out, maxOutput)
		case blockTypeFixed:
			lit, dist := fixedHuffmanTables()
			out, err = decodeHuffmanBlock(r, lit, dist, out, maxOutput)
		case blockTypeDynamic:
			var lit, dist *huffmanTable
			lit, dist, err = readDynamicHuffmanTables(r)
			if err == nil {
				out, err = decodeHuffmanBlock(r, lit, dist, out, maxOutput)
			}
		default:
			err = apfserr.Wrap(apfserr.ErrNodeCorrupt, "invalid deflate block type %d", btype)
		}
		if err != nil {
			return nil, err
		}
		if final != 0 {
			break
		}
		if len(out) >= maxOutput {
			break
		}
	}
	return out, nil
}

func decodeStoredBlock(r *BitReader, out []byte, maxOutput int) ([]byte, error) {
	r.AlignToByte()
	lo, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	hi, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	nlenLo, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	nlenHi, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	length := int(lo) | int(hi)<<8
	nlen := int(nlenLo) | int(nlenHi)<<8
	if length^nlen != 0xFFFF {
		return nil, apfserr.Wrap(apfserr.ErrNodeCorrupt, "stored block length/~length mismatch")
	}
	for i := 0; i < length; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if len(out) >= maxOutput {
			return out, nil
		}
		out = append(out, b)
	}
	return out, nil
}

func decodeHuffmanBlock(r *BitReader, lit, dist *huffmanTable, out []byte, maxOutput int) ([]byte, error) {
	const endOfBlock = 256
	for {
		sym, err := lit.decodeSymbol(r)
		if err != nil {
			return nil, err
		}
		if sym < endOfBlock {
			if len(out) < maxOutput {
				out = append(out, byte(sym))
			}
			continue
		}
		if sym == endOfBlock {
			return out, nil
		}
		li := sym - 257
		if li < 0 || li >= len(lengthBase) {
			return nil, apfserr.Wrap(apfserr.ErrNodeCorrupt, "invalid length symbol %d", sym)
		}
		extra, err := r.ReadBits(uint(lengthExtraBits[li]))
		if err != nil {
			return nil, err
		}
		length := lengthBase[li] + int(extra)

		dsym, err := dist.decodeSymbol(r)
		if err != nil {
			return nil, err
		}
		if dsym < 0 || dsym >= len(distBase) {
			return nil, apfserr.Wrap(apfserr.ErrNodeCorrupt, "invalid distance symbol %d", dsym)
		}
		dextra, err := r.ReadBits(uint(distExtraBits[dsym]))
		if err != nil {
			return nil, err
		}
		distance := distBase[dsym] + int(dextra)
		if distance > len(out) {
			return nil, apfserr.Wrap(apfserr.ErrNodeCorrupt, "back-reference distance %d exceeds output so far (%d)", distance, len(out))
		}
		start := len(out) - distance
		for i := 0; i < length; i++ {
			if len(out) >= maxOutput {
				return out, nil
			}
			out = append(out, out[start+i])
		}
	}
}

func fixedHuffmanTables() (*huffmanTable, *huffmanTable) {
	litLens := make([]int, 288)
	for i := 0; i < 144; i++ {
		litLens[i] = 8
	}
	for i := 144; i < 256; i++ {
		litLens[i] = 9
	}
	for i := 256; i < 280; i++ {
		litLens[i] = 7
	}
	for i := 280; i < 288; i++ {
		litLens[i] = 8
	}
	distLens := make([]int, 30)
	for i := range distLens {
		distLens[i] = 5
	}
	lit, _ := buildHuffmanTable(litLens)
	dist, _ := buildHuffmanTable(distLens)
	return lit, dist
}

func readDynamicHuffmanTables(r *BitReader) (*huffmanTable, *huffmanTable, error) {
	hlit, err := r.ReadBits(5)
	if err != nil {
		return nil, nil, err
	}
	hdist, err := r.ReadBits(5)
	if err != nil {
		return nil, nil, err
	}
	hclen, err := r.ReadBits(4)
	if err != nil {
		return nil, nil, err
	}
	nlit := int(hlit) + 257
	ndist := int(hdist) + 1
	nclen := int(hclen) + 4

	clLens := make([]int, 19)
	for i := 0; i < nclen; i++ {
		v, err := r.ReadBits(3)
		if err != nil {
			return nil, nil, err
		}
		clLens[codeLengthOrder[i]] = int(v)
	}
	clTable, err := buildHuffmanTable(clLens)
	if err != nil {
		return nil, nil, err
	}

	allLens := make([]int, 0, nlit+ndist)
	for len(allLens) < nlit+ndist {
		sym, err := clTable.decodeSymbol(r)
		if err != nil {
			return nil, nil, err
		}
		switch {
		case sym < 16:
			allLens = append(allLens, sym)
		case sym == 16:
			if len(allLens) == 0 {
				return nil, nil, apfserr.Wrap(apfserr.ErrNodeCorrupt, "repeat code with no previous length")
			}
			n, err := r.ReadBits(2)
			if err != nil {
				return nil, nil, err
			}
			prev := allLens[len(allLens)-1]
			for i := 0; i < int(n)+3; i++ {
				allLens = append(allLens, prev)
			}
		case sym == 17:
			n, err := r.ReadBits(3)
			if err != nil {
				return nil, nil, err
			}
			for i := 0; i < int(n)+3; i++ {
				allLens = append(allLens, 0)
			}
		case sym == 18:
			n, err := r.ReadBits(7)
			if err != nil {
				return nil, nil, err
			}
			for i := 0; i < int(n)+11; i++ {
				allLens = append(allLens, 0)
			}
		default:
			return nil, nil, apfserr.Wrap(apfserr.ErrNodeCorrupt, "invalid code-length symbol %d", sym)
		}
	}
	if len(allLens) != nlit+ndist {
		return nil, nil, apfserr.Wrap(apfserr.ErrNodeCorrupt, "dynamic huffman code length table overrun")
	}

	lit, err := buildHuffmanTable(allLens[:nlit])
	if err != nil {
		return nil, nil, err
	}
	dist, err := buildHuffmanTable(allLens[nlit:])
	if err != nil {
		return nil, nil, err
	}
	return lit, dist, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
