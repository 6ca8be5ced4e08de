package plink

import "math"

// BED magic: 0x6c 0x1b identify the format, 0x01 marks SNP-major order.
var bedMagic = [3]byte{0x6c, 0x1b, 0x01}

// Two-bit codes, lowest bits first within each byte:
//
//	00 homozygous first allele  → 2
//	01 missing                  → NaN
//	10 heterozygous             → 1
//	11 homozygous second allele → 0
var (
	decodeLUT = buildLUT(false)
	swapLUT   = buildLUT(true)
)

func buildLUT(swap bool) *[256][4]float64 {
	codes := [4]float64{2, math.NaN(), 1, 0}
	if swap {
		codes = [4]float64{0, math.NaN(), 1, 2}
	}
	var lut [256][4]float64
	for b := 0; b < 256; b++ {
		for k := 0; k < 4; k++ {
			lut[b][k] = codes[(b>>(2*k))&0x3]
		}
	}
	return &lut
}

// encodeGenotype is the inverse of decodeLUT for a single value.
func encodeGenotype(g float64) byte {
	switch {
	case math.IsNaN(g):
		return 0x1
	case g == 2:
		return 0x0
	case g == 1:
		return 0x2
	default:
		return 0x3
	}
}

// strideFor returns the bytes per SNP for n individuals.
func strideFor(n int) int {
	return (n + 3) / 4
}

// decodeRow expands one SNP's packed bytes into dst (len(dst) ≤ 4·len(packed)).
func decodeRow(lut *[256][4]float64, packed []byte, dst []float64) {
	n := len(dst)
	full := n / 4
	for b := 0; b < full; b++ {
		copy(dst[4*b:4*b+4], lut[packed[b]][:])
	}
	if rem := n - 4*full; rem > 0 {
		copy(dst[4*full:], lut[packed[full]][:rem])
	}
}
