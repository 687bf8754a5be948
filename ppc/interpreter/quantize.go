package interpreter

import "math"

// Reader and Writer are the halves of Bus the quantizer needs.
type Reader interface {
	Read(addr uint32, size int) (uint64, bool)
}

type Writer interface {
	Write(addr uint32, size int, v uint64) bool
}

// Quantization types held in GQR ld_type/st_type.
const (
	QuantFloat = 0
	QuantU8    = 4
	QuantU16   = 5
	QuantS8    = 6
	QuantS16   = 7
)

// GQR field accessors.
func LoadType(gqr uint32) uint32 { return gqr >> 16 & 7 }
func LoadScale(gqr uint32) int { return int(int8(uint8(gqr>>24&0x3F)<<2) >> 2) }
func StoreType(gqr uint32) uint32 { return gqr & 7 }
func StoreScale(gqr uint32) int { return int(int8(uint8(gqr>>8&0x3F)<<2) >> 2) }

// QuantSize is the byte width of one element of type t.
func QuantSize(t uint32) int {
	switch t {
	case QuantU8, QuantS8:
		return 1
	case QuantU16, QuantS16:
		return 2
	}
	return 4
}

func dequantize(raw uint64, t uint32, scale int) float64 {
	switch t {
	case QuantU8:
		return math.Ldexp(float64(uint8(raw)), -scale)
	case QuantU16:
		return math.Ldexp(float64(uint16(raw)), -scale)
	case QuantS8:
		return math.Ldexp(float64(int8(raw)), -scale)
	case QuantS16:
		return math.Ldexp(float64(int16(raw)), -scale)
	}
	return float64(math.Float32frombits(uint32(raw)))
}

func quantize(v float64, t uint32, scale int) uint64 {
	if QuantSize(t) == 4 {
		return uint64(math.Float32bits(float32(v)))
	}
	x := math.Ldexp(v, scale)
	clamp := func(lo, hi float64) float64 {
		switch {
		case math.IsNaN(x):
			return 0
		case x < lo:
			return lo
		case x > hi:
			return hi
		}
		return x
	}
	switch t {
	case QuantU8:
		return uint64(uint8(clamp(0, math.MaxUint8)))
	case QuantU16:
		return uint64(uint16(clamp(0, math.MaxUint16)))
	case QuantS8:
		return uint64(uint8(int8(clamp(math.MinInt8, math.MaxInt8))))
	default:
		return uint64(uint16(int16(clamp(math.MinInt16, math.MaxInt16))))
	}
}

// QuantizedLoad reads one (w) or two elements at ea as configured by gqr.
// With w set, ps1 is 1.0.
func QuantizedLoad(mem Reader, ea, gqr uint32, w bool) (ps0, ps1 float64, ok bool) {
	t, scale := LoadType(gqr), LoadScale(gqr)
	size := QuantSize(t)
	raw, ok := mem.Read(ea, size)
	if !ok {
		return 0, 0, false
	}
	ps0 = dequantize(raw, t, scale)
	if w {
		return ps0, 1.0, true
	}
	raw, ok = mem.Read(ea+uint32(size), size)
	if !ok {
		return 0, 0, false
	}
	return ps0, dequantize(raw, t, scale), true
}

// QuantizedStore writes ps0 (and ps1 unless w) at ea as configured by gqr.
func QuantizedStore(mem Writer, ea, gqr uint32, w bool, ps0, ps1 float64) bool {
	t, scale := StoreType(gqr), StoreScale(gqr)
	size := QuantSize(t)
	if !mem.Write(ea, size, quantize(ps0, t, scale)) {
		return false
	}
	if w {
		return true
	}
	return mem.Write(ea+uint32(size), size, quantize(ps1, t, scale))
}
