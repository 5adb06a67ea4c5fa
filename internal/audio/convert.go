package audio

import "math"

// Float32ToInt16 scales samples in [-1, 1] into the full int16 range,
// saturating anything outside it. dst must be at least len(src).
func Float32ToInt16(dst []int16, src []float32) {
	for i, s := range src {
		v := math.Round(float64(s) * 32768)
		switch {
		case v >= math.MaxInt16:
			dst[i] = math.MaxInt16
		case v <= math.MinInt16:
			dst[i] = math.MinInt16
		default:
			dst[i] = int16(v)
		}
	}
}

func Int32ToInt16(dst []int16, src []int32) {
	for i, s := range src {
		dst[i] = int16(s >> 16)
	}
}

func Int8ToInt16(dst []int16, src []int8) {
	for i, s := range src {
		dst[i] = int16(s) << 8
	}
}

func Uint8ToInt16(dst []int16, src []uint8) {
	for i, s := range src {
		dst[i] = (int16(s) - 128) << 8
	}
}
