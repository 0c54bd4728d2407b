package blurhash

import "math"

// srgbToLinearLUT maps an 8-bit sRGB channel to linear light.
var srgbToLinearLUT [256]float64

func init() {
	for i := range srgbToLinearLUT {
		v := float64(i) / 255
		if v <= 0.04045 {
			srgbToLinearLUT[i] = v / 12.92
		} else {
			srgbToLinearLUT[i] = math.Pow((v+0.055)/1.055, 2.4)
		}
	}
}

// SRGBToLinear converts an 8-bit sRGB channel value to linear light in [0,1].
// Values outside 0..255 are clamped.
func SRGBToLinear(value int) float64 {
	if value < 0 {
		value = 0
	} else if value > 255 {
		value = 255
	}
	return srgbToLinearLUT[value]
}

// LinearToSRGB converts linear light back to an 8-bit sRGB channel value.
// The input is clamped to [0,1]; the result is truncated after adding 0.5. NaN maps to 0.
func LinearToSRGB(value float64) int {
	if math.IsNaN(value) {
		return 0
	}
	v := math.Max(0, math.Min(1, value))
	if v <= 0.0031308 {
		return int(v*12.92*255 + 0.5)
	}
	return int((1.055*math.Pow(v, 1/2.4)-0.055)*255 + 0.5)
}

// signPow raises |x| to exp and keeps the sign of x.
func signPow(x, exp float64) float64 {
	return math.Copysign(math.Pow(math.Abs(x), exp), x)
}
