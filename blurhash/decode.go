package blurhash

import (
	"image"
	"image/color"
	"math"
)

// factor is one color component in linear light.
type factor struct {
	r, g, b float64
}

// gridSize returns the component grid encoded by the size flag.
func gridSize(flag int) (numX, numY int) {
	if flag < 0 {
		flag = 0
	}
	return flag%9 + 1, flag/9 + 1
}

func decodeDC(value int) factor {
	return factor{
		r: SRGBToLinear(value >> 16),
		g: SRGBToLinear((value >> 8) & 255),
		b: SRGBToLinear(value & 255),
	}
}

func decodeAC(value int, maximumValue float64) factor {
	quantR := value / (19 * 19)
	quantG := (value / 19) % 19
	quantB := value % 19
	return factor{
		r: signPow(float64(quantR-9)/9, 2) * maximumValue,
		g: signPow(float64(quantG-9)/9, 2) * maximumValue,
		b: signPow(float64(quantB-9)/9, 2) * maximumValue,
	}
}

// factors parses the DC and AC components of hash without validating it.
func factors(hash string, punch float64) ([]factor, int, int) {
	numX, numY := gridSize(Decode83(segment(hash, 0, 1)))
	maximumValue := float64(Decode83(segment(hash, 1, 2))+1) / 166

	colors := make([]factor, numX*numY)
	colors[0] = decodeDC(Decode83(segment(hash, 2, 6)))
	for i := 1; i < len(colors); i++ {
		colors[i] = decodeAC(Decode83(segment(hash, 4+i*2, 6+i*2)), maximumValue*punch)
	}
	return colors, numX, numY
}

// cosines returns cos(pi*p*c/size) for every position p in [0,size) and component c in [0,n),
// laid out as table[p*n+c].
func cosines(size, n int) []float64 {
	table := make([]float64, size*n)
	for p := 0; p < size; p++ {
		for c := 0; c < n; c++ {
			table[p*n+c] = math.Cos(math.Pi * float64(p) * float64(c) / float64(size))
		}
	}
	return table
}

// Decode renders hash into a width x height RGBA buffer (row-major, 4 bytes per pixel,
// alpha always 255). punch scales the AC components; values <= 0 mean 1.
//
// The hash is not validated: malformed input yields meaningless but deterministic pixels.
// Use Validate first when the source is untrusted. Width or height <= 0 yields an empty buffer.
func Decode(hash string, width, height int, punch float64) []byte {
	if width <= 0 || height <= 0 {
		return []byte{}
	}
	if punch <= 0 {
		punch = 1
	}

	colors, numX, numY := factors(hash, punch)
	cosX := cosines(width, numX)
	cosY := cosines(height, numY)

	bytesPerRow := width * 4
	pixels := make([]byte, bytesPerRow*height)
	for y := 0; y < height; y++ {
		rowY := cosY[y*numY : (y+1)*numY]
		for x := 0; x < width; x++ {
			rowX := cosX[x*numX : (x+1)*numX]
			var r, g, b float64
			for j := 0; j < numY; j++ {
				for i := 0; i < numX; i++ {
					basis := rowX[i] * rowY[j]
					c := colors[i+j*numX]
					r += c.r * basis
					g += c.g * basis
					b += c.b * basis
				}
			}

			off := 4*x + y*bytesPerRow
			pixels[off+0] = uint8(LinearToSRGB(r))
			pixels[off+1] = uint8(LinearToSRGB(g))
			pixels[off+2] = uint8(LinearToSRGB(b))
			pixels[off+3] = 255
		}
	}
	return pixels
}

// DecodeImage is Decode wrapped in an *image.NRGBA. The image is empty when width or height <= 0.
func DecodeImage(hash string, width, height int, punch float64) *image.NRGBA {
	pix := Decode(hash, width, height, punch)
	if len(pix) == 0 {
		return image.NewNRGBA(image.Rectangle{})
	}
	return &image.NRGBA{
		Pix:    pix,
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}
}

// AverageColor returns the DC component of hash, i.e. the average color of the image.
func AverageColor(hash string) (color.NRGBA, error) {
	if err := Validate(hash); err != nil {
		return color.NRGBA{}, err
	}
	value := Decode83(hash[2:6])
	return color.NRGBA{
		R: uint8(value >> 16),
		G: uint8(value >> 8),
		B: uint8(value),
		A: 255,
	}, nil
}
