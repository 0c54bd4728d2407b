package blurhash

import (
	"fmt"
	"image"
	"image/draw"
	"math"
	"strings"
)

// Encode computes the BlurHash of img with xComponents x yComponents DCT components (1..9 each).
// Alpha is ignored. Large images should be downscaled first: cost is O(w*h*x*y).
func Encode(img image.Image, xComponents, yComponents int) (string, error) {
	if xComponents < 1 || xComponents > 9 || yComponents < 1 || yComponents > 9 {
		return "", fmt.Errorf("%w: got %dx%d", ErrComponentRange, xComponents, yComponents)
	}
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width <= 0 || height <= 0 {
		return "", ErrEmptyImage
	}

	src, ok := img.(*image.NRGBA)
	if !ok || b.Min != (image.Point{}) {
		src = image.NewNRGBA(image.Rect(0, 0, width, height))
		draw.Draw(src, src.Bounds(), img, b.Min, draw.Src)
	}

	// linear light per pixel, computed once for all components
	linear := make([]factor, width*height)
	for y := 0; y < height; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < width; x++ {
			linear[y*width+x] = factor{
				r: SRGBToLinear(int(row[4*x+0])),
				g: SRGBToLinear(int(row[4*x+1])),
				b: SRGBToLinear(int(row[4*x+2])),
			}
		}
	}

	cosX := cosines(width, xComponents)
	cosY := cosines(height, yComponents)
	scale := 1 / float64(width*height)

	fs := make([]factor, 0, xComponents*yComponents)
	for j := 0; j < yComponents; j++ {
		for i := 0; i < xComponents; i++ {
			normalisation := 2.0
			if i == 0 && j == 0 {
				normalisation = 1
			}
			var f factor
			for y := 0; y < height; y++ {
				for x := 0; x < width; x++ {
					basis := normalisation * cosX[x*xComponents+i] * cosY[y*yComponents+j]
					p := linear[y*width+x]
					f.r += basis * p.r
					f.g += basis * p.g
					f.b += basis * p.b
				}
			}
			f.r *= scale
			f.g *= scale
			f.b *= scale
			fs = append(fs, f)
		}
	}

	var hash strings.Builder
	hash.Grow(4 + 2*len(fs))
	hash.WriteString(Encode83((xComponents-1)+(yComponents-1)*9, 1))

	dc, ac := fs[0], fs[1:]
	maximumValue := 1.0
	if len(ac) > 0 {
		actualMaximum := 0.0
		for _, f := range ac {
			actualMaximum = math.Max(actualMaximum, math.Max(math.Abs(f.r), math.Max(math.Abs(f.g), math.Abs(f.b))))
		}
		quantised := int(math.Max(0, math.Min(82, math.Floor(actualMaximum*166-0.5))))
		maximumValue = float64(quantised+1) / 166
		hash.WriteString(Encode83(quantised, 1))
	} else {
		hash.WriteString(Encode83(0, 1))
	}

	hash.WriteString(Encode83(encodeDC(dc), 4))
	for _, f := range ac {
		hash.WriteString(Encode83(encodeAC(f, maximumValue), 2))
	}
	return hash.String(), nil
}

func encodeDC(f factor) int {
	return LinearToSRGB(f.r)<<16 + LinearToSRGB(f.g)<<8 + LinearToSRGB(f.b)
}

func encodeAC(f factor, maximumValue float64) int {
	quant := func(v float64) int {
		return int(math.Max(0, math.Min(18, math.Floor(signPow(v/maximumValue, 0.5)*9+9.5))))
	}
	return quant(f.r)*19*19 + quant(f.g)*19 + quant(f.b)
}
