package recognition

import (
	"image"
	"math"
)

// CosineSimilarity returns the cosine of the angle between a and b, clamped
// to [-1, 1]. Vectors of different length or with zero magnitude score 0.
func CosineSimilarity(a, b Embedding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

// PixelVariance returns the variance of all 8-bit colour channel values of
// img (alpha excluded).
func PixelVariance(img image.Image) float64 {
	b := img.Bounds()
	n := b.Dx() * b.Dy() * 3
	if n == 0 {
		return 0
	}

	var sum, sumSq float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			for _, c := range [3]uint32{r >> 8, g >> 8, bl >> 8} {
				v := float64(c)
				sum += v
				sumSq += v * v
			}
		}
	}

	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}
