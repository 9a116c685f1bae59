package register

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// fft2D computes the unnormalized 2-D DFT of a row-major real plane.
// Rows are transformed first, then columns, each with a Gonum complex FFT.
func fft2D(data []float64, width, height int) []complex128 {
	buf := make([]complex128, width*height)
	for i, v := range data {
		buf[i] = complex(v, 0)
	}

	rowFFT := fourier.NewCmplxFFT(width)
	rowSrc := make([]complex128, width)
	rowDst := make([]complex128, width)
	for y := 0; y < height; y++ {
		copy(rowSrc, buf[y*width:(y+1)*width])
		rowFFT.Coefficients(rowDst, rowSrc)
		copy(buf[y*width:(y+1)*width], rowDst)
	}

	colFFT := fourier.NewCmplxFFT(height)
	colSrc := make([]complex128, height)
	colDst := make([]complex128, height)
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			colSrc[y] = buf[y*width+x]
		}
		colFFT.Coefficients(colDst, colSrc)
		for y := 0; y < height; y++ {
			buf[y*width+x] = colDst[y]
		}
	}

	return buf
}

// ifft2D inverts fft2D and returns the real part of the result.
// Gonum's transforms are unnormalized, so the output is scaled by 1/(w*h).
func ifft2D(coeff []complex128, width, height int) []float64 {
	buf := make([]complex128, len(coeff))
	copy(buf, coeff)

	colFFT := fourier.NewCmplxFFT(height)
	colSrc := make([]complex128, height)
	colDst := make([]complex128, height)
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			colSrc[y] = buf[y*width+x]
		}
		colFFT.Sequence(colDst, colSrc)
		for y := 0; y < height; y++ {
			buf[y*width+x] = colDst[y]
		}
	}

	rowFFT := fourier.NewCmplxFFT(width)
	rowSrc := make([]complex128, width)
	rowDst := make([]complex128, width)
	result := make([]float64, width*height)
	scale := 1.0 / float64(width*height)
	for y := 0; y < height; y++ {
		copy(rowSrc, buf[y*width:(y+1)*width])
		rowFFT.Sequence(rowDst, rowSrc)
		for x := 0; x < width; x++ {
			result[y*width+x] = real(rowDst[x]) * scale
		}
	}

	return result
}
