package stream

import (
	"image"
	"image/color"
)

// I420Size is the byte size of one w×h I420 frame.
func I420Size(w, h int) int {
	cw, ch := (w+1)/2, (h+1)/2
	return w*h + 2*cw*ch
}

// AppendI420 appends img as planar YUV 4:2:0 (Y plane, then U, then V)
// to buf. Chroma is taken from the top-left pixel of each 2×2 block.
func AppendI420(buf []byte, img *image.RGBA) []byte {
	b := img.Rect
	w, h := b.Dx(), b.Dy()
	cw, ch := (w+1)/2, (h+1)/2

	start := len(buf)
	buf = append(buf, make([]byte, I420Size(w, h))...)
	yPlane := buf[start : start+w*h]
	uPlane := buf[start+w*h : start+w*h+cw*ch]
	vPlane := buf[start+w*h+cw*ch:]

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+3]
			yy, cb, cr := color.RGBToYCbCr(px[0], px[1], px[2])
			yPlane[y*w+x] = yy
			if x%2 == 0 && y%2 == 0 {
				i := (y/2)*cw + x/2
				uPlane[i] = cb
				vPlane[i] = cr
			}
		}
	}
	return buf
}
