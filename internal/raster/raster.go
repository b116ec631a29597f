package raster

import (
	"image"
	"image/color"
	"image/draw"
)

// Image is a decoded page or picture held as 8-bit RGBA pixels.
type Image struct {
	Width  int
	Height int
	Pix    *image.RGBA
}

// FromImage copies any image.Image into an RGBA raster anchored at the origin.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return &Image{Width: b.Dx(), Height: b.Dy(), Pix: dst}
}

// OnWhite composites src over an opaque white canvas.
// Transparent regions come out white instead of black.
func OnWhite(src image.Image) *Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return &Image{Width: b.Dx(), Height: b.Dy(), Pix: dst}
}

// Image exposes the raster through the standard image interface.
func (i *Image) Image() image.Image {
	return i.Pix
}
