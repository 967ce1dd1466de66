/*
Copyright © 2026 the SMRT authors.
This file is part of SMRT.

SMRT is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

SMRT is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with SMRT.  If not, see <http://www.gnu.org/licenses/>.
*/

package smrtutil

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/nfnt/resize"
	"github.com/spectralmodel/smrt"
)

// Quicklook composes a preview image from an image cube. The first
// three bands map to red, green, and blue in band order; cubes with
// fewer than three bands reuse their last band. Radiance is scaled
// linearly so the brightest value in the used bands is white.
func Quicklook(cube *smrt.ImageCube, maxDim int) (image.Image, error) {
	n := len(cube.Channels)
	if n == 0 {
		return nil, fmt.Errorf("smrtutil: quicklook: image cube has no bands")
	}
	h, w := cube.Data.Shape[1], cube.Data.Shape[2]
	if h == 0 || w == 0 {
		return nil, fmt.Errorf("smrtutil: quicklook: image cube has no pixels")
	}
	npix := h * w
	var bands [3][]float64
	for i := range bands {
		k := i
		if k > n-1 {
			k = n - 1
		}
		bands[i] = cube.Data.Elements[k*npix : (k+1)*npix]
	}
	var max float64
	for _, b := range bands {
		for _, v := range b {
			if v > max {
				max = v
			}
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < npix; i++ {
		var rgb [3]uint8
		if max > 0 {
			for j, b := range bands {
				v := b[i] / max
				if v < 0 {
					v = 0
				}
				rgb[j] = uint8(v*255 + 0.5)
			}
		}
		img.SetRGBA(i%w, i/w, color.RGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 255})
	}
	if maxDim > 0 && (h > maxDim || w > maxDim) {
		return resize.Thumbnail(uint(maxDim), uint(maxDim), img, resize.Bilinear), nil
	}
	return img, nil
}

// WriteQuicklook writes a PNG preview of an image cube to path,
// scaled down proportionally if it is larger than maxDim pixels.
func WriteQuicklook(path string, cube *smrt.ImageCube, maxDim int) error {
	img, err := Quicklook(cube, maxDim)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("smrtutil: creating quicklook file: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("smrtutil: writing quicklook file: %v", err)
	}
	return f.Close()
}
