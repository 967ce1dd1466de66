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
	"image/color"
	"image/png"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/ctessum/sparse"
	"github.com/spectralmodel/smrt"
)

// quicklookCube returns a 2-band 2×2 cube with radiances chosen so the
// scaled pixel values land on whole bytes.
func quicklookCube() *smrt.ImageCube {
	cube := &smrt.ImageCube{
		Channels: []smrt.Channel{
			{Index: 0, Wavelength: 0.672},
			{Index: 1, Wavelength: 0.445},
		},
		Data: sparse.ZerosDense(2, 2, 2),
	}
	copy(cube.Data.Elements, []float64{
		255, 0, 51, 102, // band 0
		255, 255, 0, 204, // band 1
	})
	return cube
}

func TestQuicklook(t *testing.T) {
	img, err := Quicklook(quicklookCube(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 2 || b.Dy() != 2 {
		t.Fatalf("image is %d×%d, want 2×2", b.Dx(), b.Dy())
	}
	// With two bands, blue reuses the second band.
	want := []color.RGBA{
		{R: 255, G: 255, B: 255, A: 255},
		{R: 0, G: 255, B: 255, A: 255},
		{R: 51, G: 0, B: 0, A: 255},
		{R: 102, G: 204, B: 204, A: 255},
	}
	for i, c := range want {
		got := color.RGBAModel.Convert(img.At(i%2, i/2)).(color.RGBA)
		if got != c {
			t.Errorf("pixel %d is %+v, want %+v", i, got, c)
		}
	}
}

func TestQuicklookSingleBand(t *testing.T) {
	cube := &smrt.ImageCube{
		Channels: []smrt.Channel{{Index: 0, Wavelength: 0.672}},
		Data:     sparse.ZerosDense(1, 1, 2),
	}
	copy(cube.Data.Elements, []float64{100, 50})
	img, err := Quicklook(cube, 0)
	if err != nil {
		t.Fatal(err)
	}
	got := color.RGBAModel.Convert(img.At(0, 0)).(color.RGBA)
	if got.R != got.G || got.G != got.B || got.R != 255 {
		t.Errorf("single band pixel is %+v, want gray 255", got)
	}
	got = color.RGBAModel.Convert(img.At(1, 0)).(color.RGBA)
	if got.R != got.G || got.G != got.B || got.R != 128 {
		t.Errorf("single band pixel is %+v, want gray 128", got)
	}
}

func TestQuicklookEmpty(t *testing.T) {
	cube := &smrt.ImageCube{Data: sparse.ZerosDense(0, 1, 1)}
	if _, err := Quicklook(cube, 0); err == nil {
		t.Error("want error for a cube with no bands")
	}
}

func TestQuicklookResize(t *testing.T) {
	cube := &smrt.ImageCube{
		Channels: []smrt.Channel{{Index: 0, Wavelength: 0.672}},
		Data:     sparse.ZerosDense(1, 8, 4),
	}
	for i := range cube.Data.Elements {
		cube.Data.Elements[i] = float64(i)
	}
	img, err := Quicklook(cube, 4)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 2 || b.Dy() != 4 {
		t.Errorf("resized image is %d×%d, want 2×4", b.Dx(), b.Dy())
	}

	// Small renderings are not scaled up.
	img, err = Quicklook(cube, 16)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 8 {
		t.Errorf("image is %d×%d, want 4×8", b.Dx(), b.Dy())
	}
}

func TestWriteQuicklook(t *testing.T) {
	dir, err := ioutil.TempDir("", "smrtutil")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "quicklook.png")
	if err := WriteQuicklook(path, quicklookCube(), 0); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 2 || b.Dy() != 2 {
		t.Fatalf("decoded image is %d×%d, want 2×2", b.Dx(), b.Dy())
	}
	got := color.RGBAModel.Convert(img.At(1, 1)).(color.RGBA)
	if (got != color.RGBA{R: 102, G: 204, B: 204, A: 255}) {
		t.Errorf("decoded pixel (1,1) is %+v", got)
	}
}
