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

package smrt

import (
	"context"
	"math"
	"runtime"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// A Ray is a half-line along which radiance is gathered. Dir is a unit
// vector pointing from the sensor into the scene.
type Ray struct {
	Origin, Dir Vector
}

// A Projection generates the viewing rays of a sensor. Projections are
// immutable once constructed.
type Projection interface {
	// Size returns the image height and width in pixels.
	Size() (h, w int)

	// Rays returns one ray per pixel in row-major order. The caller
	// must not modify the returned slice.
	Rays() []Ray
}

// An Orthographic projection views a horizontal map extent with
// parallel rays, like a satellite imager. The ray through each pixel
// passes through the pixel's map location at the viewing altitude.
type Orthographic struct {
	h, w int
	rays []Ray
}

// NewOrthographic creates an orthographic projection covering the
// horizontal extent bounds (km) with pixels of the given resolution
// (km). azimuth is measured in degrees clockwise from the +y axis and
// zenith in degrees from the upward vertical; together they give the
// direction from the scene toward the sensor, so zenith 0 is the nadir
// view. altitude (km) positions the ray origins. Row zero of the image
// is the row with the largest y coordinate.
func NewOrthographic(bounds *geom.Bounds, resolution, azimuth, zenith, altitude float64) (*Orthographic, error) {
	if bounds == nil {
		return nil, configErrorf("smrt: creating orthographic projection: no bounds")
	}
	if !(resolution > 0) {
		return nil, configErrorf("smrt: creating orthographic projection: resolution %g km is not positive", resolution)
	}
	if bounds.Max.X < bounds.Min.X || bounds.Max.Y < bounds.Min.Y {
		return nil, configErrorf("smrt: creating orthographic projection: bounds %+v are inverted", *bounds)
	}
	if !(zenith >= 0 && zenith < 90) {
		return nil, configErrorf("smrt: creating orthographic projection: sensor zenith %g° does not view downward (0° ≤ zenith < 90°)", zenith)
	}
	θ := zenith * math.Pi / 180
	φ := azimuth * math.Pi / 180
	// The unit vector from the scene toward the sensor, negated to
	// point along the rays.
	dir := Vector{
		X: -math.Sin(θ) * math.Sin(φ),
		Y: -math.Sin(θ) * math.Cos(φ),
		Z: -math.Cos(θ),
	}
	w := int(math.Floor((bounds.Max.X-bounds.Min.X)/resolution)) + 1
	h := int(math.Floor((bounds.Max.Y-bounds.Min.Y)/resolution)) + 1
	p := &Orthographic{h: h, w: w, rays: make([]Ray, 0, h*w)}
	for r := 0; r < h; r++ {
		y := bounds.Max.Y - float64(r)*resolution
		for c := 0; c < w; c++ {
			x := bounds.Min.X + float64(c)*resolution
			p.rays = append(p.rays, Ray{
				Origin: Vector{X: x, Y: y, Z: altitude},
				Dir:    dir,
			})
		}
	}
	return p, nil
}

// Size implements the Projection interface.
func (p *Orthographic) Size() (h, w int) { return p.h, p.w }

// Rays implements the Projection interface.
func (p *Orthographic) Rays() []Ray { return p.rays }

// A Perspective projection is a pinhole camera, for views from within
// or near the domain.
type Perspective struct {
	h, w int
	rays []Ray
}

// NewPerspective creates a pinhole camera at position looking toward
// lookAt, with the given vertical field of view in degrees and image
// size in pixels.
func NewPerspective(position, lookAt Vector, fov float64, height, width int) (*Perspective, error) {
	if height < 1 || width < 1 {
		return nil, configErrorf("smrt: creating perspective projection: image size %d×%d is not positive", height, width)
	}
	if !(fov > 0 && fov < 180) {
		return nil, configErrorf("smrt: creating perspective projection: field of view %g° is outside (0°, 180°)", fov)
	}
	forward := lookAt.Sub(position)
	if forward.Norm() == 0 {
		return nil, configErrorf("smrt: creating perspective projection: camera position and look-at point coincide")
	}
	forward = forward.Normalize()
	worldUp := Vector{Z: 1}
	if math.Abs(forward.Dot(worldUp)) > 1-1.e-9 {
		// Looking straight up or down; any horizontal up vector works.
		worldUp = Vector{Y: 1}
	}
	right := forward.Cross(worldUp).Normalize()
	up := right.Cross(forward)

	// Columns are the camera basis in world coordinates, so that
	// rotate maps camera space (right, up, forward) to world space.
	rotate := mat.NewDense(3, 3, []float64{
		right.X, up.X, forward.X,
		right.Y, up.Y, forward.Y,
		right.Z, up.Z, forward.Z,
	})

	halfH := math.Tan(fov * math.Pi / 360)
	halfW := halfH * float64(width) / float64(height)
	p := &Perspective{h: height, w: width, rays: make([]Ray, 0, height*width)}
	camDir := mat.NewVecDense(3, nil)
	worldDir := mat.NewVecDense(3, nil)
	for r := 0; r < height; r++ {
		v := halfH * (1 - 2*(float64(r)+0.5)/float64(height))
		for c := 0; c < width; c++ {
			u := halfW * (2*(float64(c)+0.5)/float64(width) - 1)
			camDir.SetVec(0, u)
			camDir.SetVec(1, v)
			camDir.SetVec(2, 1)
			worldDir.MulVec(rotate, camDir)
			dir := Vector{
				X: worldDir.AtVec(0),
				Y: worldDir.AtVec(1),
				Z: worldDir.AtVec(2),
			}.Normalize()
			p.rays = append(p.rays, Ray{Origin: position, Dir: dir})
		}
	}
	return p, nil
}

// Size implements the Projection interface.
func (p *Perspective) Size() (h, w int) { return p.h, p.w }

// Rays implements the Projection interface.
func (p *Perspective) Rays() []Ray { return p.rays }

// An ImageCube is a stack of single-channel images sharing one pixel
// geometry. Band k always holds the image for the channel with index
// k, so the cube can never disagree with the channel list it was
// rendered from.
type ImageCube struct {
	// Channels identifies the channel of each band.
	Channels []Channel

	// Data holds radiance in W/m²/sr with shape [band, row, column].
	Data *sparse.DenseArray
}

// Wavelengths returns the band wavelengths in μm, ordered by band.
func (c *ImageCube) Wavelengths() []float64 {
	w := make([]float64, len(c.Channels))
	for i, ch := range c.Channels {
		w[i] = ch.Wavelength
	}
	return w
}

// Band returns a copy of band k as a [row, column] array.
func (c *ImageCube) Band(k int) (*sparse.DenseArray, error) {
	if k < 0 || k >= len(c.Channels) {
		return nil, configErrorf("smrt: image cube holds bands 0–%d; band %d was requested", len(c.Channels)-1, k)
	}
	h, w := c.Data.Shape[1], c.Data.Shape[2]
	band := sparse.ZerosDense(h, w)
	copy(band.Elements, c.Data.Elements[k*h*w:(k+1)*h*w])
	return band, nil
}

// A Camera renders the solved radiance fields of a solver array into a
// multispectral image cube.
type Camera struct {
	Projection Projection

	// SampleStep is the ray marching step in km. Zero selects half of
	// the smallest vertical grid spacing.
	SampleStep float64

	// Workers sets the number of channels rendered concurrently. Zero
	// selects the number of processors.
	Workers int

	// Log receives progress information.
	Log logrus.FieldLogger
}

// NewCamera creates a camera with the given projection.
func NewCamera(projection Projection) *Camera {
	return &Camera{
		Projection: projection,
		Log:        logrus.StandardLogger(),
	}
}

// Render integrates the solved radiance field of every channel in sa
// along each viewing ray, treating the field as an isotropic source
// function attenuated by the channel extinction:
//
//	I = ∫ J(s) β(s) exp(-τ(s)) ds,  τ(s) = ∫₀ˢ β ds′
//
// Channels render concurrently and band k of the result always holds
// channel k, whatever order the bands finish in. Channels without a
// radiance iterate (unsolved or diverged) render as zeros. An empty
// solver array renders an empty cube.
func (c *Camera) Render(ctx context.Context, sa *SolverArray) (*ImageCube, error) {
	if c.Projection == nil {
		return nil, configErrorf("smrt: rendering: no projection")
	}
	if sa == nil {
		return nil, configErrorf("smrt: rendering: no solver array")
	}
	log := c.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	h, w := c.Projection.Size()
	problems := sa.Problems()
	cube := &ImageCube{
		Channels: make([]Channel, len(problems)),
		Data:     sparse.ZerosDense(len(problems), h, w),
	}
	for i, p := range problems {
		cube.Channels[i] = p.Channel
	}
	if len(problems) == 0 {
		return cube, nil
	}

	rays := c.Projection.Rays()
	nprocs := c.Workers
	if nprocs < 1 {
		nprocs = runtime.GOMAXPROCS(-1)
	}
	jobChan := make(chan int, len(problems))
	errChan := make(chan error)
	for worker := 0; worker < nprocs; worker++ {
		go func() {
			for k := range jobChan {
				// Bands are disjoint slices of the cube, so the
				// workers write without locking.
				band := cube.Data.Elements[k*h*w : (k+1)*h*w]
				if err := c.renderBand(ctx, problems[k], rays, band, log); err != nil {
					errChan <- err
					return
				}
			}
			errChan <- nil
		}()
	}
	for k := range problems {
		jobChan <- k
	}
	close(jobChan)
	var firstErr error
	for worker := 0; worker < nprocs; worker++ {
		if err := <-errChan; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return cube, nil
}

// renderBand integrates one channel along every ray into band, which
// has one element per ray.
func (c *Camera) renderBand(ctx context.Context, p *ChannelProblem, rays []Ray, band []float64, log logrus.FieldLogger) error {
	radiance := p.Radiance()
	if radiance == nil {
		log.WithFields(logrus.Fields{
			"channel": int(p.Channel.Index),
			"status":  p.Status().String(),
		}).Warn("rendering channel without a radiance iterate as zeros")
		return nil
	}
	g := p.Optics.Grid
	step := c.SampleStep
	if step <= 0 {
		step = minSpacing(g.Z()) / 2
		if step <= 0 {
			step = 1
		}
	}
	for i, r := range rays {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		band[i] = marchRay(r, g, p.Optics.Extinction, radiance.Data, step)
	}
	return nil
}

// minSpacing returns the smallest gap between consecutive axis
// coordinates, or zero for an axis with fewer than two coordinates.
func minSpacing(axis []float64) float64 {
	var min float64
	for i := 1; i < len(axis); i++ {
		if d := axis[i] - axis[i-1]; min == 0 || d < min {
			min = d
		}
	}
	return min
}

// marchRay integrates source·extinction·transmission along the part of
// the ray inside the grid, sampling both arrays trilinearly at
// midpoints of steps of the given length.
func marchRay(r Ray, g *Grid, extinction, source *sparse.DenseArray, step float64) float64 {
	t0, t1, ok := clipRay(r, g)
	if !ok {
		return 0
	}
	shape := g.Shape()
	var sum, τ float64
	for t := t0 + step/2; t < t1; t += step {
		pos := r.Origin.Add(r.Dir.Scale(t))
		zw, okz := locate(g.z, pos.Z)
		yw, oky := locate(g.y, pos.Y)
		xw, okx := locate(g.x, pos.X)
		if !okz || !oky || !okx {
			continue
		}
		var β, J float64
		corners(shape, zw, yw, xw, func(flat int, w float64) {
			β += w * extinction.Elements[flat]
			J += w * source.Elements[flat]
		})
		sum += J * β * math.Exp(-τ) * step
		τ += β * step
	}
	return sum
}

// clipRay returns the parameter interval over which the ray is inside
// the grid extent. Axes the grid does not have do not constrain the
// interval.
func clipRay(r Ray, g *Grid) (t0, t1 float64, ok bool) {
	t0, t1 = 0, math.Inf(1)
	for _, ax := range []struct {
		v    []float64
		o, d float64
	}{
		{g.z, r.Origin.Z, r.Dir.Z},
		{g.y, r.Origin.Y, r.Dir.Y},
		{g.x, r.Origin.X, r.Dir.X},
	} {
		if len(ax.v) < 2 {
			continue
		}
		lo, hi := ax.v[0], ax.v[len(ax.v)-1]
		if ax.d == 0 {
			if ax.o < lo || ax.o > hi {
				return 0, 0, false
			}
			continue
		}
		ta := (lo - ax.o) / ax.d
		tb := (hi - ax.o) / ax.d
		if ta > tb {
			ta, tb = tb, ta
		}
		if ta > t0 {
			t0 = ta
		}
		if tb < t1 {
			t1 = tb
		}
		if t0 >= t1 {
			return 0, 0, false
		}
	}
	if t1 == math.Inf(1) {
		// No axis constrained the ray; there is nothing to march.
		return 0, 0, false
	}
	if t0 < 0 {
		t0 = 0
	}
	if t0 >= t1 {
		return 0, 0, false
	}
	return t0, t1, true
}
