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
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spectralmodel/smrt"
	"github.com/spectralmodel/smrt/microphys"
	"github.com/spectralmodel/smrt/science/rte/sos"
	"github.com/spectralmodel/smrt/science/scatter/mie"
	"github.com/spectralmodel/smrt/science/scatter/rayleigh"
	"github.com/spf13/cobra"
)

// A CameraSpec holds the sensor geometry settings for rendering.
type CameraSpec struct {
	// Projection selects the sensor geometry, either "orthographic"
	// or "perspective".
	Projection string

	// Resolution, Azimuth, Zenith, and Altitude configure the
	// orthographic projection. An Altitude of zero places the sensor
	// at the top of the medium.
	Resolution, Azimuth, Zenith, Altitude float64

	// Position, LookAt, FOV, Height, and Width configure the
	// perspective projection.
	Position, LookAt smrt.Vector
	FOV              float64
	Height, Width    int

	// SampleStep is the ray marching step in km. Zero selects the
	// camera default.
	SampleStep float64
}

// projection creates the viewing rays for the medium grid g.
func (c *CameraSpec) projection(g *smrt.Grid) (smrt.Projection, error) {
	switch strings.ToLower(c.Projection) {
	case "orthographic":
		altitude := c.Altitude
		if altitude == 0 {
			altitude = g.Top()
		}
		return smrt.NewOrthographic(g.Bounds(), c.Resolution, c.Azimuth, c.Zenith, altitude)
	case "perspective":
		return smrt.NewPerspective(c.Position, c.LookAt, c.FOV, c.Height, c.Width)
	default:
		return nil, fmt.Errorf("smrt: camera projection must be 'orthographic' or 'perspective' but is '%s'", c.Projection)
	}
}

// readCloud reads cloud microphysics data from a .csv file or an .xlsx
// workbook, depending on the file extension.
func readCloud(cloudData, cloudSheet string) (*microphys.Cloud, error) {
	switch ext := strings.ToLower(filepath.Ext(cloudData)); ext {
	case ".csv":
		return microphys.ReadCloudCSV(cloudData)
	case ".xlsx":
		return microphys.ReadCloudXLSX(cloudData, cloudSheet)
	default:
		return nil, fmt.Errorf("smrt: cloud data must be a .csv or .xlsx file but is '%s'", cloudData)
	}
}

// Run runs the model: it builds the optical medium from the configured
// constituents, solves the radiative transfer equation for each
// spectral channel, renders the solved radiance fields, and writes the
// resulting image cube.
//
// CobraCommand is the cobra.Command instance where Run is called from.
// It is needed to print log messages to the command output.
//
// LogFile is the path to the desired logfile location.
//
// OutputFile is the path to the desired output file location. It can be
// a blob storage location, in which case the results are uploaded after
// the run finishes.
//
// OutputVariables specifies derived variables to include in the output
// file, mapping the name of each variable to the expression that
// calculates it from the spectral bands.
//
// wavelengths and solarFluxes give the channel wavelengths in μm and
// the solar beam irradiance in W/m² for each of them; solarAzimuth and
// solarZenith give the beam geometry in degrees.
//
// mieTables is the path template of the Mie scattering property
// tables; it must contain the token [wavelength].
//
// cloudData is the path to the cloud microphysics data, and cloudSheet
// names the workbook sheet when the data is an .xlsx file.
//
// temperatureProfile, if not empty, is the path to an atmospheric
// temperature profile, which together with surfacePressure (mb) adds a
// molecular Rayleigh scattering constituent to the medium.
//
// If skipMissingChannels is true, wavelengths without a Mie table are
// skipped with a warning instead of stopping the run.
//
// numIterations is the iteration budget given to every channel, and
// numerics holds the discretization and convergence settings.
//
// camera describes the sensor geometry for rendering.
//
// quicklookFile, if not empty, is the path of a PNG preview image to
// write alongside the output file, scaled down to quicklookMaxDim
// pixels if the rendering is larger.
//
// workers is the number of channels to solve and render concurrently;
// zero selects the number of processors.
func Run(ctx context.Context, CobraCommand *cobra.Command, LogFile, OutputFile string,
	OutputVariables map[string]string, wavelengths, solarFluxes []float64,
	solarAzimuth, solarZenith float64, mieTables, cloudData, cloudSheet,
	temperatureProfile string, surfacePressure float64, skipMissingChannels bool,
	numIterations int, numerics smrt.NumericsConfig, camera *CameraSpec,
	quicklookFile string, quicklookMaxDim, workers int) error {

	startTime := time.Now()

	var upload uploader

	logfile, err := os.Create(upload.maybeUpload(LogFile))
	if err != nil {
		return fmt.Errorf("smrt: problem creating log file: %v", err)
	}
	log := logrus.New()
	log.SetOutput(io.MultiWriter(CobraCommand.OutOrStdout(), logfile))
	defer logfile.Close()

	if len(solarFluxes) != len(wavelengths) {
		return fmt.Errorf("smrt: there are %d SolarFluxes values for %d Wavelengths; the lists must match", len(solarFluxes), len(wavelengths))
	}

	log.Info("Parsing output variable expressions...")
	o, err := smrt.NewOutputter(upload.maybeUpload(OutputFile), OutputVariables, nil)
	if err != nil {
		return err
	}
	if upload.err != nil {
		return upload.err
	}

	log.Info("Reading cloud data...")
	cloud, err := readCloud(cloudData, cloudSheet)
	if err != nil {
		return err
	}
	droplets, err := mie.NewDropletModel(&mie.TableSet{PathTemplate: mieTables}, cloud.LWC, cloud.Reff)
	if err != nil {
		return err
	}

	var constituent smrt.Scatterer = droplets
	if skipMissingChannels {
		multi, skipped, err := smrt.NewMultiScatterer(droplets, wavelengths, true)
		if err != nil {
			return err
		}
		for _, serr := range skipped {
			log.Warn(serr)
		}
		if multi.Len() == 0 {
			return fmt.Errorf("smrt: no Mie tables were found for any of the configured wavelengths")
		}
		wavelengths, solarFluxes = keepHeldChannels(multi, wavelengths, solarFluxes)
		constituent = multi
	}

	medium := smrt.NewMedium()
	if err := medium.AddScatterer("droplets", constituent); err != nil {
		return err
	}
	if temperatureProfile != "" {
		log.Info("Reading temperature profile...")
		temperature, err := microphys.ReadProfileCSV(temperatureProfile)
		if err != nil {
			return err
		}
		air, err := rayleigh.New(temperature, surfacePressure)
		if err != nil {
			return err
		}
		if err := medium.AddScatterer("air", air); err != nil {
			return err
		}
	}

	log.Info("Composing channel problems...")
	problems, err := smrt.BuildProblems(medium, wavelengths, solarFluxes, solarAzimuth, solarZenith, numerics)
	if err != nil {
		return err
	}
	channels := make([]smrt.Channel, len(problems))
	for i, p := range problems {
		channels[i] = p.Channel
	}
	if err := o.CheckOutputVars(channels); err != nil {
		return err
	}

	sa := smrt.NewSolverArray(sos.New())
	sa.Workers = workers
	sa.Log = log
	for _, p := range problems {
		if err := sa.AddSolver(p); err != nil {
			return err
		}
	}

	log.Info("Solving radiative transfer...")
	if err := sa.Solve(ctx, numIterations); err != nil {
		return err
	}

	projection, err := camera.projection(medium.Grid())
	if err != nil {
		return err
	}
	cam := smrt.NewCamera(projection)
	cam.SampleStep = camera.SampleStep
	cam.Workers = workers
	cam.Log = log

	log.Info("Rendering image cube...")
	cube, err := cam.Render(ctx, sa)
	if err != nil {
		return err
	}

	log.Info("Writing output...")
	if err := o.Output(cube, sa.Statuses()); err != nil {
		return err
	}
	if quicklookFile != "" {
		if err := WriteQuicklook(upload.maybeUpload(quicklookFile), cube, quicklookMaxDim); err != nil {
			return err
		}
	}
	if err := upload.uploadOutput(ctx); err != nil {
		return err
	}

	log.Infof("Elapsed time: %v", time.Since(startTime))
	return nil
}

// keepHeldChannels filters the wavelength and flux lists down to the
// channels held by m, preserving their order.
func keepHeldChannels(m *smrt.MultiScatterer, wavelengths, fluxes []float64) ([]float64, []float64) {
	keptW := make([]float64, 0, m.Len())
	keptF := make([]float64, 0, m.Len())
	for i, w := range wavelengths {
		if _, err := m.OpticsAt(w); err == nil {
			keptW = append(keptW, w)
			keptF = append(keptF, fluxes[i])
		}
	}
	return keptW, keptF
}

// DescribeTables reads the Mie property table for each wavelength (μm)
// from the path template mieTables and writes a short summary of each
// to w.
func DescribeTables(w io.Writer, mieTables string, wavelengths []float64) error {
	tables := &mie.TableSet{PathTemplate: mieTables}
	for _, wavelength := range wavelengths {
		t, err := tables.Table(wavelength)
		if err != nil {
			return err
		}
		n := len(t.Reff)
		fmt.Fprintf(w, "%s: wavelength %g μm, %d droplet radii from %g to %g μm, %d phase function terms\n",
			tables.Path(wavelength), t.Wavelength, n, t.Reff[0], t.Reff[n-1], t.Phase.Terms())
	}
	return nil
}
