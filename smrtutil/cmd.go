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

// Package smrtutil holds the configuration handling and orchestration
// glue for the SMRT command-line interface.
package smrtutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/lnashier/viper"
	"github.com/spectralmodel/smrt"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to SMRT.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Wavelengths",
			usage: `
              Wavelengths is the list of spectral channel wavelengths to
              simulate, in μm. Wavelengths that round to the same whole
              nanometer are the same channel and may not be repeated.`,
			defaultVal: []string{"0.672", "0.550", "0.445"},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), tableCmd.Flags()},
		},
		{
			name: "SolarFluxes",
			usage: `
              SolarFluxes is the solar beam irradiance for each wavelength
              in W/m², on a plane normal to the beam. It must have one
              value per wavelength.`,
			defaultVal: []string{"1", "1", "1"},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "SolarAzimuth",
			usage: `
              SolarAzimuth is the horizontal direction the solar beam
              travels toward, in degrees clockwise from the +y axis.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "SolarZenith",
			usage: `
              SolarZenith is the angle between the upward vertical and the
              direction the solar beam travels toward, in degrees. A
              downwelling beam has a zenith between 90 and 180; an
              overhead sun is 180.`,
			defaultVal: 165.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "MieTables",
			usage: `
              MieTables is the path to the Mie scattering property tables.
              It must contain the token [wavelength], which is replaced
              by the channel wavelength in whole nanometers, for example
              mie_[wavelength].nc.`,
			defaultVal: "mie_[wavelength].nc",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), tableCmd.Flags()},
		},
		{
			name: "SkipMissingChannels",
			usage: `
              SkipMissingChannels specifies whether wavelengths without a
              Mie table should be skipped with a warning instead of
              stopping the simulation.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "CloudData",
			usage: `
              CloudData is the path to the cloud microphysics data (liquid
              water content and droplet effective radius on a grid). Both
              .csv files and .xlsx workbooks are accepted.`,
			defaultVal: "cloud.csv",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "CloudSheet",
			usage: `
              CloudSheet is the name of the workbook sheet holding the
              cloud data when CloudData is an .xlsx file.`,
			defaultVal: "Sheet1",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "TemperatureProfile",
			usage: `
              TemperatureProfile is the path to a .csv file giving the
              atmospheric temperature profile used for molecular Rayleigh
              scattering. If empty, no molecular constituent is included.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "SurfacePressure",
			usage: `
              SurfacePressure is the surface air pressure in millibars
              used for molecular Rayleigh scattering.`,
			defaultVal: 1013.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "NumIterations",
			usage: `
              NumIterations is the maximum number of radiative transfer
              iterations for each channel. Channels that do not converge
              within the budget keep their most recent iterate.`,
			defaultVal: 100,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "NumMu",
			usage: `
              NumMu is the number of discrete ordinate zenith bins.
              Zero selects the engine default.`,
			defaultVal: 8,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "NumPhi",
			usage: `
              NumPhi is the number of discrete ordinate azimuth bins.
              Zero selects the engine default.`,
			defaultVal: 16,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "SolutionAccuracy",
			usage: `
              SolutionAccuracy is the relative change between successive
              iterates below which a channel solution is considered
              converged.`,
			defaultVal: 1.e-4,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Camera.Projection",
			usage: `
              Camera.Projection selects the sensor geometry: 'orthographic'
              views the domain from above with parallel rays, and
              'perspective' is a pinhole camera.`,
			defaultVal: "orthographic",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Camera.Resolution",
			usage: `
              Camera.Resolution is the orthographic pixel size in km.`,
			defaultVal: 0.02,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Camera.Azimuth",
			usage: `
              Camera.Azimuth is the orthographic viewing azimuth in
              degrees clockwise from the +y axis.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Camera.Zenith",
			usage: `
              Camera.Zenith is the orthographic viewing zenith in degrees
              from the upward vertical. Zero is the nadir view, and the
              view must stay above the horizon (less than 90).`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Camera.Altitude",
			usage: `
              Camera.Altitude is the orthographic sensor altitude in km.
              Zero places the sensor at the top of the medium.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Camera.Position",
			usage: `
              Camera.Position is the perspective camera location as x, y, z
              coordinates in km.`,
			defaultVal: []string{"0", "0", "10"},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Camera.LookAt",
			usage: `
              Camera.LookAt is the point the perspective camera looks
              toward, as x, y, z coordinates in km.`,
			defaultVal: []string{"0", "0", "0"},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Camera.FOV",
			usage: `
              Camera.FOV is the perspective camera vertical field of view
              in degrees.`,
			defaultVal: 60.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Camera.Height",
			usage: `
              Camera.Height is the perspective image height in pixels.`,
			defaultVal: 128,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Camera.Width",
			usage: `
              Camera.Width is the perspective image width in pixels.`,
			defaultVal: 128,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Camera.SampleStep",
			usage: `
              Camera.SampleStep is the ray marching step in km. Zero
              selects half of the smallest vertical grid spacing.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "OutputFile",
			usage: `
              OutputFile is the path to the desired output file location.
              It can include environment variables, and can be a blob
              storage location such as gs://bucket/file.nc.`,
			defaultVal: "smrt_output.nc",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "OutputVariables",
			usage: `
              OutputVariables specifies derived variables to include in
              the output file, mapping the name of each variable to the
              expression that calculates it from the spectral bands, for
              example {"Brightness": "(Band672 + Band550 + Band445) / 3"}.`,
			defaultVal: map[string]string{"Brightness": "(Band672 + Band550 + Band445) / 3"},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "QuicklookFile",
			usage: `
              QuicklookFile is the path of a PNG preview image to write
              alongside the output file. If empty, no preview is written.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "QuicklookMaxDim",
			usage: `
              QuicklookMaxDim is the maximum pixel dimension of the
              quicklook image. Larger renderings are scaled down.`,
			defaultVal: 512,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Workers",
			usage: `
              Workers is the number of channels to solve and render
              concurrently. Zero selects the number of processors.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "LogFile",
			usage: `
              LogFile is the path to the desired logfile location. If
              empty, the logfile will be saved in the same location as
              the output file.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("SMRT")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			case map[string]string:
				b := bytes.NewBuffer(nil)
				e := json.NewEncoder(b)
				e.Encode(option.defaultVal)
				s := string(b.Bytes())
				if option.shorthand == "" {
					set.String(option.name, s, option.usage)
				} else {
					set.StringP(option.name, option.shorthand, s, option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(tableCmd)
}

// outChan returns a channel printing to standard output.
func outChan() chan string {
	outChan := make(chan string)
	go func() {
		for {
			msg := <-outChan
			fmt.Printf(msg)
		}
	}()
	return outChan
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("smrt: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "smrt",
	Short: "A multispectral radiative transfer model.",
	Long: `SMRT simulates the transfer of solar radiation through cloudy
atmospheres and renders the result into multispectral images.
Use the subcommands specified below to access the model functionality.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'SMRT_var' where 'var' is the
name of the variable to be set. Many configuration variables are additionally
allowed to contain environment variables within them.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of SMRT.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("SMRT v%s\n", smrt.Version)
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the model.",
	Long: `run builds the optical medium from the configured constituents,
solves the radiative transfer equation for every spectral channel, renders
the solved radiance fields with the configured camera, and writes the
resulting multispectral image cube to the output file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		outChan := outChan()

		outputFile, err := checkOutputFile(ctx, Cfg.GetString("OutputFile"))
		if err != nil {
			return err
		}
		outputVars, err := checkOutputVars(GetStringMapString("OutputVariables", Cfg))
		if err != nil {
			return err
		}
		wavelengths, err := toFloat64Slice("Wavelengths", Cfg)
		if err != nil {
			return err
		}
		fluxes, err := toFloat64Slice("SolarFluxes", Cfg)
		if err != nil {
			return err
		}
		camera, err := cameraSpec(Cfg)
		if err != nil {
			return err
		}

		return Run(
			ctx,
			cmd,
			checkLogFile(Cfg.GetString("LogFile"), outputFile),
			outputFile,
			outputVars,
			wavelengths,
			fluxes,
			Cfg.GetFloat64("SolarAzimuth"),
			Cfg.GetFloat64("SolarZenith"),
			os.ExpandEnv(Cfg.GetString("MieTables")),
			maybeDownload(ctx, os.ExpandEnv(Cfg.GetString("CloudData")), outChan),
			Cfg.GetString("CloudSheet"),
			maybeDownload(ctx, os.ExpandEnv(Cfg.GetString("TemperatureProfile")), outChan),
			Cfg.GetFloat64("SurfacePressure"),
			Cfg.GetBool("SkipMissingChannels"),
			Cfg.GetInt("NumIterations"),
			smrt.NumericsConfig{
				NumMu:            Cfg.GetInt("NumMu"),
				NumPhi:           Cfg.GetInt("NumPhi"),
				SolutionAccuracy: Cfg.GetFloat64("SolutionAccuracy"),
			},
			camera,
			os.ExpandEnv(Cfg.GetString("QuicklookFile")),
			Cfg.GetInt("QuicklookMaxDim"),
			Cfg.GetInt("Workers"),
		)
	},
	DisableAutoGenTag: true,
}

// tableCmd is a command that summarizes the Mie tables for the
// configured wavelengths.
var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Describe the Mie property tables.",
	Long: `table reads the Mie scattering property table for each configured
wavelength and prints its wavelength, droplet radius range, and phase
function size, which is useful for checking that a set of tables matches
the channels of a planned simulation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		wavelengths, err := toFloat64Slice("Wavelengths", Cfg)
		if err != nil {
			return err
		}
		return DescribeTables(cmd.OutOrStdout(),
			os.ExpandEnv(Cfg.GetString("MieTables")), wavelengths)
	},
	DisableAutoGenTag: true,
}
