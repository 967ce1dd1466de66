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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lnashier/viper"
	"github.com/spectralmodel/smrt"
	"github.com/spf13/cast"
)

// checkOutputVars removes end lines and expands environment
// variables in the output variables.
func checkOutputVars(vars map[string]string) (map[string]string, error) {
	if len(vars) == 0 {
		return nil, fmt.Errorf("there are no variables specified for output. Please fill in " +
			"the OutputVariables configuration and try again.")
	}
	for k, v := range vars {
		v = strings.Replace(v, "\r\n", " ", -1)
		v = strings.Replace(v, "\n", " ", -1)
		vars[os.ExpandEnv(k)] = os.ExpandEnv(v)
	}
	return vars, nil
}

// expandStringSlice expands the environment variables in a slice of strings.
func expandStringSlice(s []string) []string {
	for i := 0; i < len(s); i++ {
		s[i] = os.ExpandEnv(s[i])
	}
	return s
}

// checkOutputFile makes sure that the output file is specified and its
// directory exists, and expand any environment variables.
func checkOutputFile(ctx context.Context, f string) (string, error) {
	if f == "" {
		return "", fmt.Errorf(`you need to specify an output file configuration variable (for example: OutputFile="output.nc"`)
	}
	f = os.ExpandEnv(f)
	if IsBlob(f) {
		url, err := url.Parse(f)
		if err != nil {
			return f, err
		}
		_, err = OpenBucket(ctx, url.Scheme+"://"+url.Host)
		if err != nil {
			return f, fmt.Errorf("smrt: error when checking OutputFile location: %v", err)
		}
		return f, nil
	}
	outdir := filepath.Dir(f)
	if _, err := os.Stat(outdir); err != nil {
		return f, fmt.Errorf("smrt: the OutputFile directory doesn't exist: %v", err)
	}
	return f, nil
}

// checkLogFile fills in a default value for the log file path if one isn't
// specified.
func checkLogFile(logFile, outputFile string) string {
	if logFile == "" {
		logFile = strings.TrimSuffix(outputFile, filepath.Ext(outputFile)) + ".log"
	}
	return logFile
}

// toFloat64Slice reads a list of numbers from a viper configuration,
// accounting for the fact that it might be a slice of strings if it was
// set from a command line argument.
func toFloat64Slice(varName string, cfg *viper.Viper) ([]float64, error) {
	s, err := cast.ToStringSliceE(cfg.Get(varName))
	if err != nil {
		return nil, fmt.Errorf("smrt: reading configuration variable %s: %v", varName, err)
	}
	o := make([]float64, len(s))
	for i, v := range expandStringSlice(s) {
		o[i], err = strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("smrt: reading configuration variable %s: %v", varName, err)
		}
	}
	return o, nil
}

// toVector reads x, y, z coordinates from a viper configuration.
func toVector(varName string, cfg *viper.Viper) (smrt.Vector, error) {
	v, err := toFloat64Slice(varName, cfg)
	if err != nil {
		return smrt.Vector{}, err
	}
	if len(v) != 3 {
		return smrt.Vector{}, fmt.Errorf("smrt: configuration variable %s has %d values but should have 3 (x, y, z)",
			varName, len(v))
	}
	return smrt.Vector{X: v[0], Y: v[1], Z: v[2]}, nil
}

// GetStringMapString returns a map[string]string from a viper configuration,
// accounting for the fact that it might be a json object if it was set
// from a command line argument.
func GetStringMapString(varName string, cfg *viper.Viper) map[string]string {
	i := cfg.Get(varName)
	switch i.(type) {
	case map[string]string:
		return i.(map[string]string)
	case map[string]interface{}:
		return cast.ToStringMapString(i)
	case string:
		b := bytes.NewBuffer(([]byte)(i.(string)))
		d := json.NewDecoder(b)
		o := make(map[string]string)
		if err := d.Decode(&o); err != nil {
			panic(err)
		}
		return o
	default:
		panic(fmt.Errorf("invalid type for getStringMapString variable %s: %#v", varName, i))
	}
}

// cameraSpec reads the sensor geometry settings from a viper
// configuration.
func cameraSpec(cfg *viper.Viper) (*CameraSpec, error) {
	position, err := toVector("Camera.Position", cfg)
	if err != nil {
		return nil, err
	}
	lookAt, err := toVector("Camera.LookAt", cfg)
	if err != nil {
		return nil, err
	}
	return &CameraSpec{
		Projection: cfg.GetString("Camera.Projection"),
		Resolution: cfg.GetFloat64("Camera.Resolution"),
		Azimuth:    cfg.GetFloat64("Camera.Azimuth"),
		Zenith:     cfg.GetFloat64("Camera.Zenith"),
		Altitude:   cfg.GetFloat64("Camera.Altitude"),
		Position:   position,
		LookAt:     lookAt,
		FOV:        cfg.GetFloat64("Camera.FOV"),
		Height:     cfg.GetInt("Camera.Height"),
		Width:      cfg.GetInt("Camera.Width"),
		SampleStep: cfg.GetFloat64("Camera.SampleStep"),
	}, nil
}
