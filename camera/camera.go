// Package camera holds the pinhole calibration of the monocular camera and maps image points
// between pixel coordinates and undistorted, intrinsics-normalized camera coordinates.
package camera

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/rimage/transform"
	goutils "go.viam.com/utils"
	"gonum.org/v1/gonum/mat"
)

// Placeholder calibration. These values are not tuned for any specific device; callers that need
// an accurate trajectory must supply the calibration of the camera that took the images.
const (
	DefaultFocalLength     = 1000.
	DefaultPrincipalPointX = 640.
	DefaultPrincipalPointY = 360.
	DefaultWidth           = 1280
	DefaultHeight          = 720

	// maxDistortionCoefficients is the length of the OpenCV (k1, k2, p1, p2, k3) vector.
	maxDistortionCoefficients = 5

	undistortMaxIterations = 20
	undistortTolerance     = 1e-12
)

// DefaultDistortionCoefficients are placeholder coefficients in OpenCV order (k1, k2, p1, p2).
var DefaultDistortionCoefficients = []float64{-0.28340811, 0.07395907, 0.00019359, 1.76187114e-05}

// Config contains the calibration options of the camera.
type Config struct {
	FocalLength            float64   `yaml:"focal_length"`
	PrincipalPointX        float64   `yaml:"principal_point_x"`
	PrincipalPointY        float64   `yaml:"principal_point_y"`
	Width                  int       `yaml:"width_px"`
	Height                 int       `yaml:"height_px"`
	DistortionCoefficients []float64 `yaml:"distortion_coefficients"`
}

// DefaultConfig returns the placeholder calibration.
func DefaultConfig() *Config {
	coeffs := make([]float64, len(DefaultDistortionCoefficients))
	copy(coeffs, DefaultDistortionCoefficients)
	return &Config{
		FocalLength:            DefaultFocalLength,
		PrincipalPointX:        DefaultPrincipalPointX,
		PrincipalPointY:        DefaultPrincipalPointY,
		Width:                  DefaultWidth,
		Height:                 DefaultHeight,
		DistortionCoefficients: coeffs,
	}
}

// IsDefault reports whether the calibration is still the placeholder one.
func (config *Config) IsDefault() bool {
	def := DefaultConfig()
	if config.FocalLength != def.FocalLength || config.PrincipalPointX != def.PrincipalPointX ||
		config.PrincipalPointY != def.PrincipalPointY || len(config.DistortionCoefficients) != len(def.DistortionCoefficients) {
		return false
	}
	for i, c := range config.DistortionCoefficients {
		if c != def.DistortionCoefficients[i] {
			return false
		}
	}
	return true
}

// Validate ensures all parts of the Config are valid.
func (config *Config) Validate(path string) error {
	if config.FocalLength <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("focal_length should be > 0"))
	}
	if len(config.DistortionCoefficients) > maxDistortionCoefficients {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("distortion_coefficients holds at most %d values (k1, k2, p1, p2, k3), got %d",
				maxDistortionCoefficients, len(config.DistortionCoefficients)))
	}
	if err := config.intrinsics().CheckValid(); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	return nil
}

func (config *Config) intrinsics() *transform.PinholeCameraIntrinsics {
	return &transform.PinholeCameraIntrinsics{
		Width:  config.Width,
		Height: config.Height,
		Fx:     config.FocalLength,
		Fy:     config.FocalLength,
		Ppx:    config.PrincipalPointX,
		Ppy:    config.PrincipalPointY,
	}
}

// brownConrady maps OpenCV ordered coefficients onto the rdk Brown-Conrady model.
func (config *Config) brownConrady() *transform.BrownConrady {
	var c [maxDistortionCoefficients]float64
	copy(c[:], config.DistortionCoefficients)
	return &transform.BrownConrady{
		RadialK1:     c[0],
		RadialK2:     c[1],
		TangentialP1: c[2],
		TangentialP2: c[3],
		RadialK3:     c[4],
	}
}

// Model is an immutable pinhole camera with Brown-Conrady lens distortion.
type Model struct {
	intrinsics *transform.PinholeCameraIntrinsics
	distortion *transform.BrownConrady
}

// New returns a camera Model from its calibration.
func New(config *Config) (*Model, error) {
	if config == nil {
		return nil, transform.NewNoIntrinsicsError("camera calibration not provided")
	}
	if err := config.Validate("camera"); err != nil {
		return nil, err
	}
	distortion := config.brownConrady()
	if err := distortion.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "error validating distortion_coefficients")
	}
	return &Model{intrinsics: config.intrinsics(), distortion: distortion}, nil
}

// Intrinsics returns a copy of the pinhole intrinsics.
func (m *Model) Intrinsics() transform.PinholeCameraIntrinsics {
	return *m.intrinsics
}

// Matrix returns the 3x3 camera matrix K.
func (m *Model) Matrix() *mat.Dense {
	return m.intrinsics.GetCameraMatrix()
}

// NormalizePoint maps a pixel to undistorted camera coordinates with unit focal length and the
// principal point at the origin.
func (m *Model) NormalizePoint(p r2.Point) r2.Point {
	xd := (p.X - m.intrinsics.Ppx) / m.intrinsics.Fx
	yd := (p.Y - m.intrinsics.Ppy) / m.intrinsics.Fy
	xu, yu := m.undistort(xd, yd)
	if math.IsNaN(xu) || math.IsNaN(yu) || math.IsInf(xu, 0) || math.IsInf(yu, 0) {
		return r2.Point{X: xd, Y: yd}
	}
	return r2.Point{X: xu, Y: yu}
}

// Normalize maps every pixel of pts with NormalizePoint.
func (m *Model) Normalize(pts []r2.Point) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		out[i] = m.NormalizePoint(p)
	}
	return out
}

// DenormalizePoint applies lens distortion and the camera matrix to a normalized point.
func (m *Model) DenormalizePoint(p r2.Point) r2.Point {
	xd, yd := m.distortion.Transform(p.X, p.Y)
	return r2.Point{
		X: xd*m.intrinsics.Fx + m.intrinsics.Ppx,
		Y: yd*m.intrinsics.Fy + m.intrinsics.Ppy,
	}
}

// Project projects a point expressed in the camera frame onto the image. It returns false for
// points that are not in front of the camera.
func (m *Model) Project(v r3.Vector) (r2.Point, bool) {
	if v.Z <= 0 {
		return r2.Point{}, false
	}
	return m.DenormalizePoint(r2.Point{X: v.X / v.Z, Y: v.Y / v.Z}), true
}

// undistort inverts the rdk Brown-Conrady transform with Newton-Raphson iterations starting from
// the distorted point. The Jacobian is that of the forward model.
func (m *Model) undistort(xd, yd float64) (float64, float64) {
	d := m.distortion
	xu, yu := xd, yd
	for i := 0; i < undistortMaxIterations; i++ {
		xe, ye := m.distortion.Transform(xu, yu)
		errX, errY := xe-xd, ye-yd
		if errX*errX+errY*errY < undistortTolerance*undistortTolerance {
			break
		}
		r2 := xu*xu + yu*yu
		radial := 1 + d.RadialK1*r2 + d.RadialK2*r2*r2 + d.RadialK3*r2*r2*r2
		dRadial := 2 * (d.RadialK1 + 2*d.RadialK2*r2 + 3*d.RadialK3*r2*r2)

		j00 := radial + xu*xu*dRadial + 2*d.TangentialP1*yu + 6*d.TangentialP2*xu
		j01 := xu*yu*dRadial + 2*d.TangentialP1*xu + 2*d.TangentialP2*yu
		j10 := xu*yu*dRadial + 2*d.TangentialP1*xu + 2*d.TangentialP2*yu
		j11 := radial + yu*yu*dRadial + 6*d.TangentialP1*yu + 2*d.TangentialP2*xu

		det := j00*j11 - j01*j10
		if det == 0 {
			break
		}
		xu -= (j11*errX - j01*errY) / det
		yu -= (-j10*errX + j00*errY) / det
	}
	return xu, yu
}
