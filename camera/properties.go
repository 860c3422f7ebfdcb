package camera

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	rdkcamera "go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/rimage/transform"
)

// ConfigFromProperties builds a calibration from the properties reported by an rdk camera. Only
// Brown-Conrady distortion is supported; a camera without distortion parameters is treated as
// distortion free.
func ConfigFromProperties(props rdkcamera.Properties, logger golog.Logger) (*Config, error) {
	if props.IntrinsicParams == nil {
		return nil, transform.NewNoIntrinsicsError("Intrinsics do not exist")
	}
	intrinsics := props.IntrinsicParams
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if intrinsics.Fx != intrinsics.Fy {
		logger.Warnw("camera has distinct focal lengths, using their mean", "fx", intrinsics.Fx, "fy", intrinsics.Fy)
	}
	config := &Config{
		FocalLength:     (intrinsics.Fx + intrinsics.Fy) / 2,
		PrincipalPointX: intrinsics.Ppx,
		PrincipalPointY: intrinsics.Ppy,
		Width:           intrinsics.Width,
		Height:          intrinsics.Height,
	}

	if props.DistortionParams == nil {
		logger.Warn("camera reports no distortion parameters, assuming an undistorted lens")
		return config, nil
	}
	brownConrady, ok := props.DistortionParams.(*transform.BrownConrady)
	if !ok {
		return nil, errors.Errorf("only BrownConrady distortion parameters are supported, got %T", props.DistortionParams)
	}
	if err := brownConrady.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "error validating distortion_parameters")
	}
	config.DistortionCoefficients = []float64{
		brownConrady.RadialK1,
		brownConrady.RadialK2,
		brownConrady.TangentialP1,
		brownConrady.TangentialP2,
		brownConrady.RadialK3,
	}
	return config, nil
}

// ConfigFromCamera reads the calibration of cam.
func ConfigFromCamera(ctx context.Context, cam rdkcamera.Camera, logger golog.Logger) (*Config, error) {
	props, err := cam.Properties(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "error getting camera properties")
	}
	return ConfigFromProperties(props, logger)
}
