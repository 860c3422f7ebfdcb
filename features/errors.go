package features

import "github.com/pkg/errors"

// ErrMalformedFeatures is returned when keypoints and descriptors are not parallel.
var ErrMalformedFeatures = errors.New("keypoints and descriptors are not parallel")

func errNonPositive(field string) error {
	return errors.Errorf("%q must be positive", field)
}

func errOutOfRange(field, want string) error {
	return errors.Errorf("%q must be %s", field, want)
}
