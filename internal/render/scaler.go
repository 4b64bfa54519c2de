package render

import (
	"errors"
	"fmt"
	"strings"

	xdraw "golang.org/x/image/draw"
)

// ErrUnknownScaler is returned when a scaler name is not recognised.
var ErrUnknownScaler = errors.New("unknown scaler")

// Scaler selects the interpolation used when painting a source.
type Scaler string

const (
	ScalerNearest    Scaler = "nearest"
	ScalerBilinear   Scaler = "bilinear"
	ScalerCatmullRom Scaler = "catmullrom"
)

// ParseScaler converts a scaler name to a Scaler.
func ParseScaler(s string) (Scaler, error) {
	switch v := Scaler(strings.ToLower(strings.TrimSpace(s))); v {
	case ScalerNearest, ScalerBilinear, ScalerCatmullRom:
		return v, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScaler, s)
	}
}

func (s Scaler) interpolator() xdraw.Interpolator {
	switch s {
	case ScalerNearest:
		return xdraw.NearestNeighbor
	case ScalerCatmullRom:
		return xdraw.CatmullRom
	default:
		return xdraw.ApproxBiLinear
	}
}
