// Package render maps a media source onto a fixed-size output surface
// under a fit policy.
package render

import (
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
)

// ErrUnknownFitMode is returned when a fit mode name is not recognised.
var ErrUnknownFitMode = errors.New("unknown fit mode")

// FitMode selects how a source is mapped onto the surface while keeping
// its aspect ratio.
type FitMode string

const (
	// Contain keeps the whole source visible and letterboxes the rest.
	Contain FitMode = "contain"
	// Cover fills the whole surface and crops the overflow.
	Cover FitMode = "cover"
)

// IsValid returns true if the mode is Contain or Cover.
func (m FitMode) IsValid() bool {
	return m == Contain || m == Cover
}

// ParseFitMode converts "contain" or "cover" (case-insensitive) to a FitMode.
func ParseFitMode(s string) (FitMode, error) {
	m := FitMode(strings.ToLower(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownFitMode, s)
	}
	return m, nil
}

// DrawRect is the destination rectangle of a fitted source in surface
// coordinates. X and Y may be negative when the source overflows (Cover).
type DrawRect struct {
	X, Y float64
	W, H float64
}

// Bounds rounds the rectangle to integer surface coordinates.
func (r DrawRect) Bounds() image.Rectangle {
	return image.Rect(
		int(math.Round(r.X)),
		int(math.Round(r.Y)),
		int(math.Round(r.X+r.W)),
		int(math.Round(r.Y+r.H)),
	)
}

// Fit computes where a srcW x srcH source is drawn on a surfaceW x surfaceH
// surface. The result keeps the source aspect ratio and is centred.
// Cover matches the surface height when the source is relatively wider than
// the surface (and the width otherwise); Contain does the opposite.
// Non-positive dimensions yield a zero rectangle.
func Fit(surfaceW, surfaceH, srcW, srcH int, mode FitMode) DrawRect {
	if surfaceW <= 0 || surfaceH <= 0 || srcW <= 0 || srcH <= 0 {
		return DrawRect{}
	}

	sw, sh := float64(surfaceW), float64(surfaceH)
	iw, ih := float64(srcW), float64(srcH)

	srcAspect := iw / ih
	dstAspect := sw / sh

	var byHeight bool
	if mode == Cover {
		byHeight = srcAspect > dstAspect
	} else {
		byHeight = srcAspect < dstAspect
	}

	var w, h float64
	if byHeight {
		h = sh
		w = sh * iw / ih
	} else {
		w = sw
		h = sw * ih / iw
	}

	return DrawRect{
		X: (sw - w) / 2,
		Y: (sh - h) / 2,
		W: w,
		H: h,
	}
}
