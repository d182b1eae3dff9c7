// Package padding grows encoded images with inert bytes that decoders skip,
// so the pixel content is never touched.
//
// Every padder aims for an exact growth of n bytes. When n is smaller than the
// container overhead of a single padding block the minimal block is written
// instead, overshooting by less than Overhead() bytes.
package padding

import (
	"github.com/Skryldev/sizefit/core"
	apperrors "github.com/Skryldev/sizefit/errors"
)

// Identifier marks padding blocks written by this package.
const Identifier = "SIZEFIT\x00"

func checkLength(op string, n int64) error {
	if n < 0 {
		return apperrors.Newf(apperrors.CategoryEncode, op, apperrors.ErrPaddingOverflow, "negative padding length %d", n)
	}
	return nil
}

func malformed(op, what string) error {
	return apperrors.Newf(apperrors.CategoryEncode, op, apperrors.ErrEncodeFailure, "%s", what)
}

// Register installs the built-in padders for every supported format.
func Register(reg core.Registry) {
	reg.RegisterPadder(core.FormatJPEG, NewJPEG())
	reg.RegisterPadder(core.FormatPNG, NewPNG())
	reg.RegisterPadder(core.FormatWebP, NewWebP())
}
