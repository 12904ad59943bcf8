// Package imaging converts host-supplied images into the exact per-key
// bitmap a device expects: decode, strict dimension check, the kind's
// rotation/mirror transform, then JPEG or BMP encoding.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	// Registered decoders; hosts mostly send JPEG but PNG shows up too.
	_ "image/png"

	"golang.org/x/image/bmp"

	"github.com/opendeck-tools/deckd/internal/catalog"
	"github.com/opendeck-tools/deckd/internal/types"
)

const jpegQuality = 95

// Render decodes raw image bytes and produces the wire payload for one
// key. The decoded image must match the spec's dimensions exactly; only
// the documented rotation/mirror transform is applied, never a resize.
func Render(spec catalog.ImageSpec, data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUnsupportedFormat, err)
	}
	b := img.Bounds()
	if b.Dx() != spec.Width || b.Dy() != spec.Height {
		return nil, fmt.Errorf("%w: got %dx%d, want %dx%d",
			types.ErrSizeMismatch, b.Dx(), b.Dy(), spec.Width, spec.Height)
	}
	return Encode(spec, Transform(spec, img))
}

// Transform applies the spec's rotation, then its mirror flags.
func Transform(spec catalog.ImageSpec, img image.Image) image.Image {
	switch spec.Rotation {
	case catalog.Rot90:
		img = rot90{img}
	case catalog.Rot180:
		img = rot180{img}
	case catalog.Rot270:
		img = rot90{rot180{img}}
	}
	switch spec.Mirror {
	case catalog.MirrorX:
		img = flipX{img}
	case catalog.MirrorY:
		img = flipY{img}
	case catalog.MirrorBoth:
		img = flipX{flipY{img}}
	}
	return img
}

// Encode serializes a transformed image in the spec's wire encoding.
func Encode(spec catalog.ImageSpec, img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch spec.Encoding {
	case catalog.BMP:
		err = bmp.Encode(&buf, img)
	default:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	}
	if err != nil {
		return nil, fmt.Errorf("encode key image: %w", err)
	}
	return buf.Bytes(), nil
}

// Blank returns an all-black image matching the spec, used to clear keys
// on kinds whose firmware has no native clear command for single slots.
func Blank(spec catalog.ImageSpec) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, spec.Width, spec.Height))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img
}

// The key panels are square, so the lazy wrappers below never change
// bounds.

type rot90 struct{ image.Image }

func (i rot90) At(x, y int) color.Color {
	b := i.Bounds()
	return i.Image.At(y-b.Min.Y+b.Min.X, b.Max.Y-1-(x-b.Min.X))
}

type rot180 struct{ image.Image }

func (i rot180) At(x, y int) color.Color {
	b := i.Bounds()
	return i.Image.At(b.Max.X-1-(x-b.Min.X), b.Max.Y-1-(y-b.Min.Y))
}

type flipX struct{ image.Image }

func (i flipX) At(x, y int) color.Color {
	b := i.Bounds()
	return i.Image.At(b.Max.X-1-(x-b.Min.X), y)
}

type flipY struct{ image.Image }

func (i flipY) At(x, y int) color.Color {
	b := i.Bounds()
	return i.Image.At(x, b.Max.Y-1-(y-b.Min.Y))
}
