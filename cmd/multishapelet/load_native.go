//go:build !purego && !js

package main

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	ms "multishapelet/pkg/multishapelet"
)

func loadNonFitsImage(path string) (*ms.Image, error) {
	src := gocv.IMRead(path, gocv.IMReadGrayScale)
	if src.Empty() {
		return nil, fmt.Errorf("could not load image: %s", path)
	}
	defer src.Close()

	w, h := src.Cols(), src.Rows()

	floatMat := gocv.NewMat()
	src.ConvertTo(&floatMat, gocv.MatTypeCV64F)
	defer floatMat.Close()

	data, err := floatMat.DataPtrFloat64()
	if err != nil {
		return nil, fmt.Errorf("reading image data: %w", err)
	}

	out := ms.NewImage(image.Rect(0, 0, w, h))
	copy(out.Data(), data[:w*h])
	return out, nil
}
