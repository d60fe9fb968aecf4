package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"os"
	"strings"
	"time"

	ms "multishapelet/pkg/multishapelet"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("multishapelet", flag.ContinueOnError)
	centerX := fs.Float64("x", -1, "source center x (default: brightest pixel)")
	centerY := fs.Float64("y", -1, "source center y (default: brightest pixel)")
	psfSigma := fs.Float64("psf-sigma", 2.0, "Gaussian PSF sigma in pixels")
	psfSize := fs.Int("psf-size", 25, "PSF stamp size in pixels")
	threshold := fs.Float64("threshold", 5.0, "detection threshold in sigma above background")
	pixelWeights := fs.Bool("pixel-weights", false, "weight pixels by individual variance")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: multishapelet [flags] <input-file>")
	}
	inputFilePath := fs.Arg(0)
	fmt.Printf("Loading: %s\n", inputFilePath)

	im, err := loadImage(inputFilePath)
	if err != nil {
		return err
	}
	bounds := im.Bounds()
	fmt.Printf("Image size: %d x %d\n", bounds.Dx(), bounds.Dy())

	mi := ms.NewMaskedImage(bounds)
	copy(mi.Image.Data(), im.Data())

	noise := ms.SyntheticVariancePlane(mi, 4)
	fmt.Printf("Background: %.2f  Noise sigma: %.3f (%d iterations)\n",
		noise.BackgroundMean, noise.Sigma, noise.Iterations)

	seedX, seedY := int(*centerX), int(*centerY)
	if *centerX < 0 || *centerY < 0 {
		seedX, seedY = brightestPixel(im)
		fmt.Printf("Using brightest pixel at (%d, %d)\n", seedX, seedY)
	}

	fp := ms.FootprintFromThreshold(im, image.Pt(seedX, seedY),
		noise.BackgroundMean+*threshold*noise.Sigma)
	if fp.Area() == 0 {
		return fmt.Errorf("no pixels above threshold at (%d, %d)", seedX, seedY)
	}
	center, shape := footprintMoments(im, fp)
	fmt.Printf("Footprint: %d pixels, center (%.2f, %.2f)\n", fp.Area(), center.X, center.Y)

	rec := ms.NewSourceRecord(1)
	rec.Center = center
	rec.Shape = shape
	rec.Footprint = fp

	exposure := &ms.Exposure{
		MaskedImage: mi,
		Psf: ms.GaussianPsf{
			Core: ms.NewCircularCore(*psfSigma),
			Size: *psfSize,
		},
	}

	expCtrl := ms.NewFitProfileControl("exp")
	devCtrl := ms.NewFitProfileControl("dev")
	expCtrl.UsePixelWeights = *pixelWeights
	devCtrl.UsePixelWeights = *pixelWeights
	algorithms, err := ms.BuildAlgorithms(
		ms.NewFitPsfControl(), expCtrl, devCtrl, ms.NewFitComboControl(),
	)
	if err != nil {
		return err
	}

	startTime := time.Now()
	failures, err := ms.MeasureSources(context.Background(), exposure, []*ms.SourceRecord{rec}, algorithms)
	if err != nil {
		return err
	}
	elapsed := time.Since(startTime)

	fmt.Println()
	fmt.Printf("=== Profile Fit Results (%.2fs) ===\n", elapsed.Seconds())
	printEllipse(rec, "multishapelet.psf", "PSF")
	printEllipse(rec, "multishapelet.exp", "Exponential")
	printEllipse(rec, "multishapelet.dev", "de Vaucouleurs")
	if flux, err := rec.Get("multishapelet.combo.flux"); err == nil {
		fluxErr, _ := rec.Get("multishapelet.combo.flux.err")
		fracDev, _ := rec.Get("multishapelet.combo.fracdev")
		fmt.Printf("  %-15s flux=%.1f +/- %.1f  fracDev=%.3f\n", "Combined", flux, fluxErr, fracDev)
	}
	if failures > 0 {
		fmt.Printf("  [%d algorithm(s) failed]\n", failures)
	}
	fmt.Println("==============================")

	return nil
}

func printEllipse(rec *ms.SourceRecord, name, label string) {
	ixx, err := rec.Get(name + ".ellipse.ixx")
	if err != nil {
		return
	}
	iyy, _ := rec.Get(name + ".ellipse.iyy")
	ixy, _ := rec.Get(name + ".ellipse.ixy")
	flux, _ := rec.Get(name + ".flux")
	flagged := ""
	if rec.GetFlag(name + ".flags") {
		flagged = "  [FAILED]"
	}
	core := ms.EllipseCore{Ixx: ixx, Iyy: iyy, Ixy: ixy}
	fmt.Printf("  %-15s flux=%.1f  r=%.3f px  Ixx=%.3f Iyy=%.3f Ixy=%.3f%s\n",
		label, flux, core.TraceRadius(), ixx, iyy, ixy, flagged)
}

func brightestPixel(im *ms.Image) (int, int) {
	bounds := im.Bounds()
	bestX, bestY := bounds.Min.X, bounds.Min.Y
	best := im.At(bestX, bestY)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if v := im.At(x, y); v > best {
				best, bestX, bestY = v, x, y
			}
		}
	}
	return bestX, bestY
}

func footprintMoments(im *ms.Image, fp *ms.Footprint) (ms.Point2d, ms.EllipseCore) {
	var sum, sx, sy float64
	for _, s := range fp.Spans() {
		for x := s.X0; x <= s.X1; x++ {
			v := im.At(x, s.Y)
			if v <= 0 {
				continue
			}
			sum += v
			sx += v * float64(x)
			sy += v * float64(s.Y)
		}
	}
	if sum == 0 {
		b := fp.Bounds()
		return ms.Point2d{X: float64(b.Min.X+b.Max.X) / 2, Y: float64(b.Min.Y+b.Max.Y) / 2}, ms.NewCircularCore(1)
	}
	cx, cy := sx/sum, sy/sum
	var ixx, iyy, ixy float64
	for _, s := range fp.Spans() {
		for x := s.X0; x <= s.X1; x++ {
			v := im.At(x, s.Y)
			if v <= 0 {
				continue
			}
			dx, dy := float64(x)-cx, float64(s.Y)-cy
			ixx += v * dx * dx
			iyy += v * dy * dy
			ixy += v * dx * dy
		}
	}
	return ms.Point2d{X: cx, Y: cy}, ms.EllipseCore{Ixx: ixx / sum, Iyy: iyy / sum, Ixy: ixy / sum}
}

func isFits(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".fits") || strings.HasSuffix(lower, ".fit")
}

func loadImage(path string) (*ms.Image, error) {
	if isFits(path) {
		im, meta, err := ms.ReadFits(path)
		if err != nil {
			return nil, fmt.Errorf("reading FITS: %w", err)
		}
		if obj := meta.ObjectName(); obj != "" {
			fmt.Printf("FITS object: %s\n", obj)
		}
		return im, nil
	}
	return loadNonFitsImage(path)
}
