package render

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Format is an output format of the render command.
type Format string

// Output formats.
const (
	FormatDOT Format = "dot"
	FormatSVG Format = "svg"
	FormatPDF Format = "pdf"
	FormatPNG Format = "png"
)

// ParseFormat accepts a format name in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatDOT, FormatSVG, FormatPDF, FormatPNG:
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q (want dot, svg, pdf or png)", s)
}

// Render produces dot in format f. scale only applies to PNG.
func Render(ctx context.Context, dot string, f Format, scale float64) ([]byte, error) {
	if f == FormatDOT {
		return []byte(dot), nil
	}
	svg, err := RenderSVG(ctx, dot)
	if err != nil {
		return nil, err
	}
	switch f {
	case FormatPDF:
		return convertSVG(ctx, svg, "pdf")
	case FormatPNG:
		if scale <= 0 {
			scale = 1
		}
		return convertSVG(ctx, svg, "png", "-z", fmt.Sprintf("%.2f", scale))
	}
	return svg, nil
}

// convertSVG pipes svg through rsvg-convert.
func convertSVG(ctx context.Context, svg []byte, format string, extra ...string) ([]byte, error) {
	if _, err := exec.LookPath("rsvg-convert"); err != nil {
		return nil, fmt.Errorf("%s output needs rsvg-convert from librsvg (brew install librsvg, apt install librsvg2-bin)", format)
	}
	cmd := exec.CommandContext(ctx, "rsvg-convert", append([]string{"-f", format}, extra...)...)
	cmd.Stdin = bytes.NewReader(svg)
	var out, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &out, &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("rsvg-convert: %v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out.Bytes(), nil
}
