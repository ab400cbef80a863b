package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/nao1215/wsitile/internal/config"
	"github.com/nao1215/wsitile/internal/grid"
	"github.com/nao1215/wsitile/internal/log"
	"github.com/nao1215/wsitile/internal/model"
	"github.com/nao1215/wsitile/internal/slide"
	"github.com/spf13/cobra"
)

// InspectResult is what inspect reports about one slide.
type InspectResult struct {
	Path         string           `json:"path"`
	Name         string           `json:"name"`
	Width        int              `json:"width"`
	Height       int              `json:"height"`
	Levels       []slide.Level    `json:"levels"`
	Properties   []slide.Property `json:"properties"`
	Scale        float64          `json:"scale"`
	ScaledWidth  int              `json:"scaled_width"`
	ScaledHeight int              `json:"scaled_height"`
	Tiles        int              `json:"tiles"`
}

// NewInspectCmd creates the inspect command.
func NewInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <slide>",
		Short: "Show the dimensions, levels and metadata of a slide",
		Long: `Inspect prints what wsitile sees in a slide file: the native size, every
pyramid level with its layout and compression, the TIFF tags by name and the
key/value pairs of an Aperio image description (AppMag, MPP, ...).

It also shows how many 1024x1024 tiles 'wsitile tile' would write at --scale.
Values that look like patient identifiers are redacted.

Examples:
  wsitile inspect /data/slides/145_12.svs
  wsitile inspect --scale 1 --json /data/slides/145_12.svs`,
		Args: cobra.ExactArgs(1),
		RunE: runInspectCmd,
	}

	cmd.Flags().Float64P("scale", "s", config.DefaultScale,
		"Scale used to preview the tile count")
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON instead of text")

	return cmd
}

// runInspectCmd executes the inspect command.
func runInspectCmd(cmd *cobra.Command, args []string) error {
	scale, err := cmd.Flags().GetFloat64("scale")
	if err != nil {
		return err
	}
	if !model.ValidScale(scale) {
		return fmt.Errorf("configuration error: %w", config.ErrInvalidScale)
	}
	jsonOutput, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	res, err := inspectSlide(args[0], scale)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	writeInspectText(cmd.OutOrStdout(), res)
	return nil
}

// inspectSlide opens the slide and collects its description.
func inspectSlide(path string, scale float64) (*InspectResult, error) {
	s, err := slide.Open(path, slide.WithLogger(setupLogger(false)))
	if err != nil {
		return nil, err
	}
	defer s.Close()

	res := &InspectResult{
		Path:   path,
		Name:   s.Name(),
		Levels: s.Levels(),
		Scale:  scale,
	}
	res.Width, res.Height = s.Dimensions()

	props := s.Properties()
	res.Properties = make([]slide.Property, len(props))
	for i, p := range props {
		p.Value = log.Redact(p.Name, p.Value)
		res.Properties[i] = p
	}

	view, err := s.Resize(scale)
	if err != nil {
		return nil, err
	}
	res.ScaledWidth, res.ScaledHeight = view.Dimensions()
	spec := model.DefaultTileSpec()
	res.Tiles = grid.Count(res.ScaledWidth, res.ScaledHeight, spec.Width, spec.Height)

	return res, nil
}

// writeInspectText prints res in the text layout.
func writeInspectText(w io.Writer, res *InspectResult) {
	spec := model.DefaultTileSpec()

	fmt.Fprintf(w, "Slide:       %s\n", res.Name)
	fmt.Fprintf(w, "Path:        %s\n", res.Path)
	fmt.Fprintf(w, "Dimensions:  %d x %d\n", res.Width, res.Height)
	fmt.Fprintf(w, "Tiles:       x%s is %d x %d -> %d tiles of %dx%d\n",
		model.FormatScale(res.Scale), res.ScaledWidth, res.ScaledHeight, res.Tiles, spec.Width, spec.Height)

	fmt.Fprintf(w, "\nLEVELS (%d)\n", len(res.Levels))
	fmt.Fprintf(w, "  %-5s  %-4s  %-8s  %-8s  %-14s  %-12s  %s\n",
		"Level", "IFD", "Width", "Height", "Layout", "Compression", "Downsample")
	fmt.Fprintln(w, "  "+strings.Repeat("-", 72))
	for _, l := range res.Levels {
		layout := fmt.Sprintf("strips %d", l.BlockHeight)
		if l.Tiled {
			layout = fmt.Sprintf("tiles %dx%d", l.BlockWidth, l.BlockHeight)
		}
		fmt.Fprintf(w, "  %-5d  %-4d  %-8d  %-8d  %-14s  %-12s  %.2f\n",
			l.Index, l.IFD, l.Width, l.Height, layout, l.Compression, l.Downsample)
	}

	fmt.Fprintf(w, "\nPROPERTIES (%d)\n", len(res.Properties))
	for _, p := range res.Properties {
		fmt.Fprintf(w, "  %s = %s\n", p.Name, p.Value)
	}
}
