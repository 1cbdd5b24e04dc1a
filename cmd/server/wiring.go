package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/Brownie44l1/moodsense/internal/config"
	"github.com/Brownie44l1/moodsense/internal/logging"
	"github.com/Brownie44l1/moodsense/internal/model"
	"github.com/Brownie44l1/moodsense/internal/workflow"
)

// projectRoot is the working directory, or two levels up when started from
// cmd/server during development.
func projectRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	if filepath.Base(wd) == "server" && filepath.Base(filepath.Dir(wd)) == "cmd" {
		return filepath.Join(wd, "..", "..")
	}
	return wd
}

func resolve(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

func newProvider(cfg *config.Config, root string) (model.ScoreProvider, func(), error) {
	switch cfg.Model.Provider {
	case config.ProviderONNX:
		p, err := model.NewONNXProvider(
			resolve(root, cfg.Model.ONNXPath),
			resolve(root, cfg.Model.MetadataPath),
			cfg.Model.LibraryPath,
		)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	default:
		p := model.NewSimulated(
			model.WithSeed(cfg.Analysis.Seed),
			model.WithSpread(cfg.Analysis.Spread),
		)
		return p, func() {}, nil
	}
}

func newProbe(cfg *config.Config, root string) workflow.Probe {
	if cfg.Model.Probe == config.ProbeHTTP {
		return workflow.HTTPProbe{URL: cfg.Model.ProbeURL, Client: &http.Client{}}
	}
	return workflow.FileProbe{Path: resolve(root, cfg.Model.ProbePath)}
}

func printBanner(w io.Writer, cfg *config.Config) {
	if !logging.IsTerminal(w) {
		return
	}

	title := color.New(color.FgMagenta, color.Bold).SprintFunc()
	method := color.New(color.FgCyan).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	base := "http://localhost" + cfg.Addr
	if !strings.HasPrefix(cfg.Addr, ":") {
		base = "http://" + cfg.Addr
	}

	fmt.Fprintf(w, "\n%s listening on %s (%s provider)\n\n", title("MoodSense"), base, cfg.Model.Provider)
	routes := [][3]string{
		{"GET", "/health", "Health check"},
		{"GET", "/api/state", "Session snapshot"},
		{"POST", "/api/model/init", "Initialize model"},
		{"POST", "/api/image", "Upload image (multipart field 'image')"},
		{"GET", "/api/image/preview", "Thumbnail of the uploaded image"},
		{"POST", "/api/analyze", "Analyze mood"},
		{"GET", "/api/result", "Latest prediction"},
		{"GET", "/api/catalog", "Emotions, colors, glyphs and tips"},
		{"GET", "/ws", "Live state events"},
	}
	for _, r := range routes {
		fmt.Fprintf(w, "  %-5s %-20s %s\n", method(r[0]), r[1], dim(r[2]))
	}
	fmt.Fprintf(w, "\n💡 Upload test: curl -c jar -b jar -X POST -F \"image=@face.jpg\" %s/api/image\n\n", base)
}
