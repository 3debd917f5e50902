package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	figmaslides "github.com/kataras/figma-slides"
	"github.com/kataras/figma-slides/internal/app"
	"github.com/kataras/figma-slides/internal/config"
	"github.com/kataras/figma-slides/internal/token"
	"github.com/kataras/figma-slides/pkg/figma"

	"github.com/fatih/color"
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
)

const version = figma.Version

const defaultConfigFile = "config/config.yaml"

var (
	accessToken string
	apiBase     string

	// export
	figmaURL      string
	outputDir     string
	nodeIDs       string
	imageFormat   string
	imageScale    float64
	numbered      bool
	hashAlgorithm string
	reportFile    string

	// check, detect
	manifestPath string
	detectNew    bool
	failOnChange bool

	// serve
	configFile string
)

var (
	green = color.New(color.FgGreen)
	red   = color.New(color.FgRed)
	cyan  = color.New(color.FgCyan)
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "figma-slides",
		Short: "Turn Figma frames into slides and keep them in sync",
		Long:  "Export the frames of a Figma file as slide images, check them for design changes, or run the sync server with its HTTP API",
	}
	rootCmd.PersistentFlags().StringVarP(&accessToken, "token", "t", "", "Figma Personal Access Token (default $"+token.EnvVar+")")
	rootCmd.PersistentFlags().StringVar(&apiBase, "api-base", "", "Figma API root (default "+figma.DefaultBaseURL+")")

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export every frame of a Figma file as a slide image",
		Run:   runExport,
	}
	exportCmd.Flags().StringVarP(&figmaURL, "url", "u", "", "Figma file URL (required)")
	exportCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "slides", "Output directory for slides and manifest")
	exportCmd.Flags().StringVarP(&nodeIDs, "node-ids", "n", "", "Comma-separated frame IDs to export (optional, exports every top-level frame otherwise)")
	exportCmd.Flags().StringVar(&imageFormat, "image-format", "png", "Image format: png, svg, jpg, pdf")
	exportCmd.Flags().Float64Var(&imageScale, "image-scale", 1, "Render scale between 0.01 and 4")
	exportCmd.Flags().BoolVar(&numbered, "numbered", false, "Prefix file names with the slide position")
	exportCmd.Flags().StringVar(&hashAlgorithm, "hash", "fold32", "Content hash algorithm: fold32, xxhash")
	exportCmd.Flags().StringVar(&reportFile, "report", "", "Also write the markdown report to this file")
	exportCmd.MarkFlagRequired("url")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Compare exported slides with the live Figma file",
		Run:   runCheck,
	}
	checkCmd.Flags().StringVarP(&manifestPath, "manifest", "m", filepath.Join("slides", figmaslides.ManifestFileName), "Manifest written by export")
	checkCmd.Flags().BoolVar(&detectNew, "detect-new", false, "Also list slide-sized frames that were never exported")
	checkCmd.Flags().BoolVar(&failOnChange, "fail-on-change", false, "Exit with status 2 when a slide was modified")
	checkCmd.Flags().StringVar(&reportFile, "report", "", "Also write the markdown report to this file")

	detectCmd := &cobra.Command{
		Use:   "detect",
		Short: "List slide-sized frames missing from an export",
		Run:   runDetect,
	}
	detectCmd.Flags().StringVarP(&manifestPath, "manifest", "m", filepath.Join("slides", figmaslides.ManifestFileName), "Manifest written by export")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync server",
		Run:   runServe,
	}
	serveCmd.Flags().StringVarP(&configFile, "config", "c", envOr("APP_CONFIG_FILE", defaultConfigFile), "Path to config file (YAML or TOML)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("figma-slides version %s\n", version)
		},
	}

	rootCmd.AddCommand(exportCmd, checkCmd, detectCmd, serveCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fail(err error) {
	red.Printf("Error: %v\n", err)
	os.Exit(1)
}

func writeReport(markdown string) {
	if reportFile == "" {
		return
	}
	green.Printf("\n💾 Writing report to %s... ", reportFile)
	if err := os.WriteFile(reportFile, []byte(markdown), 0644); err != nil {
		red.Printf("✗\n")
		fail(err)
	}
	green.Println("✓")
}

func runExport(cmd *cobra.Command, args []string) {
	cyan.Println("\n🎨 Figma Slides Export")
	cyan.Println("======================")
	cyan.Println()

	ctx, cancel := signalContext()
	defer cancel()

	var parsedNodeIDs []string
	if nodeIDs != "" {
		parsedNodeIDs = figmaslides.ParseNodeIDs(nodeIDs)
	}

	result, err := figmaslides.Run(ctx, figmaslides.Options{
		AccessToken:   string(token.NewStatic(accessToken)),
		FileURL:       figmaURL,
		NodeIDs:       parsedNodeIDs,
		OutputDir:     outputDir,
		ImageFormat:   imageFormat,
		ImageScale:    imageScale,
		Numbered:      numbered,
		HashAlgorithm: hashAlgorithm,
		BaseURL:       apiBase,
		Logger:        &cliLogger{},
	})
	if err != nil {
		fail(err)
	}

	cyan.Println("\n📊 Export Summary:")
	fmt.Printf("  • File: %s\n", result.FileKey)
	fmt.Printf("  • Slides: %d\n", len(result.Slides))
	fmt.Printf("  • Files written: %d\n", len(result.Assets))

	writeReport(result.Markdown)
	green.Printf("\n✨ Successfully exported %d slide(s) to %s\n\n", len(result.Assets), outputDir)
}

func check(withNew bool) *figmaslides.CheckResult {
	ctx, cancel := signalContext()
	defer cancel()

	result, err := figmaslides.Check(ctx, figmaslides.CheckOptions{
		AccessToken:  string(token.NewStatic(accessToken)),
		ManifestPath: manifestPath,
		DetectNew:    withNew,
		BaseURL:      apiBase,
		Logger:       &cliLogger{},
	})
	if err != nil {
		fail(err)
	}
	return result
}

func runCheck(cmd *cobra.Command, args []string) {
	cyan.Println("\n🔍 Figma Slides Check")
	cyan.Println("=====================")
	cyan.Println()

	result := check(detectNew)
	res := result.Check

	cyan.Println("\n📊 Check Summary:")
	fmt.Printf("  • Checked: %d\n", res.Checked)
	fmt.Printf("  • Modified: %d\n", len(res.Modified))
	fmt.Printf("  • Unverifiable: %d\n", len(res.Unverifiable))
	fmt.Printf("  • Not checked: %d\n", len(res.Unchecked))
	fmt.Printf("  • Missing in Figma: %d\n", len(res.Missing))
	for _, rec := range res.Modified {
		color.New(color.FgYellow).Printf("    ✎ %s (%s)\n", rec.Name, rec.RemoteFrameID)
	}
	if detectNew {
		fmt.Printf("  • New frames: %d\n", len(result.NewFrames))
	}

	writeReport(result.Markdown)

	switch {
	case len(res.Modified) > 0:
		color.New(color.FgYellow).Printf("\n%d slide(s) changed in Figma, run export again to refresh them\n\n", len(res.Modified))
		if failOnChange {
			os.Exit(2)
		}
	case len(res.Unchecked)+len(res.Unverifiable) > 0:
		color.New(color.FgYellow).Printf("\n%d slide(s) could not be verified\n\n", len(res.Unchecked)+len(res.Unverifiable))
	default:
		green.Println("\n✨ All slides are up to date")
	}
}

func runDetect(cmd *cobra.Command, args []string) {
	result := check(true)
	if len(result.NewFrames) == 0 {
		green.Println("✨ No new frames")
		return
	}
	cyan.Printf("🆕 %d new frame(s) in %s:\n", len(result.NewFrames), result.Manifest.FileKey)
	for _, f := range result.NewFrames {
		fmt.Printf("  • %s  %s (%.0fx%.0f)\n", f.ID, f.Name, f.Width, f.Height)
	}
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := config.NewDefaultConfig()
	if err := loadConfig(cmd, cfg); err != nil {
		fail(err)
	}
	if accessToken != "" {
		cfg.Figma.Token = accessToken
	}
	if apiBase != "" {
		cfg.Figma.APIBase = apiBase
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := app.Run(ctx, app.WithConfig(cfg)); err != nil {
		fail(fmt.Errorf("app run error: %w", err))
	}
}

// loadConfig reads the config file. A missing default file leaves the
// defaults in place; a missing file given explicitly is an error.
func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		color.New(color.FgYellow).Printf("⚠ %s not found, using defaults\n", configFile)
		return cfg.Validate()
	}
	return config.Load(configFile, cfg)
}

// cliLogger implements figmaslides.Logger with colored terminal output.
type cliLogger struct{}

func (l *cliLogger) Infof(format string, args ...any) {
	color.New(color.FgYellow).Printf(format+"\n", args...)
}

func (l *cliLogger) Warnf(format string, args ...any) {
	color.New(color.FgYellow).Printf("⚠ "+format+"\n", args...)
}

func (l *cliLogger) Errorf(format string, args ...any) {
	color.New(color.FgRed).Printf("✗ "+format+"\n", args...)
}
