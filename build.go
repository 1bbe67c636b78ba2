//go:build ignore

// build.go - licsrv build script
// Usage: go run build.go [--target=TARGET] [-v]
// Targets: all, server, ctl, test, release, clean

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

const module = "licsrv"

var (
	distDir = "dist"

	// Executables by cmd/ directory name.
	executables = []string{"licsrv", "licsrvctl"}

	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
)

// BuildContext holds configuration for the build process
type BuildContext struct {
	Verbose bool
	Version string
	Commit  string
	GOOS    string
	GOARCH  string
}

func main() {
	target := pflag.String("target", "all", "Build target")
	verbose := pflag.BoolP("verbose", "v", false, "Verbose output")
	version := pflag.String("version", "", "Version stamped into the binaries (default: git describe)")
	pflag.Parse()

	if runtime.GOOS == "windows" {
		colorReset, colorRed, colorGreen, colorYellow, colorBlue, colorCyan = "", "", "", "", "", ""
	}

	printHeader()
	startTime := time.Now()

	ctx := &BuildContext{
		Verbose: *verbose,
		Version: *version,
		Commit:  gitOutput("rev-parse", "--short", "HEAD"),
		GOOS:    runtime.GOOS,
		GOARCH:  runtime.GOARCH,
	}
	if ctx.Version == "" {
		ctx.Version = gitOutput("describe", "--tags", "--always", "--dirty")
	}
	if ctx.Version == "" {
		ctx.Version = "dev"
	}

	switch *target {
	case "all":
		buildAll(ctx)
	case "server":
		buildExecutable("licsrv", ctx)
	case "ctl":
		buildExecutable("licsrvctl", ctx)
	case "test":
		runTests(ctx.Verbose)
	case "release":
		buildRelease(ctx)
	case "clean":
		clean()
	default:
		showHelp()
		os.Exit(1)
	}

	printSuccess(fmt.Sprintf("Build completed in %s", time.Since(startTime).Round(time.Millisecond)))
}

func printHeader() {
	fmt.Println(colorCyan + "===========================================" + colorReset)
	fmt.Println(colorCyan + "        licsrv - Build System              " + colorReset)
	fmt.Println(colorCyan + "===========================================" + colorReset)
	fmt.Println()
}

func printInfo(msg string) {
	fmt.Printf("%s[INFO]%s %s\n", colorBlue, colorReset, msg)
}

func printSuccess(msg string) {
	fmt.Printf("%s[SUCCESS]%s %s\n", colorGreen, colorReset, msg)
}

func printError(msg string) {
	fmt.Printf("%s[ERROR]%s %s\n", colorRed, colorReset, msg)
}

func printWarning(msg string) {
	fmt.Printf("%s[WARNING]%s %s\n", colorYellow, colorReset, msg)
}

// Build all executables
func buildAll(ctx *BuildContext) {
	printInfo("Building all executables...")
	for _, name := range executables {
		buildExecutable(name, ctx)
	}
	printSuccess("All executables built successfully!")
}

// Build a specific executable
func buildExecutable(name string, ctx *BuildContext) {
	printInfo(fmt.Sprintf("Building %s (%s/%s)...", name, ctx.GOOS, ctx.GOARCH))

	exeName := name
	if ctx.GOOS == "windows" {
		exeName += ".exe"
	}
	outputPath := filepath.Join(distDir, ctx.GOOS+"_"+ctx.GOARCH, exeName)
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		printError(fmt.Sprintf("Failed to create %s: %v", filepath.Dir(outputPath), err))
		os.Exit(1)
	}

	ldflags := fmt.Sprintf("-s -w -X main.version=%s -X main.commit=%s -X main.buildTime=%s",
		ctx.Version, ctx.Commit, time.Now().UTC().Format(time.RFC3339))

	args := []string{"build"}
	if ctx.Verbose {
		args = append(args, "-v")
	}
	args = append(args, "-trimpath", "-ldflags", ldflags, "-o", outputPath, "./cmd/"+name)

	cmd := exec.Command("go", args...)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0", "GOOS="+ctx.GOOS, "GOARCH="+ctx.GOARCH)
	cmd.Stderr = os.Stderr
	if ctx.Verbose {
		fmt.Printf("Running: go %s\n", strings.Join(args, " "))
		cmd.Stdout = os.Stdout
	}

	if err := cmd.Run(); err != nil {
		printError(fmt.Sprintf("Failed to build %s: %v", name, err))
		os.Exit(1)
	}

	if info, err := os.Stat(outputPath); err == nil {
		sizeMB := float64(info.Size()) / 1024 / 1024
		printSuccess(fmt.Sprintf("Built %s (%.1f MB)", outputPath, sizeMB))
	}
}

// Run tests
func runTests(verbose bool) {
	printInfo("Running Go tests...")
	args := []string{"test", "-race"}
	if verbose {
		args = append(args, "-v")
	}
	args = append(args, "./...")

	cmd := exec.Command("go", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		printError(fmt.Sprintf("Go tests failed: %v", err))
		os.Exit(1)
	}
	printSuccess("All tests passed")
}

// Build release binaries for every supported platform
func buildRelease(ctx *BuildContext) {
	printInfo("Building release version " + ctx.Version + "...")
	clean()

	platforms := [][2]string{
		{"linux", "amd64"},
		{"linux", "arm64"},
		{"windows", "amd64"},
		{"darwin", "arm64"},
	}
	for _, p := range platforms {
		rc := *ctx
		rc.GOOS, rc.GOARCH = p[0], p[1]
		for _, name := range executables {
			buildExecutable(name, &rc)
		}
	}

	content := fmt.Sprintf("%s %s\nCommit: %s\nBuilt: %s\n",
		module, ctx.Version, ctx.Commit, time.Now().UTC().Format("2006-01-02 15:04:05"))
	if err := os.WriteFile(filepath.Join(distDir, "VERSION.txt"), []byte(content), 0o644); err != nil {
		printWarning(fmt.Sprintf("Failed to write VERSION.txt: %v", err))
	}
	printSuccess("Release build completed")
}

func clean() {
	printInfo("Cleaning build artifacts...")
	if err := os.RemoveAll(distDir); err != nil {
		printError(fmt.Sprintf("Failed to clean %s: %v", distDir, err))
		return
	}
	printSuccess("Build artifacts cleaned")
}

func gitOutput(args ...string) string {
	out, err := exec.Command("git", args...).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func showHelp() {
	fmt.Println("Usage: go run build.go [--target=TARGET] [-v] [--version=X]")
	fmt.Println()
	fmt.Println("Targets:")
	fmt.Println("  all      Build licsrv and licsrvctl for the host platform (default)")
	fmt.Println("  server   Build licsrv only")
	fmt.Println("  ctl      Build licsrvctl only")
	fmt.Println("  test     Run the Go tests with the race detector")
	fmt.Println("  release  Cross-compile both executables for every release platform")
	fmt.Println("  clean    Remove the dist directory")
}
