// Command hrsdet drives the detection kernel against one or more targets.
// It is the "external CLI parser" collaborator spec.md names out of
// scope for the core, reduced to the minimum needed to actually run a
// scan end to end: flag parsing, bounded multi-target fan-out, and
// result rendering. It never touches socket or timing internals — those
// live entirely in internal/detect and the raw clients.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/remeh/sizedwaitgroup"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/a0x194/hrsdetect/internal/detect"
	"github.com/a0x194/hrsdetect/internal/httpmodel"
	"github.com/a0x194/hrsdetect/internal/report"
	"github.com/a0x194/hrsdetect/internal/scanconfig"
)

const banner = `
██╗  ██╗██████╗ ███████╗██████╗ ███████╗████████╗
██║  ██║██╔══██╗██╔════╝██╔══██╗██╔════╝╚══██╔══╝
███████║██████╔╝███████╗██║  ██║█████╗     ██║
██╔══██║██╔══██╗╚════██║██║  ██║██╔══╝     ██║
██║  ██║██║  ██║███████║██████╔╝███████╗   ██║
╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚═════╝ ╚══════╝   ╚═╝
    HTTP Request Smuggling detector
`

type flags struct {
	urls        []string
	list        string
	types       []string
	timeout     time.Duration
	headers     []string
	insecure    bool
	placement   string
	exitFirst   bool
	concurrency int
	output      string
	teCatalog   string
	clCatalog   string
	verbose     bool
}

func main() {
	f := &flags{}
	root := &cobra.Command{
		Use:   "hrsdet",
		Short: "HTTP Request Smuggling detection engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(f)
		},
	}

	root.Flags().StringArrayVarP(&f.urls, "url", "u", nil, "target URL (repeatable)")
	root.Flags().StringVarP(&f.list, "list", "l", "", "file containing one target URL per line")
	root.Flags().StringSliceVar(&f.types, "types", nil, "detector subset: CL.TE,TE.CL,H2.CL,H2.TE")
	root.Flags().DurationVar(&f.timeout, "timeout", scanconfig.DefaultTimeout, "per-probe timeout")
	root.Flags().StringArrayVar(&f.headers, "header", nil, "extra request header \"Name: Value\" (repeatable)")
	root.Flags().BoolVar(&f.insecure, "insecure", false, "skip TLS certificate verification")
	root.Flags().StringVar(&f.placement, "placement", string(httpmodel.PlacementNormalHeader),
		"H2 payload placement: normal_header|custom_header_value|custom_header_name|request_line")
	root.Flags().BoolVar(&f.exitFirst, "exit-first", false, "stop the scan at the first vulnerable finding")
	root.Flags().IntVar(&f.concurrency, "concurrency", 5, "max targets scanned concurrently")
	root.Flags().StringVarP(&f.output, "output", "o", "", "write JSON report to this path")
	root.Flags().StringVar(&f.teCatalog, "te-catalog", "", "Transfer-Encoding variation catalog JSON file")
	root.Flags().StringVar(&f.clCatalog, "cl-catalog", "", "Content-Length variation catalog JSON file")
	root.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "debug-level logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func run(f *flags) error {
	fmt.Fprint(os.Stderr, banner)

	level := zerolog.InfoLevel
	if f.verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	targets, err := collectTargets(f)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("no targets: pass --url or --list")
	}

	detectors, err := parseDetectors(f.types)
	if err != nil {
		return err
	}
	extraHeaders, err := parseHeaders(f.headers)
	if err != nil {
		return err
	}

	results := make([]httpmodel.ScanResult, len(targets))
	swg := sizedwaitgroup.New(f.concurrency)
	for i, target := range targets {
		swg.Add()
		go func(i int, target httpmodel.Target) {
			defer swg.Done()
			cfg := scanconfig.Config{
				Target:             target,
				Detectors:          detectors,
				ExtraHeaders:       extraHeaders,
				Timeout:            f.timeout,
				ExitFirst:          f.exitFirst,
				H2PayloadPlacement: httpmodel.PayloadPlacement(f.placement),
				VariationFiles:     scanconfig.VariationFiles{TE: f.teCatalog, CL: f.clCatalog},
				InsecureSkipVerify: f.insecure,
			}
			result, err := detect.RunScan(context.Background(), cfg, log.With().Str("target", target.String()).Logger())
			if err != nil {
				log.Error().Err(err).Str("target", target.String()).Msg("scan failed")
				return
			}
			results[i] = result
		}(i, target)
	}
	swg.Wait()

	exitCode := 0
	for _, result := range results {
		printResult(result)
		if result.ExitCode > exitCode {
			exitCode = result.ExitCode
		}
	}

	if f.output != "" {
		if err := writeCombinedJSON(f.output, results); err != nil {
			return err
		}
	}

	os.Exit(exitCode)
	return nil
}

func printResult(result httpmodel.ScanResult) {
	if len(result.Findings) == 0 {
		color.Green("[safe] %s", result.Target)
	}
	for _, finding := range result.Findings {
		c := color.New(color.FgYellow)
		if finding.Classification == httpmodel.Vulnerable {
			c = color.New(color.FgRed, color.Bold)
		}
		c.Printf("[%s] %s %s\n", finding.Classification, finding.Type, result.Target)
		fmt.Printf("  header: %s: %q (ratio %.2f)\n", finding.HeaderName, finding.HeaderValue, finding.Ratio)
	}
	for _, e := range result.Errors {
		color.New(color.FgMagenta).Printf("[error] %s: %s\n", result.Target, e)
	}
	report.WriteMarkers(os.Stdout, result)
}

func writeCombinedJSON(path string, results []httpmodel.ScanResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()
	for _, result := range results {
		if err := report.WriteJSON(f, result); err != nil {
			return err
		}
		fmt.Fprintln(f)
	}
	return nil
}

func collectTargets(f *flags) ([]httpmodel.Target, error) {
	var raw []string
	raw = append(raw, f.urls...)

	if f.list != "" {
		file, err := os.Open(f.list)
		if err != nil {
			return nil, fmt.Errorf("open target list: %w", err)
		}
		defer file.Close()
		sc := bufio.NewScanner(file)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line != "" && !strings.HasPrefix(line, "#") {
				raw = append(raw, line)
			}
		}
	}

	targets := make([]httpmodel.Target, 0, len(raw))
	for _, u := range raw {
		target, err := httpmodel.ParseTarget(u)
		if err != nil {
			return nil, fmt.Errorf("parse target %q: %w", u, err)
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func parseDetectors(types []string) ([]httpmodel.DetectorKind, error) {
	if len(types) == 0 {
		return nil, nil
	}
	valid := map[httpmodel.DetectorKind]bool{
		httpmodel.DetectorCLTE: true, httpmodel.DetectorTECL: true,
		httpmodel.DetectorH2CL: true, httpmodel.DetectorH2TE: true,
		httpmodel.DetectorCL0: true, httpmodel.DetectorH20: true,
	}
	out := make([]httpmodel.DetectorKind, 0, len(types))
	for _, t := range types {
		kind := httpmodel.DetectorKind(strings.TrimSpace(t))
		if !valid[kind] {
			return nil, fmt.Errorf("unknown detector type %q", t)
		}
		out = append(out, kind)
	}
	return out, nil
}

func parseHeaders(raw []string) (httpmodel.HeaderList, error) {
	headers := make(httpmodel.HeaderList, 0, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("malformed --header %q, expected \"Name: Value\"", h)
		}
		headers = append(headers, httpmodel.HeaderField{Name: strings.TrimSpace(name), Value: value})
	}
	return headers, nil
}
