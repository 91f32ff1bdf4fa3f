package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/RyanBlaney/sonido-key/algorithms/chroma"
	"github.com/RyanBlaney/sonido-key/analysis"
	"github.com/RyanBlaney/sonido-key/logging"
	"github.com/RyanBlaney/sonido-key/transcode"
)

type options struct {
	workers  int
	start    float64
	end      float64
	verbose  bool
	pngDir   string
	logLevel string
	ffmpeg   string
	ffprobe  string
}

// fileResult is one line of output
type fileResult struct {
	File string `json:"file"`
	*analysis.Result
	Error string `json:"error,omitempty"`
}

func main() {
	var o options
	flag.IntVar(&o.workers, "workers", 0, "concurrent analyses (0 = number of CPUs)")
	flag.Float64Var(&o.start, "start", 0, "segment start in seconds")
	flag.Float64Var(&o.end, "end", 0, "segment end in seconds (0 = end of file)")
	flag.BoolVar(&o.verbose, "v", false, "print the chroma and key correlation tables")
	flag.StringVar(&o.pngDir, "png", "", "write chromagram PNGs into this directory")
	flag.StringVar(&o.logLevel, "log", "warn", "log level: debug|info|warn|error")
	flag.StringVar(&o.ffmpeg, "ffmpeg", "ffmpeg", "path to ffmpeg")
	flag.StringVar(&o.ffprobe, "ffprobe", "ffprobe", "path to ffprobe")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: keyscan [flags] files...\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(o, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "keyscan:", err)
		os.Exit(1)
	}
}

func run(o options, files []string) error {
	level, err := logging.ParseLevel(o.logLevel)
	if err != nil {
		return err
	}
	logging.SetLevel(level)

	seg, err := segment(o.start, o.end)
	if err != nil {
		return err
	}

	if o.pngDir != "" {
		if err := os.MkdirAll(o.pngDir, 0o755); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	decoderConfig := transcode.DefaultDecoderConfig()
	decoderConfig.FFmpegPath = o.ffmpeg
	decoderConfig.FFprobePath = o.ffprobe
	decoder := transcode.NewDecoder(decoderConfig)
	if err := decoder.ValidateConfig(ctx); err != nil {
		return err
	}

	analyzer, err := analysis.NewAnalyzer(analysis.DefaultConfig(), decoder)
	if err != nil {
		return err
	}

	pool := analysis.NewPool(o.workers)
	defer pool.Close()

	p := mpb.NewWithContext(ctx, mpb.WithWidth(48), mpb.WithOutput(os.Stderr))
	bar := p.AddBar(int64(len(files)),
		mpb.PrependDecorators(
			decor.Name("Analyzing: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.EwmaETA(decor.ET_STYLE_GO, 30),
		),
	)

	analyze := func(ctx context.Context, file string) (*analysis.Result, error) {
		return analyzer.AnalyzeFile(ctx, file, seg)
	}
	results := analyzeAll(ctx, pool, files, analyze, bar.EwmaIncrement)
	p.Wait()

	enc := json.NewEncoder(os.Stdout)
	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
		if err := enc.Encode(r); err != nil {
			return err
		}
		if r.Result == nil {
			continue
		}

		if o.verbose {
			printTables(r.Result)
		}
		if o.pngDir != "" {
			if err := writePNG(o.pngDir, r.File, r.Chromagram); err != nil {
				return err
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

// analyzeAll runs analyze for every file on pool and collects the results in
// input order. progress is called once per file with its elapsed time.
func analyzeAll(ctx context.Context, pool *analysis.Pool, files []string,
	analyze func(ctx context.Context, file string) (*analysis.Result, error),
	progress func(time.Duration),
) []fileResult {
	results := make([]fileResult, len(files))
	done := make(chan struct{}, len(files))
	for i, file := range files {
		go func() {
			defer func() { done <- struct{}{} }()
			started := time.Now()

			// An abandoned job may still be running when Do returns, so res
			// is only read after Do reports that the job completed
			var res *analysis.Result
			err := pool.Do(ctx, func(ctx context.Context) error {
				var err error
				res, err = analyze(ctx, file)
				return err
			})

			results[i].File = file
			if err != nil {
				results[i].Error = err.Error()
			} else {
				results[i].Result = res
			}
			progress(time.Since(started))
		}()
	}
	for range files {
		<-done
	}
	return results
}

// segment validates the -start and -end flags
func segment(start, end float64) (analysis.Segment, error) {
	var seg analysis.Segment
	var err error
	if seg.Start, err = analysis.Seconds(start); err != nil {
		return seg, fmt.Errorf("-start: %w", err)
	}
	if seg.End, err = analysis.Seconds(end); err != nil {
		return seg, fmt.Errorf("-end: %w", err)
	}
	if seg.End > 0 && seg.End <= seg.Start {
		return seg, fmt.Errorf("invalid segment %g..%g", start, end)
	}
	return seg, nil
}

// printTables prints each pitch class relative to the strongest one, then
// the correlation against every key
func printTables(r *analysis.Result) {
	names := chroma.PitchClassNames()
	relative := r.Profile.Relative()
	for p, name := range names {
		fmt.Printf("%s\t%5.3f\n", name, relative[p])
	}
	fmt.Println()
	for _, c := range r.Estimate.Candidates {
		fmt.Printf("%s\t%6.3f\n", c.Name, c.Correlation)
	}
	fmt.Println()
}

func writePNG(dir, file string, c *chroma.Chromagram) error {
	base := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	out, err := os.Create(filepath.Join(dir, base+".png"))
	if err != nil {
		return err
	}
	if err := c.WritePNG(out, 2, 16); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
