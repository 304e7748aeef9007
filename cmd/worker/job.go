package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/langdata"
	"github.com/adverant/nexus/ocr-worker/internal/params"
	"github.com/adverant/nexus/ocr-worker/internal/queue"
	"github.com/adverant/nexus/ocr-worker/internal/worker"
	"github.com/spf13/cobra"
)

// jobFlags are the job options shared by submit, recognize and detect.
type jobFlags struct {
	langs       string
	params      []string
	corePath    string
	langPath    string
	cacheMethod string
	noGzip      bool
	progress    bool
}

func (f *jobFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.langs, "langs", "l", worker.DefaultLangs, "languages, e.g. eng+deu")
	cmd.Flags().StringArrayVarP(&f.params, "param", "p", nil, "engine parameter name=value (repeatable)")
	cmd.Flags().StringVar(&f.corePath, "core-path", "", "tesseract binary for this job; a worker only runs binaries it is configured with")
	cmd.Flags().StringVar(&f.langPath, "lang-path", "", "language data URL prefix or directory")
	cmd.Flags().StringVar(&f.cacheMethod, "cache-method", "", "write, readOnly, refresh or none")
	cmd.Flags().BoolVar(&f.noGzip, "no-gzip", false, "download uncompressed language data")
	cmd.Flags().BoolVar(&f.progress, "progress", false, "print progress events to stderr")
}

// job builds a job for the image at path.
func (f *jobFlags) job(action worker.Action, path string) (*worker.Job, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	custom := params.Custom{}
	for _, p := range f.params {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q, want name=value", p)
		}
		custom[name] = value
	}

	opts := worker.Options{
		CorePath: f.corePath,
		Options: langdata.Options{
			LangPath:    f.langPath,
			CacheMethod: f.cacheMethod,
		},
	}
	if f.noGzip {
		gzip := false
		opts.Gzip = &gzip
	}

	return &worker.Job{
		ID:     queue.NewJobID(),
		Action: action,
		Payload: worker.Payload{
			Image:   image,
			Langs:   langdata.Parse(f.langs),
			Options: opts,
			Params:  custom,
		},
	}, nil
}

func (f *jobFlags) printProgress(cmd *cobra.Command, e worker.Event) {
	if !f.progress || e.Status != worker.StatusProgress {
		return
	}
	switch p := e.Data.(type) {
	case worker.ProgressData:
		fmt.Fprintf(cmd.ErrOrStderr(), "%-32s %3.0f%%\n", p.Status, p.Progress*100)
	case map[string]interface{}:
		progress, _ := p["progress"].(float64)
		fmt.Fprintf(cmd.ErrOrStderr(), "%-32v %3.0f%%\n", p["status"], progress*100)
	}
}

// finish prints the terminal event's data, or returns the rejection.
func finish(cmd *cobra.Command, e worker.Event) error {
	if e.Status == worker.StatusReject {
		return fmt.Errorf("job %s rejected: %v", e.JobID, e.Data)
	}
	return writeOutput(cmd.OutOrStdout(), outputFormat, e.Data)
}

var (
	recognizeFlags jobFlags
	detectFlags    jobFlags
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <image>",
	Short: "Recognize text in an image locally",
	Long: `Run one recognize job in this process and print the result.

Examples:
  ocr-worker recognize scan.png
  ocr-worker recognize scan.png -l eng+deu -p tessedit_create_tsv=1 -o yaml
  ocr-worker recognize scan.png -p tessedit_create_pdf=1 -p pdf_auto_download=1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLocal(cmd, &recognizeFlags, worker.ActionRecognize, args[0])
	},
}

var detectCmd = &cobra.Command{
	Use:   "detect <image>",
	Short: "Detect orientation and script of an image locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLocal(cmd, &detectFlags, worker.ActionDetect, args[0])
	},
}

func init() {
	recognizeFlags.register(recognizeCmd)
	detectFlags.register(detectCmd)
}

// runLocal dispatches one job in this process. Redis is not used.
func runLocal(cmd *cobra.Command, f *jobFlags, action worker.Action, path string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	// A local run may name any binary; queued jobs may not.
	if f.corePath != "" {
		cfg.CorePath = f.corePath
	}
	dispatcher, err := newDispatcher(cfg, nil)
	if err != nil {
		return err
	}
	job, err := f.job(action, path)
	if err != nil {
		return err
	}

	var terminal worker.Event
	dispatcher.Dispatch(cmd.Context(), job, worker.SenderFunc(func(ctx context.Context, e worker.Event) error {
		f.printProgress(cmd, e)
		if e.Terminal() {
			terminal = e
		}
		return nil
	}))

	return finish(cmd, terminal)
}
