// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/cheggaaa/pb/v3"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"hfhub/internal/hubapi"
	"hfhub/internal/tui"
	"hfhub/pkg/hfhub"
)

// RootOpts holds global CLI options.
type RootOpts struct {
	Token    string
	JSONOut  bool
	Quiet    bool
	Verbose  bool
	Config   string
	LogFile  string
	LogLevel string
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ro := &RootOpts{}
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := &cobra.Command{
		Use:           "hfdownloader",
		Short:         "Fast, resumable downloader for Hugging Face models & datasets",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	// Global flags
	root.PersistentFlags().StringVarP(&ro.Token, "token", "t", "", "Hugging Face access token (also reads HF_TOKEN env)")
	root.PersistentFlags().BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON events (progress, plan, results)")
	root.PersistentFlags().BoolVarP(&ro.Quiet, "quiet", "q", false, "Quiet mode (minimal logs)")
	root.PersistentFlags().BoolVarP(&ro.Verbose, "verbose", "v", false, "Verbose logs (accepted; no command reads it)")
	root.PersistentFlags().StringVar(&ro.Config, "config", "", "Path to config file (JSON or YAML)")
	root.PersistentFlags().StringVar(&ro.LogFile, "log-file", "", "Log file path (accepted; no log file is written)")
	root.PersistentFlags().StringVar(&ro.LogLevel, "log-level", "info", "Log level: debug, info, warn, error (accepted; no command reads it)")

	// Add commands
	downloadCmd := newDownloadCmd(ctx, ro)
	root.AddCommand(downloadCmd)
	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newServeCmd(ro))
	root.AddCommand(newConfigCmd())

	// Make download the default command when no subcommand is given
	root.RunE = downloadCmd.RunE
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

// downloadOpts collects the flags a "download" invocation needs before it
// can be turned into a hfhub.RepoSpec + hfhub.Settings pair.
type downloadOpts struct {
	repo       string
	dataset    bool
	space      bool
	revision   string
	allow      []string
	ignore     []string
	outputDir  string
	localDir   string
	cacheDir   string
	endpoint   string
	maxWorkers int
	force      bool
	localOnly  bool
	offline    bool
	turbo      bool
	noXet      bool
	dryRun     bool
	planFormat string
}

func newDownloadCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	o := &downloadOpts{}

	cmd := &cobra.Command{
		Use:   "download [REPO]",
		Short: "Download a model or dataset from the Hugging Face Hub",
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return applySettingsDefaults(cmd, ro, o)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, settings, err := finalize(ro, args, o)
			if err != nil {
				return err
			}

			provider := hubapi.New(firstNonEmptyStr(o.endpoint, "https://huggingface.co"), settings.TokenValue)

			if o.dryRun {
				info, err := provider.RepoInfo(ctx, repo)
				if err != nil {
					return err
				}
				return printPlan(ro, o, repo, info)
			}

			// Progress mode selection
			switch {
			case ro.JSONOut:
				settings.ProgressFunc = jsonProgress(os.Stdout)
			case ro.Quiet:
				settings.ProgressFunc = cliProgress(repo)
			default:
				ui := tui.NewLiveRenderer(repo, settings)
				defer ui.Close()
				settings.ProgressFunc = ui.Handler()
			}

			_, err = hfhub.DownloadSnapshot(ctx, repo, provider, settings)
			return err
		},
	}

	// Job flags
	cmd.Flags().StringVarP(&o.repo, "repo", "r", "", "Repository ID (owner/name). If omitted, positional REPO is used")
	cmd.Flags().BoolVar(&o.dataset, "dataset", false, "Treat repo as a dataset")
	cmd.Flags().BoolVar(&o.space, "space", false, "Treat repo as a space")
	cmd.Flags().StringVarP(&o.revision, "revision", "b", "main", "Revision/branch to download (e.g. main, refs/pr/1)")
	cmd.Flags().StringSliceVarP(&o.allow, "allow", "A", nil, "Comma-separated allow globs (e.g. *q4_k_m*,*.json)")
	cmd.Flags().StringSliceVarP(&o.ignore, "ignore", "I", nil, "Comma-separated ignore globs (e.g. .*,*.md)")

	// Settings flags
	cmd.Flags().StringVarP(&o.outputDir, "output", "o", "", "Alias for --cache-dir")
	cmd.Flags().StringVar(&o.cacheDir, "cache-dir", "", "Cache directory (defaults to HF_HUB_CACHE / ~/.cache/huggingface/hub)")
	cmd.Flags().StringVar(&o.localDir, "local-dir", "", "Mirror the snapshot into this plain directory instead of the cache")
	cmd.Flags().StringVar(&o.endpoint, "endpoint", "", "Hugging Face Hub endpoint override (HF_ENDPOINT)")
	cmd.Flags().IntVarP(&o.maxWorkers, "max-workers", "c", 8, "Maximum number of files downloading at once")
	cmd.Flags().BoolVar(&o.force, "force", false, "Re-download even if a cached copy already satisfies the request")
	cmd.Flags().BoolVar(&o.localOnly, "local-files-only", false, "Never touch the network; fail if the cache can't satisfy the request")
	cmd.Flags().BoolVar(&o.offline, "offline", false, "Same as --local-files-only (HF_HUB_OFFLINE)")
	cmd.Flags().BoolVar(&o.turbo, "turbo", false, "Enable the accelerated transport (HF_HUB_ENABLE_HF_TRANSFER)")
	cmd.Flags().BoolVar(&o.noXet, "no-xet", false, "Disable Xet-backed transport even when a repo advertises it")

	// CLI-only flags
	cmd.Flags().BoolVar(&o.dryRun, "dry-run", false, "Plan only: print the file list and exit")
	cmd.Flags().StringVar(&o.planFormat, "plan-format", "table", "Plan output format for --dry-run: table|json")

	return cmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func finalize(ro *RootOpts, args []string, o *downloadOpts) (hfhub.RepoSpec, hfhub.Settings, error) {
	repoID := o.repo

	// Repo from args
	if repoID == "" && len(args) > 0 {
		repoID = args[0]
	}

	// Parse filters from repo:filter syntax
	if strings.Contains(repoID, ":") && len(o.allow) == 0 {
		parts := strings.SplitN(repoID, ":", 2)
		repoID = parts[0]
		if strings.TrimSpace(parts[1]) != "" {
			o.allow = splitComma(parts[1])
		}
	}

	if repoID == "" {
		return hfhub.RepoSpec{}, hfhub.Settings{}, fmt.Errorf("missing REPO (owner/name). Pass as positional arg or --repo")
	}
	if !isValidRepoID(repoID) {
		return hfhub.RepoSpec{}, hfhub.Settings{}, fmt.Errorf("invalid repo id %q (expected owner/name)", repoID)
	}

	kind := hfhub.RepoModel
	switch {
	case o.dataset:
		kind = hfhub.RepoDataset
	case o.space:
		kind = hfhub.RepoSpace
	}

	repo := hfhub.RepoSpec{Kind: kind, ID: repoID, Revision: o.revision}

	tok := strings.TrimSpace(ro.Token)
	if tok == "" {
		tok = strings.TrimSpace(os.Getenv("HF_TOKEN"))
	}

	settings := hfhub.Settings{
		Endpoint:             o.endpoint,
		CacheDir:             firstNonEmptyStr(o.cacheDir, o.outputDir),
		LocalDir:             o.localDir,
		TokenOption:          hfhub.TokenExplicit,
		TokenValue:           tok,
		ForceDownload:        o.force,
		LocalFilesOnly:       o.localOnly,
		Offline:              o.offline,
		EnableTurboTransport: o.turbo,
		DisableXetTransport:  o.noXet,
		MaxWorkers:           o.maxWorkers,
		AllowPatterns:        o.allow,
		IgnorePatterns:       o.ignore,
	}
	if tok == "" {
		settings.TokenOption = hfhub.TokenImplicit
	}

	return repo, settings, nil
}

func isValidRepoID(id string) bool {
	parts := strings.Split(id, "/")
	if len(parts) != 2 {
		return false
	}
	return parts[0] != "" && parts[1] != ""
}

func firstNonEmptyStr(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func applySettingsDefaults(cmd *cobra.Command, ro *RootOpts, o *downloadOpts) error {
	path := ro.Config
	if path == "" {
		home, _ := os.UserHomeDir()
		jsonPath := filepath.Join(home, ".config", "hfdownloader.json")
		yamlPath := filepath.Join(home, ".config", "hfdownloader.yaml")
		ymlPath := filepath.Join(home, ".config", "hfdownloader.yml")

		if _, err := os.Stat(jsonPath); err == nil {
			path = jsonPath
		} else if _, err := os.Stat(yamlPath); err == nil {
			path = yamlPath
		} else if _, err := os.Stat(ymlPath); err == nil {
			path = ymlPath
		}
	}
	if path == "" {
		return nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var cfg map[string]any

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return fmt.Errorf("invalid YAML config file: %w", err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return fmt.Errorf("invalid JSON config file: %w", err)
		}
	}

	setStr := func(flagName string, set func(string)) {
		if cmd.Flags().Changed(flagName) {
			return
		}
		if v, ok := cfg[flagName]; ok && v != nil {
			set(fmt.Sprint(v))
		}
	}
	setInt := func(flagName string, set func(int)) {
		if cmd.Flags().Changed(flagName) {
			return
		}
		if v, ok := cfg[flagName]; ok && v != nil {
			var x int
			fmt.Sscan(fmt.Sprint(v), &x)
			set(x)
		}
	}
	setBool := func(flagName string, set func(bool)) {
		if cmd.Flags().Changed(flagName) {
			return
		}
		if v, ok := cfg[flagName]; ok && v != nil {
			set(fmt.Sprint(v) == "true")
		}
	}

	setStr("cache-dir", func(v string) { o.cacheDir = v })
	setStr("local-dir", func(v string) { o.localDir = v })
	setStr("endpoint", func(v string) { o.endpoint = v })
	setInt("max-workers", func(v int) { o.maxWorkers = v })
	setBool("turbo", func(v bool) { o.turbo = v })
	setBool("no-xet", func(v bool) { o.noXet = v })

	if !cmd.Flags().Changed("token") && os.Getenv("HF_TOKEN") == "" {
		if v, ok := cfg["token"]; ok && v != nil {
			ro.Token = fmt.Sprint(v)
		}
	}

	return nil
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printPlan(ro *RootOpts, o *downloadOpts, repo hfhub.RepoSpec, info *hfhub.RepoInfo) error {
	var files []hfhub.Sibling
	var totalSize int64
	for _, s := range info.Siblings {
		if hfhub.MatchesFilter(o.allow, o.ignore, s.RFilename) {
			files = append(files, s)
			totalSize += s.Size
		}
	}

	if strings.ToLower(o.planFormat) == "json" || ro.JSONOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"repo":       repo.ID,
			"revision":   info.SHA,
			"files":      files,
			"totalSize":  totalSize,
			"totalFiles": len(files),
		})
	}

	color.New(color.Bold).Printf("Plan for %s@%s (%d files):\n", repo.ID, info.SHA, len(files))
	lfsTag := color.New(color.FgYellow).SprintFunc()
	for _, f := range files {
		tag := ""
		if f.LFS {
			tag = lfsTag("lfs")
		}
		fmt.Printf("  %-60s %10d  %s\n", f.RFilename, f.Size, tag)
	}
	return nil
}

// cliProgress returns a single aggregate byte-progress bar for quiet mode,
// instead of the full multi-file table the default TUI renders.
func cliProgress(repo hfhub.RepoSpec) hfhub.ProgressFunc {
	var mu sync.Mutex
	var bar *pb.ProgressBar
	var done int64
	sizes := map[string]int64{}

	return func(ev hfhub.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()

		switch ev.Event {
		case "scan_start":
			bar = pb.New64(0)
			bar.SetTemplateString(`{{ string . "repo" }} {{counters . }} {{bar . }} {{percent . }} {{speed . }} {{rtime . "ETA %s"}}`)
			bar.Set("repo", repo.ID)
			bar.Start()
		case "plan_item":
			sizes[ev.Path] = ev.Total
			if bar != nil {
				bar.SetTotal(bar.Total() + ev.Total)
			}
		case "file_progress":
			if bar != nil {
				bar.SetCurrent(done + ev.Done)
			}
		case "file_done", "file_skip":
			done += sizes[ev.Path]
			if bar != nil {
				bar.SetCurrent(done)
			}
		case "done":
			if bar != nil {
				bar.Finish()
			}
		}
	}
}

// jsonProgress returns a JSON-lines progress handler.
func jsonProgress(w io.Writer) hfhub.ProgressFunc {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	return func(ev hfhub.ProgressEvent) {
		mu.Lock()
		_ = enc.Encode(ev)
		mu.Unlock()
	}
}
