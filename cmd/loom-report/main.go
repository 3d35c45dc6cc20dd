// cmd/loom-report/main.go
//
// Headless companion to `loom`: boots the coordinator, optionally runs
// documents through the pipeline, prints the markdown system report to
// stdout and exits. Useful from scripts and CI where the dashboard has no
// terminal.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	loom "github.com/kingrea/loom"
	"github.com/kingrea/loom/internal/workspace"
)

func main() {
	configPath := flag.String("config", "", "path to the config file (defaults to .loom/config.yaml under the workspace root)")
	root := flag.String("root", "", "workspace root (defaults to the current directory)")
	exportFormat := flag.String("export", "", "also export a snapshot in this format (json, yaml or markdown)")
	wait := flag.Duration("wait", 30*time.Second, "how long to wait for queued documents to finish")
	pollInterval := flag.Duration("poll", 250*time.Millisecond, "poll interval while waiting for completion")
	flag.Parse()

	workRoot := strings.TrimSpace(*root)
	if workRoot == "" {
		cwd, err := os.Getwd()
		if err != nil {
			die("determine working directory: %v", err)
		}
		workRoot = cwd
	}
	absRoot, err := filepath.Abs(workRoot)
	if err != nil {
		die("resolve workspace root: %v", err)
	}

	cfgFile := strings.TrimSpace(*configPath)
	if cfgFile == "" {
		cfgFile = filepath.Join(workspace.DotDir(absRoot), "config.yaml")
	}
	cfg, err := loom.LoadConfig(cfgFile)
	if err != nil {
		die("load config: %v", err)
	}
	if strings.TrimSpace(*root) != "" {
		cfg.Workspace.Root = absRoot
	}
	// Headless run: cli mode records the interface without starting the
	// status server, and nothing here attaches the dashboard.
	cfg.Interface.DefaultMode = "cli"
	cfg.Interface.EnableRealTime = false

	coord, err := loom.QuickStart(context.Background(), cfg)
	if err != nil {
		die("start loom: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := coord.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}()

	queued := false
	for _, doc := range flag.Args() {
		result := coord.ProcessDocument(doc)
		if result.Error != nil {
			die("queue %s: %v", doc, result.Error)
		}
		fmt.Fprintf(os.Stderr, "queued %s (%d stages)\n", filepath.Base(doc), len(result.WorkflowIDs))
		queued = true
	}
	if queued {
		waitForPipeline(coord, *wait, *pollInterval)
	}

	fmt.Print(coord.GenerateSystemReport())

	if format := strings.TrimSpace(*exportFormat); format != "" {
		result := coord.ExportSystemData(format)
		if result.Error != nil {
			die("export: %v", result.Error)
		}
		fmt.Fprintf(os.Stderr, "exported %s\n", result.Filename)
	}
}

func waitForPipeline(coord *loom.Coordinator, wait, poll time.Duration) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		instances := coord.Instances()
		settled := len(instances) > 0
		for _, inst := range instances {
			if !inst.Status.Terminal() {
				settled = false
				break
			}
		}
		if settled {
			return
		}
		if time.Now().After(deadline) {
			fmt.Fprintln(os.Stderr, "wait deadline passed with workflows still in flight")
			return
		}
		<-ticker.C
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
