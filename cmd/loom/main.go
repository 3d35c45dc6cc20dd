// cmd/loom/main.go
//
// This is the entry point for the Loom CLI. `loom` boots the coordinator
// from .loom/config.yaml, queues any documents named on the command line
// and then hands the terminal to the dashboard (cli mode) or blocks on
// the status server (web mode).

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	loom "github.com/kingrea/loom"
	"github.com/kingrea/loom/internal/subsystems/ui"
	"github.com/kingrea/loom/internal/tui"
	"github.com/kingrea/loom/internal/workspace"
)

func main() {
	configPath := flag.String("config", "", "path to the config file (defaults to .loom/config.yaml under the workspace root)")
	root := flag.String("root", "", "workspace root (defaults to the current directory)")
	mode := flag.String("mode", "", "interface mode override: auto, cli or web")
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
	if m := strings.TrimSpace(*mode); m != "" {
		cfg.Interface.DefaultMode = m
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord, err := loom.QuickStart(ctx, cfg)
	if err != nil {
		die("start loom: %v", err)
	}
	defer shutdown(coord)

	for _, doc := range flag.Args() {
		result := coord.ProcessDocument(doc)
		if result.Error != nil {
			fmt.Fprintf(os.Stderr, "queue %s: %v\n", doc, result.Error)
			continue
		}
		fmt.Printf("Queued %s (%d stages)\n", filepath.Base(doc), len(result.WorkflowIDs))
	}

	switch coord.InterfaceMode() {
	case ui.ModeWeb:
		fmt.Printf("Loom status server listening at %s\n", coord.WebURL())
		fmt.Println("Press Ctrl+C to stop.")
		<-ctx.Done()
	default:
		if err := tui.Run(coord); err != nil {
			fmt.Fprintf(os.Stderr, "dashboard: %v\n", err)
		}
	}
}

// shutdown drains the pipeline and stops the subsystems. The timeout caps
// how long a stuck executor can hold the terminal after quit.
func shutdown(coord *loom.Coordinator) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := coord.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
