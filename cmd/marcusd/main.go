// Command marcusd runs the Marcus coordination core, following
// cmd/factory/main.go's flag-based bootstrap style: flags override
// config file values, which override built-in defaults.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marcus-ai/marcus-core/internal/config"
	"github.com/marcus-ai/marcus-core/internal/coordinator"
)

const banner = `
  __  __
 |  \/  | __ _ _ __ ___ _   _ ___
 | |\/| |/ _` + "`" + ` | '__/ __| | | / __|
 | |  | | (_| | | | (__| |_| \__ \
 |_|  |_|\__,_|_|  \___|\__,_|___/

 coordination core for autonomous coding agents
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("marcusd", flag.ContinueOnError)
	var (
		configPath     = fs.String("config", "", "path to a marcus.yaml config file")
		dataDir        = fs.String("data-dir", "", "override the file-backend data directory")
		dbPath         = fs.String("db", "", "override the sqlite database path")
		backend        = fs.String("backend", "", "persistence backend: file or sqlite")
		kanbanProvider = fs.String("kanban-provider", "", "kanban provider: fake, planka, github")
		aiProviderFlag = fs.String("ai-provider", "", "ai provider: fake, anthropic, openai, google")
		httpAddr       = fs.String("http-addr", "", "address for the read-only dashboard")
		versionFlag    = fs.Bool("version", false, "print version and exit")
		initProject    = fs.String("init", "", "create a project with this name on startup")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *versionFlag {
		fmt.Println("marcusd dev build")
		return 0
	}

	fmt.Print(banner)

	cfg := config.Default()
	if err := cfg.LoadFile(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *dbPath != "" {
		cfg.SQLitePath = *dbPath
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *kanbanProvider != "" {
		cfg.KanbanProvider = *kanbanProvider
	}
	if *aiProviderFlag != "" {
		cfg.AIProvider = *aiProviderFlag
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine, err := coordinator.New(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "initializing marcus:", err)
		return 1
	}

	if *initProject != "" {
		if _, err := engine.Handlers.CreateProject(ctx, *initProject); err != nil {
			fmt.Fprintln(os.Stderr, "creating project:", err)
			return 1
		}
		fmt.Printf("created and activated project %q\n", *initProject)
	}

	go startWebUI(ctx, engine, cfg.HTTPAddr)

	if err := engine.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "marcus exited with error:", err)
		return 1
	}
	return 0
}
