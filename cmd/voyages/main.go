package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-voyages/internal/config"
	"github.com/joeblew999/plat-voyages/internal/db"
	"github.com/joeblew999/plat-voyages/internal/lookup"
	"github.com/joeblew999/plat-voyages/internal/publisher"
	"github.com/joeblew999/plat-voyages/internal/server"
	"github.com/joeblew999/plat-voyages/internal/service"
)

// Options defines all CLI flags and env vars for the voyages server.
// Flags: --host, --port, --config, --no-db
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_CONFIG, SERVICE_NO_DB
type Options struct {
	Host   string `doc:"Host to bind to" default:"0.0.0.0"`
	Port   int    `doc:"Port to listen on" short:"p" default:"8086"`
	Config string `doc:"Path to a YAML config file" short:"c"`
	NoDB   bool   `doc:"Do not stage tables in DuckDB"`
}

func loadConfig(opts *Options) *config.Config {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

func newLogger() *log.Logger {
	return log.New(os.Stderr, "", log.LstdFlags)
}

func newServer(opts *Options, cfg *config.Config) *server.Server {
	return server.New(server.Config{
		Host:   opts.Host,
		Port:   fmt.Sprintf("%d", opts.Port),
		App:    cfg,
		NoDB:   opts.NoDB,
		Logger: newLogger(),
	})
}

func newPipeline(opts *Options, cfg *config.Config, logger *log.Logger) (*service.Pipeline, func()) {
	pipelineOpts := []service.PipelineOption{service.WithLogger(logger)}
	cleanup := func() {}
	if !opts.NoDB {
		conn, err := db.Get(db.Config{DataDir: cfg.Output.Dir, DBName: "voyages"})
		if err != nil {
			logger.Printf("[cli] duckdb unavailable, counting in memory: %v", err)
		} else {
			pipelineOpts = append(pipelineOpts, service.WithStore(db.NewStore(conn)))
			cleanup = func() { db.Close() }
		}
	}
	return service.NewPipeline(cfg, pipelineOpts...), cleanup
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		cfg := loadConfig(opts)
		srv := newServer(opts, cfg)

		var (
			pub    *publisher.NATSPublisher
			cancel context.CancelFunc
		)

		hooks.OnStart(func() {
			if cfg.NATS.URL != "" {
				p, err := publisher.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Subject, srv.Metrics())
				if err != nil {
					log.Printf("[nats] %v; build events will not be forwarded", err)
				} else {
					pub = p
					var ctx context.Context
					ctx, cancel = context.WithCancel(context.Background())
					go pub.Forward(ctx, srv.Bus())
				}
			}

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-voyages API server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Data:    %s\n", cfg.Output.Dir)
			fmt.Println()
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics: %s/metrics\n", baseURL)
			fmt.Println()

			if err := http.ListenAndServe(addr, srv); err != nil {
				log.Fatalf("Server error: %v", err)
			}
		})

		hooks.OnStop(func() {
			if cancel != nil {
				cancel()
			}
			if pub != nil {
				pub.Close()
			}
			srv.Close()
		})
	})

	cli.Root().Use = "voyages"
	cli.Root().Short = "Ship voyage map builder"
	cli.Root().Version = "0.1.0"

	// build subcommand: run the pipeline once
	buildCmd := &cobra.Command{
		Use:       "build [arcs|segments|ports|all]",
		Short:     "Fetch the source tables and write the GeoJSON outputs",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{service.KindArcs, service.KindSegments, service.KindPorts, service.KindAll},
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			kind := service.KindAll
			if len(args) == 1 {
				kind = args[0]
			}
			cfg := loadConfig(opts)
			if routed, _ := cmd.Flags().GetBool("route"); routed {
				cfg.Routing.Enabled = true
			}
			logger := newLogger()
			p, cleanup := newPipeline(opts, cfg, logger)
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			res, err := p.Run(ctx, kind, nil)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
				os.Exit(1)
			}
			for _, name := range res.Unresolved {
				logger.Printf("[cli] unresolved port: %s", name)
			}

			if withTiles, _ := cmd.Flags().GetBool("tiles"); withTiles {
				if _, err := p.Tiles(ctx, nil); err != nil {
					fmt.Fprintf(os.Stderr, "Tiles failed: %v\n", err)
					os.Exit(1)
				}
			}

			out, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(out))
		}),
	}
	buildCmd.Flags().Bool("route", false, "Route voyages around land (overrides config)")
	buildCmd.Flags().Bool("tiles", false, "Render PMTiles archives after building")
	cli.Root().AddCommand(buildCmd)

	// tiles subcommand: render existing outputs
	tilesCmd := &cobra.Command{
		Use:   "tiles",
		Short: "Render the built GeoJSON outputs into PMTiles archives",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			cfg := loadConfig(opts)
			logger := newLogger()
			p := service.NewPipeline(cfg, service.WithLogger(logger))
			written, err := p.Tiles(context.Background(), nil)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Tiles failed: %v\n", err)
				os.Exit(1)
			}
			if len(written) == 0 {
				fmt.Fprintln(os.Stderr, "No outputs to render; run build first")
				os.Exit(1)
			}
			for name, n := range written {
				fmt.Printf("%s: %d tiles\n", name, n)
			}
		}),
	}
	cli.Root().AddCommand(tilesCmd)

	// wikidata subcommand: annotate a ports CSV with entity IDs
	wikidataCmd := &cobra.Command{
		Use:   "wikidata",
		Short: "Look up Wikidata IDs for every port in a CSV",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			cfg := loadConfig(opts)
			inPath, _ := cmd.Flags().GetString("in")
			outPath, _ := cmd.Flags().GetString("out")

			client := lookup.NewWikidataClient(&http.Client{Timeout: cfg.Lookup.Timeout}, cfg.Lookup.WikidataURL, cfg.Lookup.UserAgent)
			n, err := client.ResolveFile(context.Background(), inPath, outPath, newLogger())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Lookup failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Wrote %d ports to %s\n", n, outPath)
		}),
	}
	wikidataCmd.Flags().String("in", "ports.csv", "Ports CSV with Cleaned Port and Country columns")
	wikidataCmd.Flags().String("out", "ports_with_wikidata.csv", "Output CSV")
	cli.Root().AddCommand(wikidataCmd)

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			opts.NoDB = true
			srv := newServer(opts, config.Default())
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	cli.Run()
}
