package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/viper"

	"github.com/oarkflow/docgate"
	"github.com/oarkflow/docgate/logger"
	"github.com/oarkflow/docgate/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "explain":
		handleExplain()
	case "get":
		handleGet()
	case "set":
		handleSet()
	case "delete":
		handleDelete()
	case "list":
		handleList()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("docgate - Data access gateway tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  docgate convert <input> <output>                         - Convert between formats")
	fmt.Println("  docgate validate <file>                                  - Validate configuration")
	fmt.Println("  docgate stats <file>                                     - Show configuration statistics")
	fmt.Println("  docgate explain <file> <collection> <action> [doc.json]  - Explain a decision")
	fmt.Println("  docgate get <file> <collection> <id>                     - Read a document")
	fmt.Println("  docgate set <file> <collection> <id> <json> [merge]      - Write a document")
	fmt.Println("  docgate delete <file> <collection> <id>                  - Delete a document")
	fmt.Println("  docgate list <file> <collection> [page-size] [order-by]  - Read the first page of a collection")
	fmt.Println()
	fmt.Println("The session is taken from DOCGATE_UID and DOCGATE_ROLE.")
	fmt.Println("Supported formats: .rules, .dsl, .yaml, .yml, .json")
}

func usage(line string) {
	fmt.Println("Usage: docgate " + line)
	os.Exit(1)
}

func fail(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
	os.Exit(1)
}

func handleConvert() {
	if len(os.Args) < 4 {
		usage("convert <input> <output>")
	}
	inputFile, outputFile := os.Args[2], os.Args[3]

	cfg, err := loadConfig(inputFile)
	if err != nil {
		fail("Error loading config: %v", err)
	}
	if err := saveConfig(cfg, outputFile); err != nil {
		fail("Error saving config: %v", err)
	}
	fmt.Printf("Converted %s -> %s\n", inputFile, outputFile)

	inStat, _ := os.Stat(inputFile)
	outStat, _ := os.Stat(outputFile)
	if inStat != nil && outStat != nil && inStat.Size() > 0 {
		reduction := (1 - float64(outStat.Size())/float64(inStat.Size())) * 100
		if reduction > 0 {
			fmt.Printf("Size reduced by %.1f%% (%d -> %d bytes)\n", reduction, inStat.Size(), outStat.Size())
		} else {
			fmt.Printf("Size increased by %.1f%% (%d -> %d bytes)\n", -reduction, inStat.Size(), outStat.Size())
		}
	}
}

func handleValidate() {
	if len(os.Args) < 3 {
		usage("validate <file>")
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fail("Invalid configuration: %v", err)
	}
	for _, c := range cfg.Permissions.Collections() {
		r := cfg.Permissions[c]
		if len(r.Read)+len(r.Write)+len(r.Delete) == 0 {
			fmt.Printf("Warning: %s grants nothing, only admin has access\n", c)
		}
	}

	s := cfg.Stats()
	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Version: %d\n", cfg.Version)
	fmt.Printf("  Environment: %s\n", cfg.Environment)
	fmt.Printf("  Collections: %d\n", s.Collections)
	fmt.Printf("  Patterns: %d\n", s.Patterns)
	fmt.Printf("  Relations: %d\n", s.Relations)
}

func handleStats() {
	if len(os.Args) < 3 {
		usage("stats <file>")
	}
	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fail("Error loading config: %v", err)
	}
	stat, _ := os.Stat(filename)
	s := cfg.Stats()

	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Version: %d\n", cfg.Version)
	fmt.Printf("Namespace suffix: %q\n", cfg.ResolveNamespace().Suffix)
	fmt.Println()

	fmt.Println("Permissions:")
	fmt.Printf("  Collections: %d\n", s.Collections)
	fmt.Printf("  Patterns:    %d\n", s.Patterns)
	fmt.Printf("  Markers:     %s\n", strings.Join(s.Markers, ", "))
	fmt.Println()

	rels, err := cfg.BuildRelations()
	if err == nil {
		fmt.Println("Relations:")
		for _, line := range rels.Describe() {
			fmt.Printf("  %s\n", line)
		}
		fmt.Println()
	}

	fmt.Println("Backend:")
	fmt.Printf("  Store:     %s\n", cfg.Store.Driver)
	fmt.Printf("  Feed:      %s\n", cfg.Store.Feed)
	fmt.Printf("  Cache:     %s (ttl %s)\n", cfg.Cache.Backend, cfg.CacheTTL())
	fmt.Printf("  Audit:     %t\n", cfg.Audit.Enabled)
}

func handleExplain() {
	if len(os.Args) < 5 {
		usage("explain <file> <collection> <action> [doc.json]")
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fail("Error loading config: %v", err)
	}
	rels, err := cfg.BuildRelations()
	if err != nil {
		fail("Error building relations: %v", err)
	}
	var doc docgate.Document
	if len(os.Args) > 5 {
		data, err := os.ReadFile(os.Args[5])
		if err != nil {
			fail("Error reading document: %v", err)
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			fail("Error decoding document: %v", err)
		}
	}
	a := docgate.NewAuthorizer(cfg.Permissions, rels)
	d := a.Explain(currentSession(), os.Args[3], docgate.Action(os.Args[4]), doc)
	printJSON(d)
	if !d.Allowed {
		os.Exit(2)
	}
}

func handleGet() {
	if len(os.Args) < 5 {
		usage("get <file> <collection> <id>")
	}
	withGateway(os.Args[2], func(ctx context.Context, g *docgate.Gateway) error {
		doc, err := g.GetDocument(ctx, os.Args[3], os.Args[4], false)
		if err != nil {
			return err
		}
		if doc == nil {
			return &docgate.NotFoundError{Collection: os.Args[3], DocumentID: os.Args[4]}
		}
		printJSON(doc)
		return nil
	})
}

func handleSet() {
	if len(os.Args) < 6 {
		usage("set <file> <collection> <id> <json> [merge]")
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(os.Args[5]), &data); err != nil {
		fail("Error decoding document: %v", err)
	}
	merge := len(os.Args) > 6 && os.Args[6] == "merge"
	withGateway(os.Args[2], func(ctx context.Context, g *docgate.Gateway) error {
		if err := g.SetDocument(ctx, os.Args[3], os.Args[4], data, merge); err != nil {
			return err
		}
		fmt.Printf("Wrote %s/%s\n", os.Args[3], os.Args[4])
		return nil
	})
}

func handleDelete() {
	if len(os.Args) < 5 {
		usage("delete <file> <collection> <id>")
	}
	withGateway(os.Args[2], func(ctx context.Context, g *docgate.Gateway) error {
		if err := g.DeleteDocument(ctx, os.Args[3], os.Args[4]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s/%s\n", os.Args[3], os.Args[4])
		return nil
	})
}

func handleList() {
	if len(os.Args) < 4 {
		usage("list <file> <collection> [page-size] [order-by]")
	}
	pageSize := 20
	if len(os.Args) > 4 {
		n, err := strconv.Atoi(os.Args[4])
		if err != nil || n <= 0 {
			fail("Invalid page size: %s", os.Args[4])
		}
		pageSize = n
	}
	var constraints []docgate.Constraint
	if len(os.Args) > 5 {
		constraints = append(constraints, docgate.OrderBy(os.Args[5], docgate.Asc))
	}
	withGateway(os.Args[2], func(ctx context.Context, g *docgate.Gateway) error {
		page, err := g.GetPaginatedDocuments(ctx, os.Args[3], pageSize, nil, constraints...)
		if err != nil {
			return err
		}
		printJSON(page)
		return nil
	})
}

// withGateway opens the backend described by the config file, overlaid
// with DOCGATE_* variables, and runs fn with the session from the
// environment.
func withGateway(filename string, fn func(ctx context.Context, g *docgate.Gateway) error) {
	ctx := context.Background()
	cfg, err := loadConfig(filename)
	if err != nil {
		fail("Error loading config: %v", err)
	}
	cfg, err = docgate.NewConfigLoader().LoadEnv(cfg, filepath.Dir(filename))
	if err != nil {
		fail("Error loading environment: %v", err)
	}
	l := logger.NewPhusluLogger()
	backend, err := stores.Open(ctx, cfg, l)
	if err != nil {
		fail("Error opening backend: %v", err)
	}
	defer backend.Close()

	opts, err := backend.GatewayOptions(cfg)
	if err != nil {
		fail("Error building gateway: %v", err)
	}
	g, err := docgate.New(backend.Store, append(opts, docgate.WithSession(currentSession()))...)
	if err != nil {
		fail("Error building gateway: %v", err)
	}
	defer g.Close()

	if err := fn(ctx, g); err != nil {
		switch {
		case docgate.IsAuthorizationError(err):
			fmt.Printf("Denied: %v\n", err)
		case docgate.IsNotFound(err):
			fmt.Printf("Not found: %v\n", err)
		default:
			fmt.Printf("Error: %v\n", err)
		}
		g.Close()
		backend.Close()
		os.Exit(1)
	}
}

func currentSession() *docgate.Session {
	v := viper.New()
	v.SetEnvPrefix("docgate")
	v.AutomaticEnv()
	uid := v.GetString("uid")
	if uid == "" {
		return nil
	}
	return docgate.NewSessionBuilder(uid).Role(v.GetString("role")).Email(v.GetString("email")).Build()
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fail("Error encoding output: %v", err)
	}
	fmt.Println(string(b))
}

func loadConfig(filename string) (*docgate.Config, error) {
	return docgate.NewConfigLoader().LoadFile(filename)
}

func saveConfig(cfg *docgate.Config, filename string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	case ".rules", ".dsl":
		data, err = docgate.NewDSLEncoder().Encode(cfg)
	default:
		return fmt.Errorf("unsupported file format: %s", filename)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
