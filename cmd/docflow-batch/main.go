// docflow-batch runs a directory of documents through classification and
// extraction without touching persistence or routing. It exists to try
// template changes against real files before deploying them.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/docflowhq/docflow/constants"
	"github.com/docflowhq/docflow/internal/classify"
	"github.com/docflowhq/docflow/internal/confidence"
	"github.com/docflowhq/docflow/internal/doctemplate"
	"github.com/docflowhq/docflow/internal/extract"
	"github.com/docflowhq/docflow/internal/ingest"
	"github.com/docflowhq/docflow/internal/logging"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir       = flag.String("dir", "", "directory of documents to parse (required)")
		templates = flag.String("templates", "", "YAML template definitions (optional, regex fallback without)")
		asJSON    = flag.Bool("json", false, "print one JSON object per file instead of a summary line")
		logLevel  = flag.String("log-level", "warn", "slog level for pipeline logging")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{Format: "text", Level: *logLevel})
	ctx := context.Background()

	store := doctemplate.NewMemoryStore()
	if *templates != "" {
		loaded, err := doctemplate.LoadFile(*templates)
		if err != nil {
			printError("Error: load templates: %v\n", err)
			os.Exit(1)
		}
		store = loaded
	}
	resolver := doctemplate.NewResolver(store, logger)
	extractor := extract.NewExtractor(logger)
	cache := extract.NewLayoutCache()

	entries, err := os.ReadDir(*dir)
	if err != nil {
		printError("Error: read directory: %v\n", err)
		os.Exit(1)
	}

	parsed, failures, skipped := 0, 0, 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if _, ok := constants.AllowedExtensions[constants.NormalizeExt(filepath.Ext(name))]; !ok {
			skipped++
			continue
		}
		path := filepath.Join(*dir, name)
		if err := parseOne(ctx, path, name, resolver, extractor, cache, *asJSON, logger); err != nil {
			printError("%s: %v\n", name, err)
			failures++
			continue
		}
		parsed++
	}

	fmt.Printf("Parsing test complete: %d parsed, %d failed, %d skipped\n", parsed, failures, skipped)
	if failures > 0 {
		os.Exit(1)
	}
}

func parseOne(ctx context.Context, path, name string, resolver *doctemplate.Resolver, extractor *extract.Extractor, cache *extract.LayoutCache, asJSON bool, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	digest, err := ingest.HashReader(f)
	_ = f.Close()
	if err != nil {
		return err
	}

	doc, err := extract.Open(path, digest, cache)
	if err != nil {
		return err
	}
	defer doc.Close()
	defer cache.Evict(digest)

	raw, err := doc.RawText(ctx)
	if err != nil {
		return err
	}
	docType := classify.Classify(raw)

	tpl, warnings, err := resolver.Resolve(ctx, doc.Kind(), docType)
	if err != nil {
		return err
	}
	res, err := extractor.Extract(ctx, doc, tpl, docType)
	if err != nil {
		return err
	}
	res.Warnings = append(warnings, res.Warnings...)
	res.Confidence = confidence.Score(res, tpl, nil)

	if asJSON {
		out := struct {
			File   string          `json:"file"`
			Type   string          `json:"type"`
			Result *extract.Result `json:"result"`
		}{name, string(docType), res}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("%s: type=%s method=%s confidence=%d fields=%d warnings=%d\n",
		name, docType, res.Method, res.Confidence, len(res.Fields), len(res.Warnings))
	logger.Debug("fields extracted", "file", name, "fields", res.Fields)
	return nil
}
