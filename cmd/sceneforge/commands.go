package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rahul/sceneforge/internal/knowledge"
	"github.com/rahul/sceneforge/internal/observability"
	"github.com/rahul/sceneforge/internal/store"
	"github.com/rahul/sceneforge/internal/vectorstore"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/vectorstores"
)

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runCmd(g *globalFlags) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "run [request]",
		Short: "Plan and execute a request, or start an interactive prompt",
		Long: `Run sends a request through analysis, clarification and planning, asks
for approval and executes the plan. Without an argument it reads one
request per line from stdin until EOF or "exit".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()
			a.serveMetrics()

			out := cmd.OutOrStdout()
			s := newSession(a.orchestrator, cmd.InOrStdin(), out, g.chatID)
			s.autoYes = yes
			if observability.IsTerminal(os.Stderr) {
				s.status = os.Stderr
			}

			if len(args) == 1 {
				return s.handle(ctx, args[0])
			}

			if observability.IsTerminal(os.Stdout) {
				observability.PrintBanner(out)
			}
			return repl(ctx, s)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Approve plans without asking")
	return cmd
}

// repl handles requests until the input ends. A failed request is
// reported and the loop moves on; only input errors stop it.
func repl(ctx context.Context, s *session) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := s.ask("request")
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(s.out)
			return nil
		}
		if err != nil {
			return err
		}
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := s.handle(ctx, line); err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
}

func ingestCmd(g *globalFlags) *cobra.Command {
	var (
		urls     []string
		source   string
		entityID string
	)

	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Add documents or web pages to the knowledge index",
		Long: `Ingest chunks and embeds the given files and URLs. Re-ingesting a file
or URL replaces its previous chunks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(urls) == 0 {
				return errors.New("nothing to ingest: pass files or --url")
			}
			cfg, err := g.load()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				abs, err := filepath.Abs(path)
				if err != nil {
					abs = path
				}
				ids, err := a.ingester.Ingest(ctx, knowledge.Source{
					Text:     string(data),
					Source:   source,
					EntityID: entityID,
					FilePath: abs,
				})
				if err != nil {
					return fmt.Errorf("ingest %s: %w", path, err)
				}
				fmt.Fprintf(out, "%s: %d chunks\n", path, len(ids))
			}

			fetcher := knowledge.NewFetcher()
			for _, u := range urls {
				page, ids, err := a.ingester.IngestURL(ctx, fetcher, u)
				if err != nil {
					return fmt.Errorf("ingest %s: %w", u, err)
				}
				fmt.Fprintf(out, "%s (%s): %d chunks\n", u, page.Title, len(ids))
			}
			fmt.Fprintf(out, "index holds %d chunks\n", a.index.Count())
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&urls, "url", nil, "Web page to fetch and ingest (repeatable)")
	cmd.Flags().StringVar(&source, "source", vectorstore.SourceDocumentation, "Source label for ingested files")
	cmd.Flags().StringVar(&entityID, "entity", "", "Scene entity the files describe")
	return cmd
}

func searchCmd(g *globalFlags) *cobra.Command {
	var (
		topK   int
		source string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the knowledge index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if topK <= 0 {
				topK = cfg.Knowledge.TopK
			}
			var opts []vectorstores.Option
			if source != "" {
				opts = append(opts, vectorstores.WithFilters(map[string]any{vectorstore.MetaSource: source}))
			}
			docs, err := vectorstore.NewLangChainStore(a.index, a.embedder).SimilaritySearch(ctx, args[0], topK, opts...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(docs) == 0 {
				fmt.Fprintln(out, "no matches")
				return nil
			}
			for i, d := range docs {
				origin, _ := d.Metadata[vectorstore.MetaFilePath].(string)
				if origin == "" {
					origin, _ = d.Metadata[vectorstore.MetaSource].(string)
				}
				fmt.Fprintf(out, "[%d] %.3f %s\n%s\n\n", i+1, d.Score, origin, strings.TrimSpace(d.PageContent))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of results (default knowledge.top_k)")
	cmd.Flags().StringVar(&source, "source", "", "Only return chunks with this source label")
	return cmd
}

func historyCmd(g *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs for the conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			// Only the database is needed here, so skip the provider.
			hs, err := store.NewHistoryStore(cfg.Memory.Path)
			if err != nil {
				return err
			}
			defer hs.Close()

			runs, err := hs.ListRuns(cmd.Context(), g.chatID, limit)
			if err != nil {
				return err
			}
			return printRuns(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to list")
	return cmd
}

func printRuns(w io.Writer, runs []store.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tOUTCOME\tSTEPS\tPLAN\tREQUEST")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			r.CreatedAt.Local().Format(time.DateTime), r.Outcome, len(r.Results),
			r.PlanTitle, firstLine(r.Request, 60))
	}
	return tw.Flush()
}

func firstLine(s string, width int) string {
	sc := bufio.NewScanner(strings.NewReader(s))
	if sc.Scan() {
		s = sc.Text()
	}
	if r := []rune(s); len(r) > width {
		return string(r[:width-3]) + "..."
	}
	return s
}
