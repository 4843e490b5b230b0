// Command mimir is the operator CLI for the Mimir memory service, a
// thin surface over pkg/mimir.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mimirhq/mimir/pkg/agentctx"
	"github.com/mimirhq/mimir/pkg/config"
	"github.com/mimirhq/mimir/pkg/indexer"
	"github.com/mimirhq/mimir/pkg/log"
	"github.com/mimirhq/mimir/pkg/mimir"
	"github.com/mimirhq/mimir/pkg/search"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "mimir",
		Short: "Mimir - persistent graph-RAG memory for AI agents",
		Long: `Mimir indexes folders of text into a property graph, chunks and
embeds content for hybrid vector + lexical search, and projects
agent-scoped task context over that graph.`,
	}

	rootCmd.AddCommand(
		versionCmd(),
		indexCmd(),
		watchCmd(),
		searchCmd(),
		statsCmd(),
		contextCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openDB() (*mimir.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	log.Init(log.Config{Level: log.InfoLevel})
	return mimir.Open(cfg)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mimir v%s\n", version)
		},
	}
}

// indexCmd indexes a folder once and registers it for watching.
func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a folder into the memory graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recursive, _ := cmd.Flags().GetBool("recursive")
			patterns, _ := cmd.Flags().GetStringSlice("pattern")
			ignore, _ := cmd.Flags().GetStringSlice("ignore")
			embed, _ := cmd.Flags().GetBool("embed")

			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			result, err := db.IndexFolder(ctx, indexer.Config{
				Path:               args[0],
				Recursive:          recursive,
				FilePatterns:       patterns,
				IgnorePatterns:     ignore,
				GenerateEmbeddings: embed,
			})
			if err != nil {
				return fmt.Errorf("indexing %s: %w", args[0], err)
			}

			fmt.Printf("indexed %s: %d files, %d skipped, %d errors (%dms)\n",
				args[0], result.Status.FilesIndexed, result.Status.FilesSkipped,
				len(result.Status.Errors), result.Status.ElapsedMs)
			return nil
		},
	}
	cmd.Flags().Bool("recursive", true, "descend into subdirectories")
	cmd.Flags().StringSlice("pattern", nil, "glob allow-list (repeatable)")
	cmd.Flags().StringSlice("ignore", nil, "glob deny-list (repeatable), merged with .gitignore")
	cmd.Flags().Bool("embed", true, "generate embeddings for indexed chunks")
	return cmd
}

// watchCmd manages the folders registered for continuous watching: list
// them, remove one, or serve, which keeps the process in the foreground
// with the registered folders watched until interrupted.
func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage watched folders",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List actively watched folders",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			folders, err := db.ListFolders()
			if err != nil {
				return err
			}
			if len(folders) == 0 {
				fmt.Println("no folders registered")
				return nil
			}
			for _, f := range folders {
				fmt.Printf("%s  %s  files=%d  status=%s\n", f.ID, f.Path, f.FilesIndexed, f.Status)
			}
			return nil
		},
	})
	removeCmd := &cobra.Command{
		Use:   "remove [path]",
		Short: "Stop watching a folder and remove its indexed content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			result, err := db.RemoveFolder(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("removed %s: %d files, %d chunks deleted\n",
				args[0], result.FilesDeleted, result.ChunksDeleted)
			return nil
		},
	}
	cmd.AddCommand(removeCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run in the foreground, keeping registered folders watched",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			fmt.Println("mimir is watching registered folders, press Ctrl+C to stop")
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			<-sigChan
			fmt.Println("shutting down")
			return nil
		},
	}
	cmd.AddCommand(serveCmd)
	return cmd
}

// searchCmd runs a hybrid search from the shell.
func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Hybrid vector + lexical search over the memory graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			minSim, _ := cmd.Flags().GetFloat64("min-similarity")

			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			results, err := db.VectorSearchNodes(ctx, args[0], search.Options{
				Limit: limit, MinSimilarity: minSim,
			})
			if err != nil {
				return fmt.Errorf("searching: %w", err)
			}
			if len(results) == 0 {
				fmt.Println("no results")
				return nil
			}
			for i, r := range results {
				fmt.Printf("%d. [%.3f] %s (%s)\n", i+1, r.Score, r.Node.ID, r.Node.Type)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", search.DefaultLimit, "maximum results")
	cmd.Flags().Float64("min-similarity", 0.0, "minimum similarity score")
	return cmd
}

// statsCmd prints embedding coverage counts by node type.
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show embedding coverage by node type",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			stats, err := db.GetEmbeddingStats()
			if err != nil {
				return err
			}
			fmt.Printf("total embedded nodes: %d\n", stats.Total)
			for nodeType, count := range stats.Counts {
				fmt.Printf("  %s: %d\n", nodeType, count)
			}
			return nil
		},
	}
}

// contextCmd prints the agent-scoped context for a task.
func contextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context [taskID]",
		Short: "Print an agent-scoped task context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentType, _ := cmd.Flags().GetString("agent")

			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, metrics, err := db.GetTaskContext(args[0], agentctx.AgentType(agentType))
			if err != nil {
				return fmt.Errorf("fetching context: %w", err)
			}
			fmt.Printf("reduction: %.1f%% (%d -> %d bytes)\n",
				metrics.ReductionPercent, metrics.OriginalSize, metrics.FilteredSize)
			for k, v := range ctx {
				fmt.Printf("  %s: %v\n", k, v)
			}
			return nil
		},
	}
	cmd.Flags().String("agent", string(agentctx.AgentWorker), "agent type: pm, worker, or qc")
	return cmd
}
