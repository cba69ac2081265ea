package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"toolscout/internal/advisor"
	"toolscout/internal/catalog"
	"toolscout/internal/config"
	"toolscout/internal/ollama"
	"toolscout/internal/retrieval"
	"toolscout/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask for a tool recommendation",
	Long: `Ask for a tool recommendation.

Consecutive asks continue the same conversation, so short follow-ups
refine the previous question:

  toolscout ask "cordless nutrunner"
  toolscout ask "18V"
  toolscout ask --new "assembly spindle"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		topK, _ := cmd.Flags().GetInt("top-k")
		fresh, _ := cmd.Flags().GetBool("new")
		sessionID, _ := cmd.Flags().GetString("session")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if sessionID == "" && !fresh {
			sessionID = readSessionFile(cfg.Storage.DataDir)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/chat", advisor.Request{
			SessionID: sessionID,
			Question:  question,
			TopK:      topK,
		})
		if err != nil {
			return err
		}

		var answer advisor.Answer
		if err := decodeJSON(resp, &answer); err != nil {
			return err
		}
		writeSessionFile(cfg.Storage.DataDir, answer.SessionID)

		printAnswer(answer)
		return nil
	},
}

func init() {
	askCmd.Flags().Int("top-k", 0, "number of candidates to return (default: best single match)")
	askCmd.Flags().Bool("new", false, "start a new conversation")
	askCmd.Flags().String("session", "", "continue a specific session id")
}

func printAnswer(answer advisor.Answer) {
	switch {
	case answer.Recommendation != nil:
		rec := answer.Recommendation
		fmt.Printf("%s (%s)\n", colorize(colorBold, rec.Item.Name), rec.Item.Category)
		for _, name := range rec.MatchedConstraints.Names() {
			fmt.Printf("  %s: %s\n", name, rec.MatchedConstraints[name])
		}
		for _, alt := range rec.Alternatives {
			fmt.Printf("  also: %s (%s)\n", alt.Item.Name, alt.Item.Category)
		}
	case answer.Clarification != nil:
		fmt.Println(answer.Clarification.Question)
	case answer.NoMatch != nil:
		printWarning("%s", answer.NoMatch.Reason)
		if alt := answer.NoMatch.NearestAlternative; alt != nil {
			fmt.Printf("  closest alternative: %s (%s)\n", alt.Name, alt.Category)
		}
	default:
		fmt.Println(answer.Message)
	}
}

func sessionFilePath(dataDir string) string {
	return filepath.Join(dataDir, "last_session")
}

func readSessionFile(dataDir string) string {
	data, err := os.ReadFile(sessionFilePath(dataDir))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func writeSessionFile(dataDir, sessionID string) {
	if sessionID == "" {
		return
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return
	}
	os.WriteFile(sessionFilePath(dataDir), []byte(sessionID), 0o644)
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Rebuild catalog embeddings",
	Long:  "Rebuild catalog embeddings. Runs offline against Ollama and the local database; the server picks the vectors up on next search.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		items, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return fmt.Errorf("loading catalog: %w", err)
		}
		printStep("Loaded %d catalog items from %s", len(items), cfg.Catalog.Path)

		ollamaClient := ollama.New(cfg.Ollama.BaseURL)
		if err := ollama.EnsureReady(ctx, ollamaClient, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
			return err
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		embedder := retrieval.NewOllamaEmbedder(ollamaClient, cfg.Ollama.EmbedModel)
		vectors := retrieval.NewSQLiteVectorStore(store.DB(), cfg.Ollama.EmbedModel)
		indexer := retrieval.NewIndexer(embedder, vectors)

		n, err := indexer.Build(ctx, items)
		if err != nil {
			return fmt.Errorf("building embeddings: %w", err)
		}

		printSuccess("Embedded %d catalog items", n)
		return nil
	},
}

// --- catalog ---

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the running server's catalog",
}

var catalogReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the catalog file on the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/admin/catalog/reload", nil)
		if err != nil {
			return err
		}

		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Catalog reloaded: %d items", result["items"])
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogReloadCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
