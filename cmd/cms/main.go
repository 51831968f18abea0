package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cms-go/internal/app"
	"cms-go/internal/cms"
	"cms-go/internal/config"
	"cms-go/internal/encryption"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies environment overrides.
func loadConfig() (*config.Config, string, error) {
	defaults, err := app.LoadDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	path := defaults.ConfigPath
	cfg, err := config.ReadFromFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// newApp reads the config and creates a CMSApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Sync", "Serve").
func newApp(ctx context.Context, operation string) (*app.CMSApp, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.NewCMSApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

// readPassphrase prompts on the terminal, or falls back to CMS_SNAPSHOT_PASSPHRASE.
func readPassphrase(prompt string, confirm bool) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		if p := os.Getenv("CMS_SNAPSHOT_PASSPHRASE"); p != "" {
			return p, nil
		}
		return "", errors.New("no terminal: set CMS_SNAPSHOT_PASSPHRASE")
	}
	fmt.Fprint(os.Stderr, prompt)
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if confirm {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		second, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		if string(first) != string(second) {
			return "", errors.New("passphrases do not match")
		}
	}
	return string(first), nil
}

var rootCmd = &cobra.Command{
	Use:           "cms",
	Short:         "Git-backed content service",
	SilenceUsage:  true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.LoadDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		instanceID := uuid.New().String()
		cfg := defaults.Config(instanceID)

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Instance ID: %s\n", instanceID)
		fmt.Printf("Base Dir:    %s\n", defaults.BaseDir)
		fmt.Printf("Polling:     every %s, cache TTL %s\n", cfg.Polling.Interval(), cfg.Cache.Duration())
		fmt.Printf("Set %s to verify webhook signatures.\n", app.WebhookSecretEnv)
		fmt.Println("Add a [[providers]] entry before running `cms sync`.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Printf("# Configuration from %s\n\n", path)
		m := &config.Manager{}
		return m.Write(os.Stdout, cfg.Redacted())
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the snapshot key pair",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the snapshot key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Snapshots.Encryption)
		if err != nil {
			return err
		}
		if enc.IsConfigured() {
			return fmt.Errorf("key pair already exists at %s", cfg.Snapshots.Encryption.PublicKeyPath)
		}
		passphrase, err := readPassphrase("Passphrase: ", true)
		if err != nil {
			return err
		}
		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("generating key pair: %w", err)
		}
		fmt.Printf("Key pair written to %s\n", cfg.Snapshots.Encryption.PublicKeyPath)
		return nil
	},
}

var keysShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the snapshot public key",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Snapshots.Encryption)
		if err != nil {
			return err
		}
		pk, ok := enc.(interface{ PublicKey() (string, error) })
		if !ok {
			return fmt.Errorf("encryption type %q has no public key", cfg.Snapshots.Encryption.Type)
		}
		key, err := pk.PublicKey()
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh content from the remotes",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")

		a, err := newApp(cmd.Context(), "Sync")
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.Sync(cmd.Context(), provider)
		if err != nil {
			return err
		}
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
				fmt.Printf("%-12s  failed: %v\n", r.ProviderID, r.Err)
				continue
			}
			fmt.Printf("%-12s  %s  %d item(s)  %d directory(ies)\n",
				r.ProviderID, shortSHA(r.Stats.CommitSHA), r.Stats.Items, r.Stats.Directories)
		}
		if failed > 0 {
			return fmt.Errorf("%d provider(s) failed to sync", failed)
		}
		return nil
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Query content items",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		q := cms.Query{}
		q.ProviderID, _ = flags.GetString("provider")
		q.DirectoryPrefix, _ = flags.GetString("directory")
		q.Category, _ = flags.GetString("category")
		q.Tag, _ = flags.GetString("tag")
		q.Locale, _ = flags.GetString("locale")
		q.Search, _ = flags.GetString("search")
		q.Status, _ = flags.GetString("status")
		q.SortBy, _ = flags.GetString("sort")
		q.Descending, _ = flags.GetBool("desc")
		q.Skip, _ = flags.GetInt("skip")
		q.Take, _ = flags.GetInt("take")
		if flags.Changed("featured") {
			featured, _ := flags.GetBool("featured")
			q.Featured = &featured
		}
		asJSON, _ := flags.GetBool("json")

		a, err := newApp(cmd.Context(), "Query")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Query(cmd.Context(), q)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(res)
		}
		if res.Total == 0 {
			fmt.Println("No content found.")
			return nil
		}
		for _, it := range res.Items {
			fmt.Printf("%s  %-10s  %-40s  %s\n",
				it.DateCreated.Format("2006-01-02"), it.Status, it.Title, it.Path)
		}
		fmt.Printf("\n%d of %d item(s)\n", len(res.Items), res.Total)
		return nil
	},
}

// get command
var getCmd = &cobra.Command{
	Use:   "get REF",
	Short: "Show one item by id, path or URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		raw, _ := cmd.Flags().GetBool("raw")

		a, err := newApp(cmd.Context(), "Get")
		if err != nil {
			return err
		}
		defer a.Close()

		item, err := a.Get(cmd.Context(), provider, args[0])
		if err != nil {
			return err
		}
		if raw {
			fmt.Print(cms.RenderDocument(item))
			return nil
		}
		return printJSON(item)
	},
}

// put command
var putCmd = &cobra.Command{
	Use:   "put PATH FILE",
	Short: "Create or update the item at PATH from a local Markdown file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		message, _ := cmd.Flags().GetString("message")

		text, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[1], err)
		}

		a, err := newApp(cmd.Context(), "Put")
		if err != nil {
			return err
		}
		defer a.Close()

		item, err := a.Put(cmd.Context(), provider, args[0], string(text), message)
		if err != nil {
			return err
		}
		fmt.Printf("Saved %s (%s)\n", item.Path, shortSHA(item.ProviderSpecificID))
		return nil
	},
}

// delete command
var deleteCmd = &cobra.Command{
	Use:   "delete REF",
	Short: "Delete an item by id, path or URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		message, _ := cmd.Flags().GetString("message")

		a, err := newApp(cmd.Context(), "Delete")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Delete(cmd.Context(), provider, args[0], message); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View sync and webhook history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		provider, _ := cmd.Flags().GetString("provider")
		webhooks, _ := cmd.Flags().GetBool("webhooks")

		a, err := newApp(cmd.Context(), "History")
		if err != nil {
			return err
		}
		defer a.Close()

		if webhooks {
			deliveries, err := a.Webhooks(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(deliveries) == 0 {
				fmt.Println("No webhook deliveries recorded.")
				return nil
			}
			for _, d := range deliveries {
				fmt.Printf("%s  %-8s  %-10s  %-12s  %s\n",
					d.ReceivedAt.Format("2006-01-02 15:04:05"), d.Event, d.Outcome, d.ProviderID, d.DeliveryID)
			}
			return nil
		}

		runs, err := a.History(cmd.Context(), provider, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No syncs recorded.")
			return nil
		}
		for _, r := range runs {
			duration := r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond).String()
			line := fmt.Sprintf("#%d  %-12s  %s  %-8s  %-7s  %s  %d item(s)  %s",
				r.ID, r.ProviderID, r.StartedAt.Format("2006-01-02 15:04:05"),
				r.Trigger, r.Status, shortSHA(r.CommitSHA), r.Items, duration)
			if r.Error != "" {
				line += "  " + r.Error
			}
			fmt.Println(line)
		}
		return nil
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect archived generations",
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived generations, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")

		a, err := newApp(cmd.Context(), "SnapshotList")
		if err != nil {
			return err
		}
		defer a.Close()

		infos, err := a.Snapshots(cmd.Context(), provider)
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No snapshots.")
			return nil
		}
		for _, s := range infos {
			fmt.Printf("%s  %s  %s\n", s.CreatedAt.Format("2006-01-02 15:04:05"), shortSHA(s.CommitSHA), s.Name)
		}
		return nil
	},
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Decrypt a snapshot and list its items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")

		a, err := newApp(cmd.Context(), "SnapshotShow")
		if err != nil {
			return err
		}
		defer a.Close()

		g, err := a.Snapshot(cmd.Context(), provider, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Provider: %s\nCommit:   %s\nLoaded:   %s\n\n", g.ProviderID, g.CommitSHA, g.LoadedAt.Format(time.RFC3339))
		for _, it := range g.List() {
			fmt.Printf("  %s\n", it.Path)
		}
		fmt.Printf("\n%d item(s), %d directory(ies)\n", len(g.Items), len(g.Directories))
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and webhook receiver",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Serve")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Serve(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	keysCmd.AddCommand(keysInitCmd)
	keysCmd.AddCommand(keysShowCmd)

	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotShowCmd)

	for _, c := range []*cobra.Command{syncCmd, listCmd, getCmd, putCmd, deleteCmd, historyCmd, snapshotListCmd, snapshotShowCmd} {
		c.Flags().StringP("provider", "p", "", "Provider id (default provider when empty)")
	}

	listCmd.Flags().String("directory", "", "Only items under this directory path")
	listCmd.Flags().String("category", "", "Only items in this category")
	listCmd.Flags().String("tag", "", "Only items with this tag")
	listCmd.Flags().String("locale", "", "Only items in this locale")
	listCmd.Flags().String("search", "", "Whitespace-separated terms matched against title, description and body")
	listCmd.Flags().String("status", "", "Only items with this status")
	listCmd.Flags().Bool("featured", false, "Only featured (or, with =false, non-featured) items")
	listCmd.Flags().String("sort", "", strings.Join([]string{cms.SortCreated, cms.SortTitle, cms.SortOrder, cms.SortSlug}, "|"))
	listCmd.Flags().Bool("desc", false, "Sort descending")
	listCmd.Flags().Int("skip", 0, "Items to skip")
	listCmd.Flags().Int("take", 0, "Maximum items to return (0 for all)")
	listCmd.Flags().Bool("json", false, "Print the result as JSON")

	getCmd.Flags().Bool("raw", false, "Print the item as Markdown with front matter")
	putCmd.Flags().StringP("message", "m", "", "Commit message")
	deleteCmd.Flags().StringP("message", "m", "", "Commit message")

	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of entries to show")
	historyCmd.Flags().Bool("webhooks", false, "Show webhook deliveries instead of syncs")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(serveCmd)
}
