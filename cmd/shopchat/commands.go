package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kalambet/shopchat/internal/catalog"
	"github.com/kalambet/shopchat/internal/chat"
	"github.com/kalambet/shopchat/internal/config"
	"github.com/kalambet/shopchat/internal/jobs"
	"github.com/kalambet/shopchat/internal/metrics"
	"github.com/kalambet/shopchat/internal/search"
	"github.com/kalambet/shopchat/internal/session"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <text>",
	Short: "Ask the assistant one question",
	Long: `Ask the assistant one question and print its reply.

Examples:
  shopchat ask sữa tươi không đường
  shopchat ask --remote "nước mắm Phú Quốc"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		remote, _ := cmd.Flags().GetBool("remote")
		if remote {
			return askRemote(cmd.Context(), cmd.OutOrStdout(), text)
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp(a)

		msg, err := a.chat.Submit(cmd.Context(), text)
		if err != nil {
			return err
		}
		printMessage(cmd.OutOrStdout(), msg)
		return nil
	},
}

func askRemote(ctx context.Context, w io.Writer, text string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.post(ctx, "/chat/messages", map[string]string{"text": text})
	if err != nil {
		return err
	}
	var msg session.Message
	if err := decodeJSON(resp, &msg); err != nil {
		return err
	}
	printMessage(w, msg)
	return nil
}

func init() {
	askCmd.Flags().Bool("remote", false, "send through a running \"shopchat serve\"")
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation. The previous conversation of the
signed-in account is restored.

Commands inside the conversation:
  /reset   clear the conversation
  /quit    leave`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp(a)

		return repl(cmd.Context(), a.chat, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// conversation is the part of the orchestrator the REPL drives.
type conversation interface {
	Submit(ctx context.Context, text string) (session.Message, error)
	Snapshot() session.Snapshot
	Reset() error
}

func repl(ctx context.Context, c conversation, in io.Reader, out io.Writer) error {
	snap := c.Snapshot()
	for _, m := range snap.Messages {
		printMessage(out, m)
	}

	sc := bufio.NewScanner(in)
	prompt := func() { fmt.Fprint(out, colorize(colorBold, "› ")) }
	prompt()
	if snap.Draft != "" {
		fmt.Fprintln(out, colorize(colorDim, "(draft: "+snap.Draft+")"))
		prompt()
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
		case "/quit", "/exit":
			return nil
		case "/reset":
			if err := c.Reset(); err != nil {
				printError("%v", err)
				break
			}
			for _, m := range c.Snapshot().Messages {
				printMessage(out, m)
			}
		default:
			msg, err := c.Submit(ctx, line)
			if err != nil {
				printError("%v", err)
				break
			}
			printMessage(out, msg)
		}
		if ctx.Err() != nil {
			return nil
		}
		prompt()
	}
	return sc.Err()
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the local catalog with filters",
	Long: `Search the local catalog directly, without the conversation.

Examples:
  shopchat search cà phê --brand Trung Nguyên --sort price_asc
  shopchat search sữa --category "Đồ uống" --category "Sữa" --min-rating 4 --limit 10`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := localParams(cmd.Flags())
		if err != nil {
			return err
		}
		query := strings.Join(args, " ")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := setupLogging(cfg)
		client, poller := newCatalog(cfg, metrics.New(), logger)

		raw, err := client.SearchLocal(cmd.Context(), query, params)
		if err == nil && jobs.JobID(raw) != "" {
			raw, err = poller.Resolve(cmd.Context(), raw)
		}
		if err != nil {
			return fmt.Errorf("local search: %w", err)
		}

		out := search.NewClassifier(logger).ClassifyPage(raw, query, params.EffectiveLimit())
		printProducts(cmd.OutOrStdout(), out)
		return nil
	},
}

func addSearchFlags(fs *pflag.FlagSet) {
	fs.Int("limit", catalog.DefaultLocalLimit, "page size")
	fs.Int("skip", 0, "number of products to skip")
	fs.StringArray("category", nil, "category path, outermost first (repeatable, up to 5)")
	fs.Float64("min-price", 0, "minimum price")
	fs.Float64("max-price", 0, "maximum price")
	fs.String("brand", "", "brand name")
	fs.Float64("min-rating", 0, "minimum average rating")
	fs.String("sort", "", "sort order")
	fs.Bool("vn-origin", false, "only products made in Vietnam")
	fs.Bool("vn-brand", false, "only Vietnamese brands")
	fs.Float64("positive-over", 0, "minimum positive review percentage")
}

// localParams reads the search flags. Unset optional filters stay nil.
func localParams(fs *pflag.FlagSet) (catalog.LocalParams, error) {
	var p catalog.LocalParams
	p.Limit, _ = fs.GetInt("limit")
	p.Skip, _ = fs.GetInt("skip")
	p.Categories, _ = fs.GetStringArray("category")
	p.Brand, _ = fs.GetString("brand")
	p.Sort, _ = fs.GetString("sort")

	if p.Limit <= 0 || p.Skip < 0 {
		return p, errors.New("--limit must be positive and --skip non-negative")
	}
	if len(p.Categories) > 5 {
		return p, errors.New("at most 5 --category levels are supported")
	}

	floatFlag := func(name string) *float64 {
		if !fs.Changed(name) {
			return nil
		}
		v, _ := fs.GetFloat64(name)
		return &v
	}
	boolFlag := func(name string) *bool {
		if !fs.Changed(name) {
			return nil
		}
		v, _ := fs.GetBool(name)
		return &v
	}
	p.MinPrice = floatFlag("min-price")
	p.MaxPrice = floatFlag("max-price")
	p.MinRating = floatFlag("min-rating")
	p.PositiveOver = floatFlag("positive-over")
	p.VietnamOrigin = boolFlag("vn-origin")
	p.VietnamBrand = boolFlag("vn-brand")

	if p.MinPrice != nil && p.MaxPrice != nil && *p.MinPrice > *p.MaxPrice {
		return p, errors.New("--min-price is greater than --max-price")
	}
	return p, nil
}

func init() {
	addSearchFlags(searchCmd.Flags())
}

// --- barcode / scan ---

var barcodeCmd = &cobra.Command{
	Use:   "barcode <code>",
	Short: "Look up a product by barcode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp(a)

		msg, err := a.chat.LookupBarcode(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printMessage(cmd.OutOrStdout(), msg)
		return nil
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan <image>",
	Short: "Recognise products from a package photo",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening image: %w", err)
		}
		defer f.Close()

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp(a)

		printStep("Uploading %s", filepath.Base(args[0]))
		msg, err := a.chat.ScanImage(cmd.Context(), filepath.Base(args[0]), f)
		if err != nil {
			return err
		}
		printMessage(cmd.OutOrStdout(), msg)
		return nil
	},
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or clear the saved conversation",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the saved conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp(a)

		d := a.store.Descriptor()
		printStatus("Scope", "%s (%s)", d.ScopeKey, d.Durability)
		snap := a.chat.Snapshot()
		if snap.Draft != "" {
			printStatus("Draft", "%s", snap.Draft)
		}
		for _, m := range snap.Messages {
			printMessage(cmd.OutOrStdout(), m)
		}
		return nil
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the saved conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		if remote, _ := cmd.Flags().GetBool("remote"); remote {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			resp, err := client.delete(cmd.Context(), "/chat/session")
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, nil); err != nil {
				return err
			}
			printSuccess("Conversation cleared on the running server")
			return nil
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp(a)

		if err := a.chat.Reset(); err != nil {
			return err
		}
		printSuccess("Conversation cleared (%s)", a.store.Descriptor().ScopeKey)
		return nil
	},
}

func init() {
	sessionResetCmd.Flags().Bool("remote", false, "clear the conversation of a running \"shopchat serve\"")
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionResetCmd)
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

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, "("+k.EnvVar+")"))
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
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var _ conversation = (*chat.Orchestrator)(nil)
