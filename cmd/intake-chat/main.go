// Command intake-chat runs the profile intake in a terminal against a
// ContentPilot server, using the server for answer validation and storage.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/contentpilot/intake/internal/intake"
	"github.com/contentpilot/intake/internal/remote"
	"github.com/contentpilot/intake/internal/util"
	"github.com/joho/godotenv"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
)

// DefaultServerURL is used when neither --server nor $CONTENTPILOT_SERVER is set.
const DefaultServerURL = "http://localhost:8080"

var errMissingToken = errors.New("a session token is required (--token or $CONTENTPILOT_TOKEN)")

func main() {
	if err := godotenv.Load(); err == nil {
		slog.Debug("successfully loaded .env file")
	}
	initializeLogger(os.Getenv("LOG_LEVEL"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		switch {
		case errors.Is(err, remote.ErrUnauthenticated):
			fmt.Fprintln(os.Stderr, "intake-chat: the session token was rejected; sign in again")
		case errors.Is(err, errQuit), errors.Is(err, context.Canceled):
		default:
			fmt.Fprintf(os.Stderr, "intake-chat: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

// initializeLogger keeps the terminal quiet unless LOG_LEVEL asks for more.
func initializeLogger(level string) {
	lvl := slog.LevelWarn
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
			lvl = slog.LevelWarn
		}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

type rootFlags struct {
	server      string
	token       string
	catalogFile string
}

func (f rootFlags) client() (*remote.Client, error) {
	if f.token == "" {
		return nil, errMissingToken
	}
	server := f.server
	if server == "" {
		server = DefaultServerURL
	}
	return remote.New(server, f.token), nil
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:           "intake-chat",
		Short:         "Build a content profile by answering questions in the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			catalog, err := loadCatalog(flags.catalogFile)
			if err != nil {
				return err
			}
			_, err = runChat(cmd.Context(), catalog, client, cmd.InOrStdin(), cmd.OutOrStdout())
			return err
		},
	}
	root.PersistentFlags().StringVar(&flags.server, "server", util.FirstEnv("CONTENTPILOT_SERVER"), "server base URL (overrides $CONTENTPILOT_SERVER)")
	root.PersistentFlags().StringVar(&flags.token, "token", util.FirstEnv("CONTENTPILOT_TOKEN"), "session token from contentpilot -dev-login (overrides $CONTENTPILOT_TOKEN)")
	root.Flags().StringVar(&flags.catalogFile, "catalog", os.Getenv("INTAKE_CATALOG_FILE"), "YAML question catalog (overrides $INTAKE_CATALOG_FILE)")

	root.AddCommand(&cobra.Command{
		Use:   "profiles",
		Short: "List saved profiles, default first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			profiles, err := client.ListProfiles(cmd.Context())
			if err != nil {
				return err
			}
			printProfiles(cmd.OutOrStdout(), profiles)
			return nil
		},
	})
	return root
}

func loadCatalog(path string) (*intake.Catalog, error) {
	if path == "" {
		return intake.DefaultCatalog(), nil
	}
	return intake.LoadCatalogFile(path)
}

// runChat walks catalog with client as both validator and persister and
// returns the saved profile id.
func runChat(ctx context.Context, catalog *intake.Catalog, client *remote.Client, in io.Reader, out io.Writer) (string, error) {
	timer := intake.NewSimpleTimer()
	defer timer.Stop()
	conv := intake.NewConversation(ulid.Make().String(), catalog, client, client, intake.WithTimer(timer))
	defer conv.Close()

	profileID, err := newTerminal(conv, in, out).run(ctx)
	if err != nil {
		return "", err
	}
	slog.Info("intake-chat: profile saved", "profileID", profileID)
	return profileID, nil
}
