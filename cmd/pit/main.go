package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	cl "tradepit/internal/cli"
	"tradepit/internal/config"
	"tradepit/internal/game"
	"tradepit/internal/wire"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadCLIFromEnv()
	serverURL := cfg.ServerURL

	root := &cobra.Command{
		Use:          "pit",
		Short:        "Trading pit client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", serverURL, "server base URL")

	root.AddCommand(
		newStatusCmd(&serverURL),
		newWatchCmd(&serverURL),
		newTradeCmd(&serverURL),
		newNameCmd(&serverURL),
		newAdminCmd(&serverURL),
		newLogoutCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		printError(fmt.Sprintf("error: %v", err))
		os.Exit(1)
	}
}

func baseURL(serverURL *string) string {
	return strings.TrimRight(strings.TrimSpace(*serverURL), "/")
}

func newClient(serverURL *string) *cl.Client {
	return cl.NewClient(baseURL(serverURL))
}

// openStream connects, resuming the saved session when it belongs to the same server,
// and remembers the session id it ends up with.
func openStream(ctx context.Context, serverURL *string) (*cl.Stream, cl.Session, error) {
	base := baseURL(serverURL)
	saved, err := cl.LoadSession()
	if err != nil {
		return nil, saved, err
	}
	resume, token := "", ""
	if saved.ServerURL == base {
		resume, token = saved.SessionID, saved.ResumeToken
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	stream, err := cl.Dial(dialCtx, base, resume, token)
	if err != nil {
		return nil, saved, err
	}
	if saved.ServerURL != base || saved.SessionID != stream.SessionID() {
		saved = cl.Session{ServerURL: base, SessionID: stream.SessionID()}
	}
	saved.Name = stream.Welcome.Name
	saved.ResumeToken = stream.ResumeToken()
	if err := cl.SaveSession(saved); err != nil {
		stream.Close()
		return nil, saved, err
	}
	return stream, saved, nil
}

func newStatusCmd(serverURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current market",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			client := newClient(serverURL)
			health, err := client.Health(ctx)
			if err != nil {
				return err
			}
			market, err := client.State(ctx)
			if err != nil {
				return err
			}
			renderMarket(health, market)
			return nil
		},
	}
}

func newWatchCmd(serverURL *string) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live market updates until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stream, _, err := openStream(ctx, serverURL)
			if err != nil {
				return err
			}
			defer stream.Close()
			printSuccess(fmt.Sprintf("Connected as %s (session %s)", stream.Welcome.Name, stream.SessionID()))
			if name != "" {
				if err := stream.Send(wire.TypeSetUsername, wire.SetUsername{Name: name}); err != nil {
					return err
				}
			}
			for {
				env, err := stream.Next(ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				if err := renderFrame(env); err != nil {
					return err
				}
			}
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name to set on connect")
	return cmd
}

func newTradeCmd(serverURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "trade QTY",
		Short: "Submit a market order; positive buys, negative sells",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil {
				return fmt.Errorf("quantity must be a whole number: %w", err)
			}
			if qty == 0 {
				printWarn("Zero quantity, nothing to do.")
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			stream, _, err := openStream(ctx, serverURL)
			if err != nil {
				return err
			}
			defer stream.Close()

			before, err := waitState(ctx, stream, nil)
			if err != nil {
				return err
			}
			if err := stream.Send(wire.TypeTrade, wire.Trade{Qty: qty}); err != nil {
				return err
			}
			after, err := waitState(ctx, stream, func(st wire.State) bool {
				return st.You != nil && tradeCount(st) != tradeCount(before)
			})
			if err != nil {
				return err
			}
			renderTradeResult(qty, after)
			return nil
		},
	}
}

func newNameCmd(serverURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "name NAME",
		Short: "Set your display name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			stream, saved, err := openStream(ctx, serverURL)
			if err != nil {
				return err
			}
			defer stream.Close()
			if err := stream.Send(wire.TypeSetUsername, wire.SetUsername{Name: args[0]}); err != nil {
				return err
			}
			payload, err := stream.WaitFor(ctx, string(game.EventUsernameConfirmed))
			if err != nil {
				return err
			}
			var confirmed game.UsernamePayload
			if err := json.Unmarshal(payload, &confirmed); err != nil {
				return err
			}
			saved.Name = confirmed.Name
			if err := cl.SaveSession(saved); err != nil {
				return err
			}
			printSuccess("Display name set to " + confirmed.Name)
			return nil
		},
	}
}

func newAdminCmd(serverURL *string) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Market control commands",
	}

	var password string
	login := &cobra.Command{
		Use:   "login",
		Short: "Authenticate this session as admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := password
			if secret == "" {
				var err error
				secret, err = promptSecret("Admin secret")
				if err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			stream, saved, err := openStream(ctx, serverURL)
			if err != nil {
				return err
			}
			defer stream.Close()
			if err := stream.Send(wire.TypeAdminLogin, wire.AdminLogin{Password: secret}); err != nil {
				return err
			}
			payload, err := stream.WaitFor(ctx, wire.TypeAdminToken)
			if err != nil {
				return err
			}
			var tok wire.AdminToken
			if err := json.Unmarshal(payload, &tok); err != nil {
				return err
			}
			saved.AdminToken = tok.Token
			saved.AdminExpiresAt = tok.ExpiresAt
			if err := cl.SaveSession(saved); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Admin login ok. Token valid until %s.", tok.ExpiresAt.Local().Format(time.RFC1123)))
			return nil
		},
	}
	login.Flags().StringVar(&password, "password", "", "admin secret (prompted when empty)")

	action := func(use, short string, call func(*cl.Client, context.Context, string) (cl.ActionResult, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				token, err := adminToken(serverURL)
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
				defer cancel()
				out, err := call(newClient(serverURL), ctx, token)
				if err != nil {
					return err
				}
				renderAction(use, out)
				return nil
			},
		}
	}

	var outPath string
	export := &cobra.Command{
		Use:   "export",
		Short: "Download every participant's stats and trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := adminToken(serverURL)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(serverURL).AdminExport(ctx, token)
			if err != nil {
				return err
			}
			if outPath == "" {
				renderExport(out)
				return nil
			}
			body, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, body, 0o644); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Exported %d participants to %s", len(out.Users), outPath))
			return nil
		},
	}
	export.Flags().StringVarP(&outPath, "out", "o", "", "write JSON to this file instead of printing a table")

	admin.AddCommand(
		login,
		action("start", "Start the countdown", (*cl.Client).AdminStart),
		action("cancel", "Cancel a running countdown", (*cl.Client).AdminCancel),
		action("reset", "Reset the market to idle", (*cl.Client).AdminReset),
		export,
	)
	return admin
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session and admin token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Session cleared.")
			return nil
		},
	}
}

func adminToken(serverURL *string) (string, error) {
	saved, err := cl.LoadSession()
	if err != nil {
		return "", err
	}
	return saved.AdminTokenFor(baseURL(serverURL), time.Now())
}

// waitState reads frames until a state frame satisfies match. A nil match accepts the first.
func waitState(ctx context.Context, stream *cl.Stream, match func(wire.State) bool) (wire.State, error) {
	for {
		payload, err := stream.WaitFor(ctx, string(game.EventSnapshot))
		if err != nil {
			return wire.State{}, err
		}
		st, err := cl.DecodeState(payload)
		if err != nil {
			return wire.State{}, err
		}
		if match == nil || match(st) {
			return st, nil
		}
	}
}

func tradeCount(st wire.State) int64 {
	if st.You == nil {
		return 0
	}
	return st.You.Buys + st.You.Sells
}
