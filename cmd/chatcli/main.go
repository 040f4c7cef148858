package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/wwb.chat/internal/analytics"
	"github.com/wuwenbin0122/wwb.chat/internal/client"
	"github.com/wuwenbin0122/wwb.chat/internal/utils"
)

var (
	serverURL string
	token     string
	username  string
	password  string
	quiet     time.Duration
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "chatcli",
	Short: "Terminal client for the persona chat server",
	Long: `chatcli talks to a running chat server.

Messages typed in quick succession are batched into a single turn, and
replies are revealed fragment by fragment with typing pauses.`,
	SilenceUsage: true,
}

var loginCmd = &cobra.Command{
	Use:   "login <identifier>",
	Short: "Log in and print a bearer token",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogin,
}

var charactersCmd = &cobra.Command{
	Use:   "characters",
	Short: "List available personas",
	RunE:  runCharacters,
}

var chatCmd = &cobra.Command{
	Use:   "chat <persona-id>",
	Short: "Open an interactive conversation",
	Long: `Open an interactive conversation with a persona.

Commands inside the session:
  /send    - send queued messages now
  /reset   - clear the conversation history
  /premium - ask to be notified about premium
  /quit    - leave the session`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

var resetCmd = &cobra.Command{
	Use:   "reset <persona-id>",
	Short: "Clear the conversation with a persona",
	Args:  cobra.ExactArgs(1),
	RunE:  runReset,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOrDefault("CHAT_SERVER_URL", "http://localhost:8080"), "chat server base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("CHAT_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().StringVarP(&username, "user", "u", os.Getenv("CHAT_USER"), "username or email to log in with")
	rootCmd.PersistentFlags().StringVarP(&password, "password", "p", os.Getenv("CHAT_PASSWORD"), "password to log in with")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "error", "client log level")

	chatCmd.Flags().DurationVar(&quiet, "quiet", client.DefaultQuietPeriod, "quiet period before queued messages are sent")

	rootCmd.AddCommand(loginCmd, charactersCmd, chatCmd, resetCmd)
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newLogger() *zap.SugaredLogger {
	logger, err := utils.NewLogger(utils.LoggingConfig{
		Level:       logLevel,
		Encoding:    "console",
		ServiceName: "chatcli",
	})
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}

// connect returns a client authenticated with --token or --user/--password.
func connect(ctx context.Context) (*client.TurnClient, error) {
	c := client.NewTurnClient(serverURL, 0)
	if token != "" {
		c.SetToken(token)
		return c, nil
	}
	if username == "" || password == "" {
		return nil, errors.New("either --token or --user and --password are required")
	}
	if _, err := c.Login(ctx, username, password); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return c, nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	if password == "" {
		return errors.New("--password is required")
	}
	c := client.NewTurnClient(serverURL, 0)
	resp, err := c.Login(cmd.Context(), args[0], password)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (expires %s)\n", resp.User.Username, resp.ExpiresAt.Format(time.RFC3339))
	fmt.Fprintln(cmd.OutOrStdout(), resp.Token)
	return nil
}

func runCharacters(cmd *cobra.Command, _ []string) error {
	c := client.NewTurnClient(serverURL, 0)
	personas, err := c.Characters(cmd.Context())
	if err != nil {
		return err
	}
	for _, p := range personas {
		fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s  %s\n", p.ID, p.Name, p.Introduction)
	}
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	c, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	if err := c.ResetConversation(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "conversation with %s cleared\n", args[0])
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	personaID := args[0]
	logger := newLogger()

	c, err := connect(ctx)
	if err != nil {
		return err
	}

	name := personaID
	if personas, err := c.Characters(ctx); err == nil {
		for _, p := range personas {
			if p.ID == personaID {
				name = p.Name
			}
		}
	}

	history, err := c.Conversation(ctx, personaID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	view := newTerminalView(cmd.OutOrStdout(), name)
	for _, msg := range history.Messages {
		view.AppendMessage(msg)
	}
	view.Status(history.RemainingMessages)

	batcher := client.NewBatcher(c, view, client.Options{
		PersonaID:   personaID,
		Remaining:   history.RemainingMessages,
		QuietPeriod: quiet,
		Tracker:     analytics.Init(nil, logger.Named("analytics")),
		Logger:      logger.Named("batcher"),
	})
	defer batcher.Close()

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit":
			drain(batcher)
			return nil
		case "/send":
			batcher.Blur()
			continue
		case "/reset":
			if batcher.InFlight() {
				view.Notice("wait for the reply before resetting")
				continue
			}
			if err := c.ResetConversation(ctx, personaID); err != nil {
				view.Notice("reset failed: " + err.Error())
				continue
			}
			view.Notice("conversation cleared")
			continue
		case "/premium":
			if err := c.PremiumInterest(ctx); err != nil {
				view.Notice("request failed: " + err.Error())
				continue
			}
			view.Notice("출시되면 가장 먼저 알려드릴게요!")
			continue
		}

		// The limit prompt is already on screen for ErrLimitReached.
		if err := batcher.Submit(line); err != nil && !errors.Is(err, client.ErrLimitReached) {
			view.Notice(err.Error())
		}
	}

	drain(batcher)
	return scanner.Err()
}

// drain sends whatever is still queued and waits for the replies.
func drain(b *client.Batcher) {
	for {
		b.Wait()
		if b.Pending() == 0 {
			return
		}
		b.Blur()
	}
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
