package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"campus_chat/internal/chatclient"
	"campus_chat/pkg/jwt"
	"campus_chat/pkg/logger"
)

var (
	serverURL string
	token     string
	userID    string
	secret    string
	issuer    string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "Development client for the campus chat server",
	Long: `chatctl mints development tokens and talks to the chat server
over the socket gateway or the REST polling fallback.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("CHAT_SERVER", "http://localhost:8080"), "chat server base URL")
	rootCmd.PersistentFlags().StringVarP(&token, "token", "t", os.Getenv("CHAT_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", os.Getenv("CHAT_USER"), "user id")
	rootCmd.PersistentFlags().StringVar(&secret, "secret", os.Getenv("JWT_ACCESS_SECRET"), "JWT secret used to mint a token when --token is empty")
	rootCmd.PersistentFlags().StringVar(&issuer, "issuer", envOr("JWT_ISSUER", "campus-chat"), "JWT issuer")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(tokenCmd, listenCmd, sendCmd, historyCmd, conversationsCmd)
	listenCmd.Flags().String("transport", "ws", "transport: ws or poll")
	listenCmd.Flags().Duration("interval", 5*time.Second, "poll interval for the poll transport")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token for --user",
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")
		tok, err := mintToken(ttl)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print chat events as they arrive",
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		interval, _ := cmd.Flags().GetDuration("interval")

		opts, err := clientOptions()
		if err != nil {
			return err
		}
		opts.PollInterval = interval

		src, err := chatclient.New(transport, opts)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		done := make(chan error, 1)
		go func() { done <- src.Run(ctx) }()

		enc := json.NewEncoder(os.Stdout)
		for env := range src.Events() {
			enc.Encode(env)
		}
		return <-done
	},
}

var sendCmd = &cobra.Command{
	Use:   "send [recipient] [text]",
	Short: "Send a message over REST",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPI()
		if err != nil {
			return err
		}
		out, err := api.SendMessage(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [peer]",
	Short: "Show the conversation with a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPI()
		if err != nil {
			return err
		}
		history, err := api.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(history)
	},
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List conversations of the current user",
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPI()
		if err != nil {
			return err
		}
		list, err := api.Conversations(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(list)
	},
}

func clientOptions() (chatclient.Options, error) {
	tok := token
	if tok == "" {
		var err error
		if tok, err = mintToken(time.Hour); err != nil {
			return chatclient.Options{}, err
		}
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	return chatclient.Options{
		BaseURL: serverURL,
		Token:   tok,
		UserID:  userID,
		Logger:  logger.NewWithOptions(logger.Options{Level: level, Pretty: true, Output: os.Stderr}),
	}, nil
}

func newAPI() (*chatclient.API, error) {
	opts, err := clientOptions()
	if err != nil {
		return nil, err
	}
	return chatclient.NewAPI(opts), nil
}

func mintToken(ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("--user is required")
	}
	if secret == "" {
		return "", errors.New("--token or --secret is required")
	}
	return jwt.GenerateAccessToken(userID, secret, issuer, ttl)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
