package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hitoshi/ballotgate/internal/database"
)

// defaultPort はPORT未設定時の待ち受けポート。
const defaultPort = "9999"

// NewRootCommand はballotgateのルートコマンドを生成する。
// サブコマンド省略時はserveとして動作する。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "ballotgate",
		Short:         "Reddit-authenticated gate in front of a Google Form ballot",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), w)
		},
	}
	root.SetOut(w)

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP server",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context(), w)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply PostgreSQL session table migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(w)
			},
		},
		newHealthcheckCommand(),
	)

	return root
}

// newHealthcheckCommand はdistroless環境でのDockerヘルスチェック用サブコマンドを生成する。
// 設定の完全な読み込みは行わない。
func newHealthcheckCommand() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check /health on the local server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(cmd.Context(), fmt.Sprintf("http://localhost:%s/health", port))
		},
	}

	defaultValue := os.Getenv("PORT")
	if defaultValue == "" {
		defaultValue = defaultPort
	}
	cmd.Flags().StringVar(&port, "port", defaultValue, "port the server listens on")
	return cmd
}

// Execute はルートコマンドを実行する。SIGINT/SIGTERMでコンテキストをキャンセルする。
// argsにはos.Args[1:]を渡す。
func Execute(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// runServe は設定を読み込み、アプリケーションを構築してHTTPサーバーを起動する。
func runServe(ctx context.Context, w io.Writer) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	a, err := New(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Serve(ctx)
}

// runMigrate はPostgreSQLのセッションテーブルにマイグレーションを適用する。
func runMigrate(w io.Writer) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck は/healthにリクエストを送り、200以外ならエラーを返す。
func runHealthcheck(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
