package allowlist

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/hitoshi/ballotgate/internal/model"
)

// DefaultRange はユーザー名を保持するシートの範囲。1列目がユーザー名。
const DefaultRange = "AuthUsers!A2:B"

// OpRecorder は許可リスト操作の結果を記録する。metrics.Collectorが実装する。
type OpRecorder interface {
	RecordAllowlistOp(op, result string)
}

// SheetsConfig はGoogleスプレッドシートの接続先。
type SheetsConfig struct {
	SpreadsheetID string
	Range         string
}

// SheetsConnector はGoogle Sheets APIをバックエンドとするConnector。
type SheetsConnector struct {
	values        *sheets.SpreadsheetsValuesService
	spreadsheetID string
	readRange     string
	metrics       OpRecorder
}

// NewSheetsConnector はSheetsConnectorを生成する。
// 認証はoptsで渡す（option.WithTokenSource など）。
func NewSheetsConnector(ctx context.Context, cfg SheetsConfig, metrics OpRecorder, opts ...option.ClientOption) (*SheetsConnector, error) {
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet ID is required")
	}
	if cfg.Range == "" {
		cfg.Range = DefaultRange
	}

	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &SheetsConnector{
		values:        srv.Spreadsheets.Values,
		spreadsheetID: cfg.SpreadsheetID,
		readRange:     cfg.Range,
		metrics:       metrics,
	}, nil
}

// Exists はユーザー名が許可リストの1列目に存在するかを返す。
// 通信エラーやレスポンス形式の異常時は原因をログに出してfalseを返す。
func (c *SheetsConnector) Exists(ctx context.Context, username string) bool {
	found, err := c.lookup(ctx, username)
	if err != nil {
		slog.Error("allowlist lookup failed",
			slog.String("error", err.Error()),
		)
		c.record("exists", "error")
		return false
	}
	c.record("exists", "ok")
	return found
}

func (c *SheetsConnector) lookup(ctx context.Context, username string) (bool, error) {
	resp, err := c.values.Get(c.spreadsheetID, c.readRange).Context(ctx).Do()
	if err != nil {
		return false, &model.AllowlistError{Op: "exists", Err: err}
	}

	for _, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if cell, ok := row[0].(string); ok && cell == username {
			return true, nil
		}
	}
	return false, nil
}

// Append はユーザー名を許可リストの末尾に1行追加する。
// 値は数式として解釈されないようRAWで書き込む。
func (c *SheetsConnector) Append(ctx context.Context, username string) error {
	row := &sheets.ValueRange{Values: [][]interface{}{{username}}}

	_, err := c.values.Append(c.spreadsheetID, c.readRange, row).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return &model.AllowlistError{Op: "append", Err: err}
	}
	return nil
}

func (c *SheetsConnector) record(op, result string) {
	if c.metrics != nil {
		c.metrics.RecordAllowlistOp(op, result)
	}
}
