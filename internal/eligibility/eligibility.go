// Package eligibility はアカウント作成日時に基づく適格判定を提供する。
//
// 判定はUTCではなく設定されたタイムゾーン（既定: Asia/Seoul）で行う。
// 基準日時はそのタイムゾーンの壁時計時刻として解釈され、夏時間の規則も含めて
// タイムゾーンデータベースに従う。
package eligibility

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // zoneinfoの無い実行環境でもAsia/Seoulを解決する

	"github.com/hitoshi/ballotgate/internal/model"
)

// DefaultTimeZone は適格判定に使用する既定のタイムゾーン。
const DefaultTimeZone = "Asia/Seoul"

// オフセット付きのISO-8601表記。オフセットがある場合は絶対時刻として扱う。
var offsetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
}

// オフセットなしのISO-8601表記。設定タイムゾーンの壁時計時刻として扱う。
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15",
	"2006-01-02",
	"2006-01",
	"2006",
}

// Evaluator は起動時に解析済みの基準日時を保持する判定器。
// 状態を持たず、並行に利用してよい。
type Evaluator struct {
	cutoff   time.Time
	location *time.Location
}

// New は基準日時文字列とタイムゾーン名からEvaluatorを生成する。
// 解析できない場合は*model.ConfigErrorを返す。
func New(cutoffISO, timeZone string) (*Evaluator, error) {
	loc, err := LoadLocation(timeZone)
	if err != nil {
		return nil, &model.ConfigError{Field: "ELIGIBILITY_TIMEZONE", Err: err}
	}

	cutoff, err := ParseCutoff(cutoffISO, loc)
	if err != nil {
		return nil, &model.ConfigError{Field: "ELIGIBILITY_DATE", Err: err}
	}

	return &Evaluator{cutoff: cutoff, location: loc}, nil
}

// Cutoff は設定タイムゾーンで表現した基準日時を返す。
func (e *Evaluator) Cutoff() time.Time {
	return e.cutoff
}

// Location は判定に使用するタイムゾーンを返す。
func (e *Evaluator) Location() *time.Location {
	return e.location
}

// IsEligible はアカウント作成日時（エポック秒）が基準日時より厳密に前であればtrueを返す。
func (e *Evaluator) IsEligible(createdEpoch float64) bool {
	created := model.EpochToTime(createdEpoch).In(e.location)
	return created.Before(e.cutoff)
}

// IsEligible は判定の純粋関数版。基準日時とタイムゾーンを毎回解析する。
func IsEligible(createdEpoch float64, cutoffISO, timeZone string) (bool, error) {
	e, err := New(cutoffISO, timeZone)
	if err != nil {
		return false, err
	}
	return e.IsEligible(createdEpoch), nil
}

// LoadLocation はIANAタイムゾーン名を解決する。空文字列は既定のタイムゾーンとする。
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimeZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q: %w", name, err)
	}
	return loc, nil
}

// ParseCutoff はISO-8601形式の基準日時をlocの壁時計時刻として解析する。
// オフセット（Zや+09:00）を含む場合はその絶対時刻をlocに変換する。
func ParseCutoff(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", model.ErrInvalidCutoff)
	}

	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.In(loc), nil
		}
	}

	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q is not ISO-8601", model.ErrInvalidCutoff, value)
}
