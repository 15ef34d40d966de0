// Package model はドメインモデルを定義する。
package model

import (
	"math"
	"time"
)

// Profile はIdP（Reddit）から取得した認証済みアカウントのプロフィールを表す。
// 取得後は読み取り専用として扱い、セッションが所有する。
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Created はアカウント作成日時（エポック秒）。Redditは小数で返す。
	Created    float64 `json:"created"`
	CreatedUTC float64 `json:"created_utc,omitempty"`
}

// CreatedEpoch はアカウント作成日時のエポック秒を返す。
// createdが欠落している場合はcreated_utcで補う。
func (p *Profile) CreatedEpoch() float64 {
	if p.Created != 0 {
		return p.Created
	}
	return p.CreatedUTC
}

// CreatedAt はアカウント作成日時をtime.Timeで返す。
func (p *Profile) CreatedAt() time.Time {
	return EpochToTime(p.CreatedEpoch())
}

// EpochToTime は小数を含むエポック秒をtime.Timeに変換する。
func EpochToTime(epoch float64) time.Time {
	sec, frac := math.Modf(epoch)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9)))
}

// Session は訪問者ごとのセッションを表す。
// Cookieで識別され、最終書き込みから1時間で失効する。
type Session struct {
	ID string `json:"id"`
	// State は認可リクエストごとに発行する使い捨てのCSRF対策トークン。
	State string `json:"state,omitempty"`
	// Profile はコールバック成功後にのみ設定される。
	Profile   *Profile  `json:"profile,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedAt time.Time `json:"created_at"`
}

// IsAuthenticated はセッションにプロフィールが保存済みかどうかを返す。
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.Profile != nil && s.Profile.Name != ""
}

// Username はセッションのユーザー名を返す。未認証の場合は空文字列。
func (s *Session) Username() string {
	if !s.IsAuthenticated() {
		return ""
	}
	return s.Profile.Name
}
