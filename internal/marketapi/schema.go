package marketapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Number decodes the upstream's numeric fields, which arrive as JSON strings
// with thousands separators ("1,234,500"). Blank, "-" and unparsable values
// decode to 0.
type Number float64

// UnmarshalJSON implements json.Unmarshaler
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}

	s := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	*n = Number(ParseNumber(s))
	return nil
}

// Float64 returns n as a float64
func (n Number) Float64() float64 { return float64(n) }

// Int64 returns n truncated to an integer
func (n Number) Int64() int64 { return int64(n) }

// ParseNumber parses a comma-grouped decimal string, returning 0 when blank
// or invalid.
func ParseNumber(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" || s == "-" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// StockInfo is one record of the listed-issue snapshot (stock_info)
type StockInfo struct {
	ISUCode       string `json:"ISU_CD" validate:"required"`
	ShortCode     string `json:"ISU_SRT_CD"`
	Name          string `json:"ISU_NM"`
	Abbrev        string `json:"ISU_ABBRV"`
	ListingDate   string `json:"LIST_DD" validate:"omitempty,len=8,numeric"`
	Market        string `json:"MKT_TP_NM"`
	SecurityGroup string `json:"SECUGRP_NM"`
	Section       string `json:"SECT_TP_NM"`
	ParValue      Number `json:"PARVAL"`
	ListedShares  Number `json:"LIST_SHRS"`
}

// Code returns the 6-character short code, derived from ISUCode when the
// record does not carry one.
func (s StockInfo) Code() string {
	if s.ShortCode != "" {
		return s.ShortCode
	}
	return ShortCode(s.ISUCode)
}

// DailyTrade is one record of the per-day trading snapshot (daily_trade)
type DailyTrade struct {
	BaseDate        string `json:"BAS_DD"`
	ISUCode         string `json:"ISU_CD" validate:"required"`
	Name            string `json:"ISU_NM"`
	Market          string `json:"MKT_NM"`
	Close           Number `json:"TDD_CLSPRC"`
	Change          Number `json:"CMPPREVDD_PRC"`
	FluctuationRate Number `json:"FLUC_RT"`
	Open            Number `json:"TDD_OPNPRC"`
	High            Number `json:"TDD_HGPRC"`
	Low             Number `json:"TDD_LWPRC"`
	Volume          Number `json:"ACC_TRDVOL"`
	TradeValue      Number `json:"ACC_TRDVAL"`
	MarketCap       Number `json:"MKTCAP"`
	ListedShares    Number `json:"LIST_SHRS"`
}

// Code returns the 6-character short code of the traded issue
func (d DailyTrade) Code() string {
	return ShortCode(d.ISUCode)
}

// ShortCode reduces a 12-character standard code (KR7005930003) to its
// 6-character short form (005930). Other inputs are returned trimmed.
func ShortCode(isuCode string) string {
	code := strings.TrimSpace(isuCode)
	if len(code) == 12 && strings.HasPrefix(code, "KR") {
		return code[3:9]
	}
	return code
}

// NormalizeCode turns a user-supplied issue code into the short form used to
// key snapshot records. Standard codes are shortened and all-digit codes are
// left-padded with zeros to 6 characters ("5930" becomes "005930").
func NormalizeCode(code string) string {
	code = ShortCode(code)
	if code == "" || len(code) >= 6 {
		return code
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return code
		}
	}
	return strings.Repeat("0", 6-len(code)) + code
}

// DailyBar is one row of the per-issue daily chart (daily_ohlcv). The
// upstream returns every trading day in the requested range.
type DailyBar struct {
	Date   string `json:"stck_bsop_date" validate:"required,len=8,numeric"`
	Open   Number `json:"stck_oprc"`
	High   Number `json:"stck_hgpr"`
	Low    Number `json:"stck_lwpr"`
	Close  Number `json:"stck_clpr"`
	Volume Number `json:"acml_vol"`
}

// Trade converts the bar into the snapshot record shape for the issue code
func (b DailyBar) Trade(code string) DailyTrade {
	return DailyTrade{
		BaseDate: b.Date,
		ISUCode:  code,
		Open:     b.Open,
		High:     b.High,
		Low:      b.Low,
		Close:    b.Close,
		Volume:   b.Volume,
	}
}

// DecodeRecords decodes and validates each raw record as T. Records that fail
// to decode or validate are skipped and reported in errs.
func DecodeRecords[T any](records []json.RawMessage) (out []T, errs []error) {
	out = make([]T, 0, len(records))
	for i, raw := range records {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		if err := validate.Struct(v); err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		out = append(out, v)
	}
	return out, errs
}
