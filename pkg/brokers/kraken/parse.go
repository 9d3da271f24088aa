package kraken

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"brokerapi/pkg/brokers"
	"brokerapi/pkg/errors"
)

var errNoCredentials = errors.New("no credentials configured")

// Kraken reports faults as "<severity><category>:<message>" strings,
// e.g. "EQuery:Unknown asset pair". The library joins several with spaces,
// so a fault runs until the next category prefix.
var errorCodePrefix = regexp.MustCompile(`\bE[A-Z][A-Za-z]*:`)

var authErrors = map[string]bool{
	"EAPI:Invalid key":           true,
	"EAPI:Invalid signature":     true,
	"EAPI:Invalid nonce":         true,
	"EGeneral:Permission denied": true,
}

// Positions inside an OHLC row:
//
//	[0] open time (s), [1] open, [2] high, [3] low, [4] close, [5] vwap,
//	[6] volume, [7] trade count
const (
	ohlcTime      = 0
	ohlcOpen      = 1
	ohlcHigh      = 2
	ohlcLow       = 3
	ohlcClose     = 4
	ohlcVWAP      = 5
	ohlcVolume    = 6
	ohlcCount     = 7
	ohlcMinFields = 8
)

func errMissingField(name string) error {
	return errors.Newf("missing field %q", name)
}

func parseIndexed(name string, values []string, idx int) (decimal.Decimal, error) {
	if idx >= len(values) {
		return decimal.Zero, errMissingField(name)
	}
	return parseDecimal(name, values[idx])
}

func parseDecimal(name, v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, errMissingField(name)
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "field %q", name)
	}
	return d, nil
}

func parseError(op string, body []byte, err error) error {
	berr := brokers.NewError(Name, op, brokers.ErrParse, err)
	berr.Body = body
	return berr
}

// classifyError maps a library error onto a broker error kind. Errors that
// carry Kraken fault codes are exchange (or auth) faults, anything else is
// treated as a transport failure.
func classifyError(op string, err error) *brokers.Error {
	codes := faultCodes(err.Error())
	if len(codes) == 0 {
		return brokers.NewError(Name, op, brokers.ErrNetwork, err)
	}

	berr := brokers.NewExchangeError(Name, op, 0, strings.Join(codes, ", "), nil)
	for _, code := range codes {
		if authErrors[code] {
			berr.Kind = brokers.ErrAuth
			break
		}
	}
	return berr
}

func faultCodes(text string) []string {
	starts := errorCodePrefix.FindAllStringIndex(text, -1)

	codes := make([]string, 0, len(starts))
	for i, loc := range starts {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		code := text[loc[0]:end]
		if cut := strings.IndexAny(code, ",])"); cut >= 0 {
			code = code[:cut]
		}
		codes = append(codes, strings.TrimSpace(code))
	}
	return codes
}

func parseKlines(data []byte) ([]brokers.Kline, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var rows [][]any
	if err := dec.Decode(&rows); err != nil {
		return nil, err
	}

	klines := make([]brokers.Kline, 0, len(rows))
	for i, row := range rows {
		k, err := parseKline(row)
		if err != nil {
			return nil, errors.Wrapf(err, "ohlc %d", i)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func parseKline(row []any) (brokers.Kline, error) {
	if len(row) < ohlcMinFields {
		return brokers.Kline{}, fmt.Errorf("expected at least %d fields, got %d", ohlcMinFields, len(row))
	}

	k := brokers.Kline{Raw: row}

	openTime, err := rowInt(row, ohlcTime)
	if err != nil {
		return k, err
	}
	count, err := rowInt(row, ohlcCount)
	if err != nil {
		return k, err
	}
	k.OpenTime = time.Unix(openTime, 0)
	k.CloseTime = k.OpenTime.Add(time.Minute)
	k.Trades = count

	fields := []struct {
		idx int
		dst *decimal.Decimal
	}{
		{ohlcOpen, &k.Open},
		{ohlcHigh, &k.High},
		{ohlcLow, &k.Low},
		{ohlcClose, &k.Close},
		{ohlcVWAP, &k.VWAP},
		{ohlcVolume, &k.Volume},
	}
	for _, f := range fields {
		s, ok := row[f.idx].(string)
		if !ok {
			return k, fmt.Errorf("field %d: expected string, got %T", f.idx, row[f.idx])
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return k, errors.Wrapf(err, "field %d", f.idx)
		}
		*f.dst = v
	}

	return k, nil
}

func rowInt(row []any, idx int) (int64, error) {
	n, ok := row[idx].(json.Number)
	if !ok {
		return 0, fmt.Errorf("field %d: expected number, got %T", idx, row[idx])
	}
	return n.Int64()
}
