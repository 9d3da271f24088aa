package binance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"brokerapi/pkg/brokers"
	"brokerapi/pkg/errors"
)

var (
	errMissingKey    = errors.New("api key required when secret key provided")
	errMissingSecret = errors.New("secret key required when api key provided")
	errNoCredentials = errors.New("no credentials configured")
)

// Positions inside a kline row:
//
//	[0] open time, [1] open, [2] high, [3] low, [4] close, [5] volume,
//	[6] close time, [7] quote asset volume, [8] number of trades,
//	[9] taker buy base volume, [10] taker buy quote volume, [11] ignore
const (
	klineOpenTime    = 0
	klineOpen        = 1
	klineHigh        = 2
	klineLow         = 3
	klineClose       = 4
	klineVolume      = 5
	klineCloseTime   = 6
	klineQuoteVolume = 7
	klineTrades      = 8
	klineMinFields   = 9
)

func errMissingField(name string) error {
	return errors.Newf("missing field %q", name)
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

// parseErrorMsg keeps the exchange's own message when the reply carried one.
func parseErrorMsg(op string, body []byte, msg string, err error) error {
	berr := brokers.NewError(Name, op, brokers.ErrParse, err)
	berr.Body = body
	berr.Message = msg
	return berr
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
			return nil, errors.Wrapf(err, "kline %d", i)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func parseKline(row []any) (brokers.Kline, error) {
	if len(row) < klineMinFields {
		return brokers.Kline{}, fmt.Errorf("expected at least %d fields, got %d", klineMinFields, len(row))
	}

	k := brokers.Kline{Raw: row}

	openTime, err := rowInt(row, klineOpenTime)
	if err != nil {
		return k, err
	}
	closeTime, err := rowInt(row, klineCloseTime)
	if err != nil {
		return k, err
	}
	trades, err := rowInt(row, klineTrades)
	if err != nil {
		return k, err
	}
	k.OpenTime = time.UnixMilli(openTime)
	k.CloseTime = time.UnixMilli(closeTime)
	k.Trades = trades

	fields := []struct {
		idx int
		dst *decimal.Decimal
	}{
		{klineOpen, &k.Open},
		{klineHigh, &k.High},
		{klineLow, &k.Low},
		{klineClose, &k.Close},
		{klineVolume, &k.Volume},
		{klineQuoteVolume, &k.QuoteVolume},
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
