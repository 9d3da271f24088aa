package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/logrusorgru/aurora"
	"github.com/shopspring/decimal"

	"brokerapi/pkg/brokers"
)

const amountDigits = 8

type quoteView struct {
	Exchange string          `json:"exchange"`
	Symbol   string          `json:"symbol"`
	Bid      decimal.Decimal `json:"bid"`
	Ask      decimal.Decimal `json:"ask"`
	Spread   decimal.Decimal `json:"spread"`
}

type timeView struct {
	Exchange   string    `json:"exchange"`
	ServerTime time.Time `json:"server_time"`
	LocalTime  time.Time `json:"local_time"`
	Skew       string    `json:"skew"`
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeBalances prints balances sorted by asset with grouped digits.
func writeBalances(w io.Writer, balances brokers.Balances) error {
	assets := make([]string, 0, len(balances))
	for asset := range balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "ASSET\tFREE\tLOCKED\tTOTAL\t")
	for _, asset := range assets {
		b := balances[asset]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", asset, amount(b.Free), amount(b.Locked), amount(b.Total()))
	}
	return tw.Flush()
}

func amount(d decimal.Decimal) string {
	f, _ := d.Float64()
	return humanize.CommafWithDigits(f, amountDigits)
}

// quoteWriter prints one line per poll, bid in green and ask in red.
type quoteWriter struct {
	w  io.Writer
	au aurora.Aurora
}

func newQuoteWriter(w io.Writer, colors bool) *quoteWriter {
	return &quoteWriter{w: w, au: aurora.NewAurora(colors)}
}

func (q *quoteWriter) quote(at time.Time, quote *brokers.Quote) {
	fmt.Fprintf(q.w, "%s %s bid %s ask %s spread %s\n",
		at.Format("15:04:05"),
		q.au.Bold(quote.Symbol),
		q.au.Green(amount(quote.Bid)),
		q.au.Red(amount(quote.Ask)),
		quote.Spread().String(),
	)
}

func (q *quoteWriter) failure(at time.Time, symbol string, err error) {
	fmt.Fprintf(q.w, "%s %s %s\n", at.Format("15:04:05"), q.au.Bold(symbol), q.au.Yellow(err.Error()))
}
