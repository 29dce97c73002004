// Package importer turns trade exports into journal trades.
package importer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trade-journal-go/internal/models"
)

// Format is the encoding of an export.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Metadata describes the parsed export.
type Metadata struct {
	Broker string `json:"broker"`
	Format Format `json:"format"`
	Rows   int    `json:"rows"`
}

// ParseResult is the outcome of an import. Rows that fail validation are
// reported in Errors and left out of Trades.
type ParseResult struct {
	Success  bool           `json:"success"`
	Trades   []models.Trade `json:"trades"`
	Errors   []string       `json:"errors"`
	Warnings []string       `json:"warnings"`
	Metadata Metadata       `json:"metadata"`
}

const defaultBroker = "generic"

// ParseFile reads and parses the export at path, picking the format from the
// extension and falling back to content sniffing.
func ParseFile(path string) (ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ParseResult{}, fmt.Errorf("could not read %s: %w", path, err)
	}
	return Parse(bytes.NewReader(data), DetectFormat(path, data))
}

// DetectFormat guesses the format from the file name, then the first
// non-blank byte.
func DetectFormat(name string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return FormatJSON
	case ".csv", ".txt":
		return FormatCSV
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{') {
		return FormatJSON
	}
	return FormatCSV
}

// Parse reads an export in the given format. The error is reserved for
// unreadable input; row problems end up in the result.
func Parse(r io.Reader, format Format) (ParseResult, error) {
	var (
		result ParseResult
		err    error
	)
	switch format {
	case FormatCSV:
		result, err = parseCSV(r)
	case FormatJSON:
		result, err = parseJSON(r)
	default:
		return ParseResult{}, fmt.Errorf("unsupported import format %q", format)
	}
	if err != nil {
		return ParseResult{}, err
	}
	result.Metadata.Format = format
	if result.Metadata.Broker == "" {
		result.Metadata.Broker = defaultBroker
	}
	if result.Trades == nil {
		result.Trades = []models.Trade{}
	}
	finalize(&result)
	return result, nil
}

// finalize flags duplicate ids and decides Success.
func finalize(result *ParseResult) {
	seen := make(map[string]bool, len(result.Trades))
	for _, t := range result.Trades {
		if seen[t.ID] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("duplicate trade id %q: the last row wins", t.ID))
		}
		seen[t.ID] = true
	}
	if len(result.Trades) == 0 && len(result.Errors) == 0 {
		result.Warnings = append(result.Warnings, "no trades found")
	}
	result.Success = len(result.Trades) > 0
}

// Canonical column names and the headers accepted for them.
var columnAliases = map[string][]string{
	"id":          {"id", "trade_id"},
	"symbol":      {"symbol", "ticker", "instrument"},
	"side":        {"side", "direction", "action"},
	"entry_price": {"entry_price", "entry", "open_price"},
	"exit_price":  {"exit_price", "exit", "close_price"},
	"contracts":   {"contracts", "qty", "quantity", "size"},
	"open_date":   {"open_date", "entry_date", "date"},
	"open_time":   {"open_time", "entry_time"},
	"close_date":  {"close_date", "exit_date"},
	"close_time":  {"close_time", "exit_time"},
	"commissions": {"commissions", "commission", "fees"},
	"net_pnl":     {"net_pnl", "pnl", "net_profit"},
	"gross_pnl":   {"gross_pnl", "gross_profit"},
	"model":       {"model", "strategy", "setup"},
	"tags":        {"tags"},
	"notes":       {"notes", "note", "comment"},
	"broker":      {"broker", "account_type"},
}

var requiredColumns = []string{"symbol", "side", "entry_price", "open_date"}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	h = strings.NewReplacer(" ", "_", "-", "_", ".", "").Replace(h)
	return h
}

func parseCSV(r io.Reader) (ParseResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return ParseResult{}, nil
	}
	if err != nil {
		return ParseResult{}, fmt.Errorf("could not read csv header: %w", err)
	}

	columns := make(map[string]int)
	for i, h := range header {
		name := normalizeHeader(h)
		for canonical, aliases := range columnAliases {
			if _, taken := columns[canonical]; taken {
				continue
			}
			for _, alias := range aliases {
				if name == alias {
					columns[canonical] = i
				}
			}
		}
	}

	var result ParseResult
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := columns[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		result.Errors = append(result.Errors, fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", ")))
		return result, nil
	}

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", line, err))
			continue
		}
		result.Metadata.Rows++

		field := func(name string) string {
			i, ok := columns[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}
		if result.Metadata.Broker == "" {
			result.Metadata.Broker = field("broker")
		}

		trade, warnings, err := tradeFromRow(field)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", line, err))
			continue
		}
		for _, w := range warnings {
			result.Warnings = append(result.Warnings, fmt.Sprintf("row %d: %s", line, w))
		}
		result.Trades = append(result.Trades, trade)
	}
	return result, nil
}

func tradeFromRow(field func(string) string) (models.Trade, []string, error) {
	var warnings []string
	t := models.Trade{
		ID:     field("id"),
		Symbol: strings.ToUpper(field("symbol")),
		Model:  field("model"),
		Notes:  field("notes"),
		Tags:   splitTags(field("tags")),
	}
	if t.Symbol == "" {
		return t, nil, fmt.Errorf("symbol is empty")
	}

	side, err := parseSide(field("side"))
	if err != nil {
		return t, nil, err
	}
	t.Side = side

	numbers := []struct {
		name     string
		dst      *float64
		required bool
	}{
		{"entry_price", &t.EntryPrice, true},
		{"exit_price", &t.ExitPrice, false},
		{"contracts", &t.Contracts, false},
		{"commissions", &t.Commissions, false},
	}
	for _, n := range numbers {
		v, ok, err := parseAmount(field(n.name))
		if err != nil {
			return t, nil, fmt.Errorf("invalid %s: %w", n.name, err)
		}
		if !ok && n.required {
			return t, nil, fmt.Errorf("%s is empty", n.name)
		}
		*n.dst = v
	}
	if t.Contracts == 0 {
		t.Contracts = 1
		warnings = append(warnings, "contracts missing, assuming 1")
	}
	t.Contracts = abs(t.Contracts)
	t.Commissions = abs(t.Commissions)

	t.OpenDate, t.OpenTime, err = parseDateTime(field("open_date"), field("open_time"))
	if err != nil {
		return t, nil, fmt.Errorf("invalid open date: %w", err)
	}
	if t.OpenDate == "" {
		return t, nil, fmt.Errorf("open_date is empty")
	}
	t.CloseDate, t.CloseTime, err = parseDateTime(field("close_date"), field("close_time"))
	if err != nil {
		return t, nil, fmt.Errorf("invalid close date: %w", err)
	}

	net, hasNet, err := parseAmount(field("net_pnl"))
	if err != nil {
		return t, nil, fmt.Errorf("invalid net_pnl: %w", err)
	}
	gross, hasGross, err := parseAmount(field("gross_pnl"))
	if err != nil {
		return t, nil, fmt.Errorf("invalid gross_pnl: %w", err)
	}
	warnings = append(warnings, settlePnL(&t, net, hasNet, gross, hasGross)...)

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return t, warnings, nil
}

// settlePnL keeps reported P&L figures and derives the rest from prices.
func settlePnL(t *models.Trade, net float64, hasNet bool, gross float64, hasGross bool) []string {
	switch {
	case hasNet:
		t.NetPnL = net
		if hasGross {
			t.GrossPnL = &gross
		}
		t.NetROI = models.ROIFor(t.Symbol, t.EntryPrice, t.Contracts, t.NetPnL)
	case hasGross:
		t.GrossPnL = &gross
		t.NetPnL = gross - t.Commissions
		t.NetROI = models.ROIFor(t.Symbol, t.EntryPrice, t.Contracts, t.NetPnL)
	case t.IsClosed():
		if t.ExitPrice == 0 {
			return []string{"closed trade without exit price or P&L"}
		}
		t.Recalculate()
		return []string{"net P&L derived from prices"}
	}
	return nil
}

func parseSide(raw string) (models.Side, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LONG", "BUY", "L", "B", "BOT":
		return models.SideLong, nil
	case "SHORT", "SELL", "S", "SLD", "SELL SHORT":
		return models.SideShort, nil
	}
	return "", fmt.Errorf("unknown side %q", raw)
}

// parseAmount accepts plain numbers as well as "$1,234.50" and the accounting
// form "(45.00)" for negatives. ok is false for an empty cell.
func parseAmount(raw string) (value float64, ok bool, err error) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "-" {
		return 0, false, nil
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false, fmt.Errorf("%q is not a number", raw)
	}
	if negative {
		d = d.Neg()
	}
	return d.InexactFloat64(), true, nil
}

var dateLayouts = []string{models.DateLayout, "01/02/2006", "1/2/2006", "2006/01/02", "01/02/06"}

var dateTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02 15:04", "01/02/2006 15:04:05", "01/02/2006 15:04", "1/2/2006 15:04:05", "1/2/2006 15:04"}

var timeLayouts = []string{models.TimeLayout, "15:04", "3:04:05 PM", "3:04 PM"}

// parseDateTime normalizes a date cell and an optional time cell. A date cell
// carrying a time of day supplies both.
func parseDateTime(dateCell, timeCell string) (date, clock string, err error) {
	if dateCell == "" {
		return "", "", nil
	}

	parsed := false
	for _, layout := range dateTimeLayouts {
		if ts, err := time.Parse(layout, dateCell); err == nil {
			date, clock = ts.Format(models.DateLayout), ts.Format(models.TimeLayout)
			parsed = true
			break
		}
	}
	if !parsed {
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, dateCell); err == nil {
				date = ts.Format(models.DateLayout)
				parsed = true
				break
			}
		}
	}
	if !parsed {
		return "", "", fmt.Errorf("unrecognized date %q", dateCell)
	}

	if timeCell != "" {
		clock = ""
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, strings.ToUpper(timeCell)); err == nil {
				clock = ts.Format(models.TimeLayout)
				break
			}
		}
		if clock == "" {
			return "", "", fmt.Errorf("unrecognized time %q", timeCell)
		}
	}
	return date, clock, nil
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	for _, tag := range strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == '|' || r == ',' }) {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// jsonPnL detects which P&L fields a JSON trade actually carries.
type jsonPnL struct {
	NetPnL   *float64 `json:"net_pnl"`
	GrossPnL *float64 `json:"gross_pnl"`
}

func parseJSON(r io.Reader) (ParseResult, error) {
	var raw []json.RawMessage
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return ParseResult{}, fmt.Errorf("could not decode json trades: %w", err)
	}

	var result ParseResult
	for i, msg := range raw {
		result.Metadata.Rows++
		var t models.Trade
		var pnl jsonPnL
		if err := json.Unmarshal(msg, &t); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("item %d: %v", i, err))
			continue
		}
		_ = json.Unmarshal(msg, &pnl)

		t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
		side, err := parseSide(string(t.Side))
		switch {
		case t.Symbol == "":
			err = fmt.Errorf("symbol is empty")
		case err == nil && t.EntryPrice == 0:
			err = fmt.Errorf("entry_price is empty")
		case err == nil && t.OpenDate == "":
			err = fmt.Errorf("open_date is empty")
		}
		if err == nil {
			t.OpenDate, t.OpenTime, err = parseDateTime(t.OpenDate, t.OpenTime)
		}
		if err == nil {
			t.CloseDate, t.CloseTime, err = parseDateTime(t.CloseDate, t.CloseTime)
		}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("item %d: %v", i, err))
			continue
		}
		t.Side = side
		if t.Contracts == 0 {
			t.Contracts = 1
		}

		var net, gross float64
		if pnl.NetPnL != nil {
			net = *pnl.NetPnL
		}
		if pnl.GrossPnL != nil {
			gross = *pnl.GrossPnL
		}
		t.GrossPnL = nil
		for _, w := range settlePnL(&t, net, pnl.NetPnL != nil, gross, pnl.GrossPnL != nil) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("item %d: %s", i, w))
		}
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		result.Trades = append(result.Trades, t)
	}
	return result, nil
}

// Header is the canonical CSV layout written by WriteCSV.
var Header = []string{
	"id", "symbol", "side", "entry_price", "exit_price", "contracts",
	"open_date", "open_time", "close_date", "close_time",
	"commissions", "net_pnl", "gross_pnl", "model", "tags", "notes",
}

// WriteCSV writes trades in the canonical layout accepted by Parse.
func WriteCSV(w io.Writer, trades []models.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, t := range trades {
		gross := ""
		if t.GrossPnL != nil {
			gross = formatF(*t.GrossPnL)
		}
		row := []string{
			t.ID, t.Symbol, string(t.Side), formatF(t.EntryPrice), formatF(t.ExitPrice), formatF(t.Contracts),
			t.OpenDate, t.OpenTime, t.CloseDate, t.CloseTime,
			formatF(t.Commissions), formatF(t.NetPnL), gross, t.Model, strings.Join(t.Tags, ";"), t.Notes,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatF(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
