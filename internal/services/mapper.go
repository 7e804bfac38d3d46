package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/medledger/invoiceflow/internal/gcp"
	"github.com/medledger/invoiceflow/internal/models"
)

// LineMapperStage converts the accumulated raw text fragments into
// normalized line item candidates via a second collaborator call, this
// time over concatenated text rather than an image.
//
// It deliberately does not deduplicate: duplicate physical rows in the
// source must survive as duplicate items, and the auditor decides later
// what to drop. On unparseable output it contributes zero items and a
// diagnostic; it never fabricates rows.
type LineMapperStage struct {
	analyzer DocumentAnalyzer
}

// NewLineMapper creates the mapping stage.
func NewLineMapper(analyzer DocumentAnalyzer) *LineMapperStage {
	return &LineMapperStage{analyzer: analyzer}
}

func (m *LineMapperStage) Name() string { return StageMapLines }

func (m *LineMapperStage) Run(ctx context.Context, view *models.DocumentState) (*models.StateDelta, error) {
	if len(view.RawTextFragments) == 0 {
		return &models.StateDelta{Diagnostics: []string{"map_lines: no raw text fragments to map"}}, nil
	}
	text := strings.Join(view.RawTextFragments, "\n")

	raw, err := m.analyzer.AnalyzeText(ctx, text, gcp.LineMapperUserPrompt)
	if err != nil {
		// Fall back to parsing the transcription directly; a delimited
		// table is still usable without the normalization pass.
		if items := parsePipeTable(text); len(items) > 0 {
			return &models.StateDelta{
				LineItems:    items,
				ReplaceItems: true,
				Diagnostics:  []string{fmt.Sprintf("map_lines: collaborator call failed, parsed %d rows from raw transcription: %v", len(items), err)},
			}, nil
		}
		return nil, fmt.Errorf("mapping line items: %w", err)
	}

	items, parseErr := parseLineItems(raw)
	if parseErr != nil {
		if items = parsePipeTable(raw); len(items) == 0 {
			items = parsePipeTable(text)
		}
		if len(items) == 0 {
			return &models.StateDelta{Diagnostics: []string{fmt.Sprintf("map_lines: unparseable collaborator output: %v", parseErr)}}, nil
		}
	}

	slog.Debug("Line mapping complete.", "items", len(items))
	return &models.StateDelta{LineItems: items, ReplaceItems: true}, nil
}

// rawLine mirrors the JSON objects the mapper model returns. Quantity is
// kept loose because the model echoes scheme notation like "10+2" as a
// string.
type rawLine struct {
	ProductName string  `json:"product_name"`
	Quantity    any     `json:"quantity"`
	Batch       string  `json:"batch"`
	Rate        float64 `json:"rate"`
	MRP         float64 `json:"mrp"`
	Amount      float64 `json:"amount"`
	HSNCode     string  `json:"hsn_code"`
	Expiry      string  `json:"expiry"`
}

// parseLineItems extracts the JSON array embedded in the collaborator's
// response and converts it to line items.
func parseLineItems(raw string) ([]models.LineItem, error) {
	jsonStr, ok := extractJSONArray(raw)
	if !ok {
		return nil, fmt.Errorf("no JSON array found in response")
	}
	var lines []rawLine
	if err := json.Unmarshal([]byte(jsonStr), &lines); err != nil {
		return nil, fmt.Errorf("malformed line item JSON: %w", err)
	}

	items := make([]models.LineItem, 0, len(lines))
	for _, line := range lines {
		item := models.LineItem{
			ProductName: strings.TrimSpace(line.ProductName),
			Quantity:    parseQuantity(line.Quantity),
			Batch:       strings.TrimSpace(line.Batch),
			Rate:        line.Rate,
			MRP:         line.MRP,
			Amount:      line.Amount,
			HSNCode:     strings.TrimSpace(line.HSNCode),
			Expiry:      strings.TrimSpace(line.Expiry),
		}
		item.NetLineAmount = item.Amount
		items = append(items, item)
	}
	return items, nil
}

// parseQuantity converts a quantity cell to a number. Scheme notation
// like "10+2" (10 billed plus 2 free) sums to the exact total, 12; the
// fractional/raw sum is kept as-is rather than rounded up, since the
// reconciler divides by it to get true per-unit cost.
func parseQuantity(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		var total float64
		for _, term := range strings.Split(v, "+") {
			term = strings.TrimSpace(term)
			if term == "" {
				continue
			}
			n, err := strconv.ParseFloat(term, 64)
			if err != nil {
				return 0
			}
			total += n
		}
		return total
	}
	return 0
}

// parsePipeTable parses "product | qty | batch | rate | mrp | amount |
// hsn | expiry" rows. It is the fallback when the collaborator answers
// with a delimited table instead of JSON.
func parsePipeTable(text string) []models.LineItem {
	var items []models.LineItem
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, "|") {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "product") && strings.Contains(lower, "amount") {
			continue // column header row
		}
		if strings.Trim(line, "|-: ") == "" {
			continue // markdown separator row
		}

		cells := strings.Split(line, "|")
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		if len(cells) < 6 || cells[0] == "" {
			continue
		}

		item := models.LineItem{
			ProductName: cells[0],
			Quantity:    parseQuantity(cells[1]),
			Batch:       cells[2],
			Rate:        parseFloatCell(cells[3]),
			MRP:         parseFloatCell(cells[4]),
			Amount:      parseFloatCell(cells[5]),
		}
		if len(cells) > 6 {
			item.HSNCode = cells[6]
		}
		if len(cells) > 7 {
			item.Expiry = cells[7]
		}
		item.NetLineAmount = item.Amount
		items = append(items, item)
	}
	return items
}

func parseFloatCell(cell string) float64 {
	cleaned := strings.ReplaceAll(strings.TrimSpace(cell), ",", "")
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return n
}
