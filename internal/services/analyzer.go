package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/medledger/invoiceflow/internal/gcp"
	"github.com/medledger/invoiceflow/internal/models"
)

// ZoneOutcome is the tagged result of analyzing one zone.
type ZoneOutcome struct {
	Kind      string // "raw_text", "fields" or "error"
	Fragments []string
	Fields    map[string]any
	Message   string
}

// analyzeZone sends one zone of the document to the collaborator and
// classifies the response. A parse failure is reported as an "error"
// outcome, never as a propagated error.
func analyzeZone(ctx context.Context, analyzer DocumentAnalyzer, data []byte, mimeType string, zone models.Zone) ZoneOutcome {
	prompt := gcp.ZoneAnalysisFieldsPrompt
	if zone.Kind == "table" {
		prompt = gcp.ZoneAnalysisTablePrompt
	}
	prompt = fmt.Sprintf("%s\n\nRegion of interest: %s (page %d).", prompt, zone.Description, zone.Page)

	raw, err := analyzer.AnalyzeImage(ctx, data, mimeType, prompt)
	if err != nil {
		return ZoneOutcome{Kind: "error", Message: fmt.Sprintf("zone %s/p%d analysis failed: %v", zone.Kind, zone.Page, err)}
	}

	if zone.Kind == "table" {
		text := stripFences(raw)
		if text == "" {
			return ZoneOutcome{Kind: "error", Message: fmt.Sprintf("zone %s/p%d returned no text", zone.Kind, zone.Page)}
		}
		return ZoneOutcome{Kind: "raw_text", Fragments: []string{text}}
	}

	jsonStr, ok := extractJSONObject(raw)
	if !ok {
		return ZoneOutcome{Kind: "error", Message: fmt.Sprintf("zone %s/p%d: no JSON object found in response", zone.Kind, zone.Page)}
	}
	fields := map[string]any{}
	if err := json.Unmarshal([]byte(jsonStr), &fields); err != nil {
		return ZoneOutcome{Kind: "error", Message: fmt.Sprintf("zone %s/p%d: malformed JSON in response: %v", zone.Kind, zone.Page, err)}
	}
	return ZoneOutcome{Kind: "fields", Fields: fields}
}

// fanOutZones analyzes the given zones concurrently. Each zone is its
// own failure domain: errors become diagnostics and never cancel
// sibling zones, so the group's goroutines always return nil.
func fanOutZones(ctx context.Context, analyzer DocumentAnalyzer, data []byte, mimeType string, zones []models.Zone) []ZoneOutcome {
	outcomes := make([]ZoneOutcome, len(zones))
	g, gctx := errgroup.WithContext(ctx)
	for i, zone := range zones {
		g.Go(func() error {
			outcomes[i] = analyzeZone(gctx, analyzer, data, mimeType, zone)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// TableAnalysisStage transcribes every table zone into raw text
// fragments. Fragments are append-only; downstream stages must not care
// which zone contributed which fragment.
type TableAnalysisStage struct {
	analyzer DocumentAnalyzer
	source   SourceProvider
}

// NewTableAnalysis creates the table zone analysis stage.
func NewTableAnalysis(analyzer DocumentAnalyzer, source SourceProvider) *TableAnalysisStage {
	return &TableAnalysisStage{analyzer: analyzer, source: source}
}

func (s *TableAnalysisStage) Name() string { return StageAnalyzeTables }

func (s *TableAnalysisStage) Run(ctx context.Context, view *models.DocumentState) (*models.StateDelta, error) {
	zones := zonesOfKind(view.ExtractionPlan, "table")
	if len(zones) == 0 {
		return &models.StateDelta{Diagnostics: []string{"analyze_tables: no table zones in plan"}}, nil
	}

	data, mimeType, err := s.source.Fetch(ctx, view.SourceReference)
	if err != nil {
		return nil, err
	}

	delta := &models.StateDelta{}
	for _, outcome := range fanOutZones(ctx, s.analyzer, data, mimeType, zones) {
		switch outcome.Kind {
		case "raw_text":
			delta.Fragments = append(delta.Fragments, outcome.Fragments...)
		case "fields":
			// A table zone answering with fields is unexpected but harmless.
			header, modifiers := splitFields(outcome.Fields)
			delta.Header = mergeInto(delta.Header, header)
			delta.Modifiers = mergeModifiers(delta.Modifiers, modifiers)
		case "error":
			delta.Diagnostics = append(delta.Diagnostics, outcome.Message)
		}
	}
	slog.Debug("Table analysis complete.", "zones", len(zones), "fragments", len(delta.Fragments))
	return delta, nil
}

// SummaryAnalysisStage reads the header and footer zones and contributes
// named fields: strings into HeaderFields, known monetary modifiers into
// GlobalModifiers.
type SummaryAnalysisStage struct {
	analyzer DocumentAnalyzer
	source   SourceProvider
}

// NewSummaryAnalysis creates the header/footer analysis stage.
func NewSummaryAnalysis(analyzer DocumentAnalyzer, source SourceProvider) *SummaryAnalysisStage {
	return &SummaryAnalysisStage{analyzer: analyzer, source: source}
}

func (s *SummaryAnalysisStage) Name() string { return StageAnalyzeSummary }

func (s *SummaryAnalysisStage) Run(ctx context.Context, view *models.DocumentState) (*models.StateDelta, error) {
	zones := append(zonesOfKind(view.ExtractionPlan, "header"), zonesOfKind(view.ExtractionPlan, "footer")...)
	if len(zones) == 0 {
		return &models.StateDelta{Diagnostics: []string{"analyze_summary: no header/footer zones in plan"}}, nil
	}

	data, mimeType, err := s.source.Fetch(ctx, view.SourceReference)
	if err != nil {
		return nil, err
	}

	delta := &models.StateDelta{}
	for _, outcome := range fanOutZones(ctx, s.analyzer, data, mimeType, zones) {
		switch outcome.Kind {
		case "fields":
			header, modifiers := splitFields(outcome.Fields)
			delta.Header = mergeInto(delta.Header, header)
			delta.Modifiers = mergeModifiers(delta.Modifiers, modifiers)
		case "raw_text":
			delta.Fragments = append(delta.Fragments, outcome.Fragments...)
		case "error":
			delta.Diagnostics = append(delta.Diagnostics, outcome.Message)
		}
	}
	return delta, nil
}

func zonesOfKind(plan []models.Zone, kind string) []models.Zone {
	var out []models.Zone
	for _, z := range plan {
		if z.Kind == kind {
			out = append(out, z)
		}
	}
	return out
}

// modifierAliases canonicalizes the names the model uses for the known
// global modifiers.
var modifierAliases = map[string]string{
	"global_discount_amount": models.ModGlobalDiscount,
	"discount":               models.ModGlobalDiscount,
	"discount_amount":        models.ModGlobalDiscount,
	"freight_amount":         models.ModFreight,
	"freight":                models.ModFreight,
	"sgst_amount":            models.ModSGST,
	"sgst":                   models.ModSGST,
	"cgst_amount":            models.ModCGST,
	"cgst":                   models.ModCGST,
	"igst_amount":            models.ModIGST,
	"igst":                   models.ModIGST,
	"round_off":              models.ModRoundOff,
	"roundoff":               models.ModRoundOff,
	"stated_grand_total":     models.ModStatedGrandTotal,
	"grand_total":            models.ModStatedGrandTotal,
	"net_payable":            models.ModStatedGrandTotal,
}

// splitFields divides a decoded field map into header strings and known
// numeric modifiers. Numbers that are not recognized modifiers are kept
// as header fields so no extracted data is dropped.
func splitFields(fields map[string]any) (map[string]string, map[string]float64) {
	header := map[string]string{}
	modifiers := map[string]float64{}
	for key, value := range fields {
		canonical, isModifier := modifierAliases[strings.ToLower(strings.TrimSpace(key))]
		num, isNumber := asNumber(value)
		if isModifier && isNumber {
			modifiers[canonical] = num
			continue
		}
		switch v := value.(type) {
		case string:
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				header[key] = trimmed
			}
		case float64:
			header[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			header[key] = strconv.FormatBool(v)
		}
	}
	return header, modifiers
}

// asNumber accepts both JSON numbers and numeric strings such as
// "1,234.50" that the model sometimes emits for currency fields.
func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
		cleaned = strings.TrimPrefix(cleaned, "₹")
		num, err := strconv.ParseFloat(cleaned, 64)
		return num, err == nil
	}
	return 0, false
}

func mergeInto(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = map[string]string{}
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func mergeModifiers(dst, src map[string]float64) map[string]float64 {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = map[string]float64{}
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
