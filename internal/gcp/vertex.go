package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// --- Zone Analysis Model Prompts ---
const ZoneAnalysisSystemPrompt = "You are a pharmaceutical invoice parser. Your task is to read one region of a photographed supplier invoice and transcribe it faithfully. Accuracy and completeness matter more than formatting."
const ZoneAnalysisTablePrompt = `You will be provided with an image of the item table region of a supplier invoice.

Transcribe every physical row of the table as one pipe-separated line:
product | quantity | batch | rate | mrp | amount | hsn | expiry

Rules:
- Transcribe rows exactly as printed, including rows that look identical. Do not merge, dedupe or "fix" rows.
- If a cell is unreadable or absent, leave it empty between the pipes.
- Quantities may use scheme notation like "10+2"; transcribe them verbatim.
- Do not add commentary before or after the rows.`
const ZoneAnalysisFieldsPrompt = `You will be provided with an image of the header or footer region of a supplier invoice.

Extract the named fields you can read and return them as a single JSON object, for example:
{"Supplier_Name": "...", "Invoice_Number": "...", "Invoice_Date": "...", "Global_Discount_Amount": 12.5, "SGST_Amount": 40.2, "CGST_Amount": 40.2, "IGST_Amount": 0, "Freight_Amount": 0, "Round_Off": -0.4, "Stated_Grand_Total": 1234.0}

Only include fields that are actually printed in the region. Monetary fields must be plain JSON numbers. Return ONLY the JSON object.`

// --- Line Mapper Model Prompts ---
const LineMapperSystemPrompt = "You are a data normalizer for pharmaceutical supplier invoices. You convert raw transcribed table text into structured line items. You must output your response as a valid JSON array."
const LineMapperUserPrompt = `The text below was transcribed from the item table of a supplier invoice, one pipe-separated row per line:
product | quantity | batch | rate | mrp | amount | hsn | expiry

Convert every row into a JSON object with keys:
"product_name", "quantity", "batch", "rate", "mrp", "amount", "hsn_code", "expiry"

Rules:
- One output object per input row. Preserve duplicate rows as duplicate objects.
- "quantity" may be scheme notation like "10+2"; keep it as the printed string.
- Monetary fields must be JSON numbers; use 0 when unreadable.
- Never invent rows that are not in the input.
- The final output MUST be a single, valid JSON array of these objects. Do not include any text before or after the JSON array.`

// VertexClient holds all pre-configured generative models for our app.
type VertexClient struct {
	ZoneAnalysisModel *genai.GenerativeModel
	LineMapperModel   *genai.GenerativeModel
	baseClient        *genai.Client
}

// NewVertexClient creates a new client holding all necessary models.
func NewVertexClient(ctx context.Context, projectID, region string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	// --- Configure the zone analysis model ---
	zoneModel := baseClient.GenerativeModel("gemini-1.5-pro")
	zoneModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ZoneAnalysisSystemPrompt)},
	}
	zoneModel.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0),
	}

	// --- Configure the line mapper model ---
	lineMapperModel := baseClient.GenerativeModel("gemini-1.5-pro")
	lineMapperModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(LineMapperSystemPrompt)},
	}
	lineMapperModel.GenerationConfig = genai.GenerationConfig{
		// Force JSON output. This is a critical setting for this model.
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0), // Low temp for deterministic, structured output
	}
	lineMapperModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexClient{
		ZoneAnalysisModel: zoneModel,
		LineMapperModel:   lineMapperModel,
		baseClient:        baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
