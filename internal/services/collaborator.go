package services

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/medledger/invoiceflow/internal/gcp"
)

// DocumentAnalyzer is the external document-understanding collaborator.
// It returns free-form text which is expected, but not guaranteed, to
// contain an embedded JSON object or a delimited table.
type DocumentAnalyzer interface {
	AnalyzeImage(ctx context.Context, data []byte, mimeType, prompt string) (string, error)
	AnalyzeText(ctx context.Context, text, prompt string) (string, error)
}

// VertexAnalyzer implements DocumentAnalyzer on top of the shared
// VertexClient models.
type VertexAnalyzer struct {
	client *gcp.VertexClient
}

// NewVertexAnalyzer wraps a pre-configured Vertex client.
func NewVertexAnalyzer(client *gcp.VertexClient) *VertexAnalyzer {
	return &VertexAnalyzer{client: client}
}

// AnalyzeImage sends one document region image to the zone analysis model.
func (a *VertexAnalyzer) AnalyzeImage(ctx context.Context, data []byte, mimeType, prompt string) (string, error) {
	part := genai.Blob{MIMEType: mimeType, Data: data}
	resp, err := a.client.ZoneAnalysisModel.GenerateContent(ctx, part, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	return collectText(resp), nil
}

// AnalyzeText sends concatenated transcription text to the line mapper model.
func (a *VertexAnalyzer) AnalyzeText(ctx context.Context, text, prompt string) (string, error) {
	resp, err := a.client.LineMapperModel.GenerateContent(ctx, genai.Text(prompt+"\n\n"+text))
	if err != nil {
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	return collectText(resp), nil
}

// collectText concatenates the text parts of the first candidate. The
// model occasionally splits output across parts.
func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}
