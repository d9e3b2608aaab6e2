// README: Gemini-backed incident summarizer for escalation tickets.
package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiSummarizer implements Summarizer using Google's Gemini models.
type GeminiSummarizer struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiSummarizer initializes a new Gemini client.
// apiKey should be provided from environment variables.
func NewGeminiSummarizer(ctx context.Context, apiKey string) (*GeminiSummarizer, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	// Gemini 2.0 Flash for low latency; a support agent is waiting on this.
	model := client.GenerativeModel("gemini-2.0-flash")
	model.SetTemperature(0.2)

	return &GeminiSummarizer{client: client, model: model}, nil
}

// Close cleans up the Gemini client resources.
func (s *GeminiSummarizer) Close() {
	s.client.Close()
}

// SummarizeIncident turns the raw incident facts into two or three sentences
// a support agent can read at a glance.
func (s *GeminiSummarizer) SummarizeIncident(ctx context.Context, inc Incident) (string, error) {
	resp, err := s.model.GenerateContent(ctx, genai.Text(buildIncidentPrompt(inc)))
	if err != nil {
		return "", fmt.Errorf("gemini generation error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response candidates from Gemini")
	}

	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			out.WriteString(string(txt))
		}
	}
	summary := strings.TrimSpace(out.String())
	if summary == "" {
		return "", fmt.Errorf("empty summary from Gemini")
	}
	return summary, nil
}

func buildIncidentPrompt(inc Incident) string {
	var b strings.Builder
	b.WriteString("You are writing an internal incident note for a ride-hailing support team.\n")
	b.WriteString("Summarize the situation below in 2-3 plain sentences. No preamble, no markdown.\n\n")
	fmt.Fprintf(&b, "Trip: %s\n", inc.TripID)
	fmt.Fprintf(&b, "Vehicle stationary since: %s\n", inc.StationarySince)
	fmt.Fprintf(&b, "Safety check sent: %s, no passenger response\n", inc.AlertSentAt)
	fmt.Fprintf(&b, "Call attempted: %t, answered: %t\n", inc.CallAttempted, inc.CallAnswered)
	if inc.Address != "" {
		fmt.Fprintf(&b, "Last known address: %s\n", inc.Address)
	}
	fmt.Fprintf(&b, "Last known coordinates: %.6f, %.6f\n", inc.Lat, inc.Lng)
	return b.String()
}
