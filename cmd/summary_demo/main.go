package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"vigil/internal/ai"
)

func main() {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		log.Fatal("GEMINI_API_KEY environment variable not set")
	}

	ctx := context.Background()
	summarizer, err := ai.NewGeminiSummarizer(ctx, apiKey)
	if err != nil {
		log.Fatalf("Failed to initialize summarizer: %v", err)
	}
	defer summarizer.Close()

	// Simulated unresponsive stationary episode.
	now := time.Now()
	incident := ai.Incident{
		TripID:          "trip_demo_001",
		StationarySince: now.Add(-21 * time.Minute).Format(time.RFC3339),
		AlertSentAt:     now.Add(-6 * time.Minute).Format(time.RFC3339),
		CallAttempted:   true,
		CallAnswered:    false,
		Address:         "MG Road, Bengaluru",
		Lat:             12.9716,
		Lng:             77.5946,
	}

	summary, err := summarizer.SummarizeIncident(ctx, incident)
	if err != nil {
		log.Fatalf("Error summarizing incident: %v", err)
	}

	fmt.Printf("Ticket summary: %s\n", summary)
}
