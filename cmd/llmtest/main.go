// Command llmtest exercises the configured extraction models against a
// sample voicemail transcript. Useful for verifying credentials and model
// access before deploying.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/atticusjxn/FlynnAIapp-sub006/internal/extraction"
)

const sampleTranscript = "Hi, this is Sarah Chen. My hot water system died this morning and " +
	"I need someone out as soon as possible. I'm at 42 Wattle Street in Marrickville. " +
	"Best number for me is 0412 345 678. Tomorrow afternoon around 2 would be ideal. Thanks."

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req := extraction.LLMRequest{
		System: []string{
			"Extract the customer's name, phone, service, preferred time, and address " +
				"from the voicemail transcript. Respond with JSON only.",
		},
		Messages: []extraction.ChatMessage{
			{Role: extraction.ChatRoleUser, Content: sampleTranscript},
		},
		MaxTokens:   512,
		Temperature: 0,
	}

	fmt.Println("Extraction Model Test")
	fmt.Println("=====================")

	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey == "" {
		fmt.Println("GEMINI_API_KEY not set; nothing to test.")
		fmt.Println("Bedrock is exercised through the fallback chain in the running app.")
		return
	}

	client, err := extraction.NewGeminiLLMClient(ctx, geminiKey, os.Getenv("GEMINI_MODEL_ID"))
	if err != nil {
		log.Fatalf("create gemini client: %v", err)
	}
	defer func() { _ = client.Close() }()

	start := time.Now()
	resp, err := client.Complete(ctx, req)
	if err != nil {
		log.Fatalf("gemini completion: %v", err)
	}
	fmt.Printf("Response (%v):\n%s\n", time.Since(start).Round(time.Millisecond), resp.Text)
	fmt.Printf("Tokens: in=%d out=%d\n", resp.Usage.InputTokens, resp.Usage.OutputTokens)
}
