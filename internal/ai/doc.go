// Package ai wraps the AI vendors behind the dashboard tools: OpenAI for text
// and images, a Hugging Face inference endpoint for music and Replicate for
// video. Request types carry validation tags and are decoded straight from
// the HTTP body.
package ai
