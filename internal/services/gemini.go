package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"gemini-chat-relay/internal/config"
	"gemini-chat-relay/internal/models"
)

const (
	ConfigErrorMessage = "Google API key is not configured. Please set GOOGLE_API_KEY in .env file."

	roleUser  = "user"
	roleModel = "model"

	defaultSlotWait = 30 * time.Second
)

// chatSession is the part of *genai.ChatSession the relay needs.
type chatSession interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type sessionStarter interface {
	StartChat(history []*genai.Content) chatSession
}

type modelStarter struct {
	model *genai.GenerativeModel
}

func (m modelStarter) StartChat(history []*genai.Content) chatSession {
	cs := m.model.StartChat()
	cs.History = history
	return cs
}

type GeminiService struct {
	client   *genai.Client
	starter  sessionStarter
	rateChan chan struct{} // Token bucket
	slotWait time.Duration
}

// NewGeminiService builds the relay's Gemini client. Without a usable API key
// the service is still returned, but every Chat call fails with a ConfigError.
// slotWait bounds how long a request queues for a free slot and must stay
// below the HTTP server's write timeout.
func NewGeminiService(apiKey, modelName string, concurrentReqs int, slotWait time.Duration) (*GeminiService, error) {
	if !config.IsAPIKeyConfigured(apiKey) {
		s := newGeminiService(nil, concurrentReqs)
		s.setSlotWait(slotWait)
		return s, nil
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	s := newGeminiService(modelStarter{model: client.GenerativeModel(modelName)}, concurrentReqs)
	s.client = client
	s.setSlotWait(slotWait)
	return s, nil
}

func newGeminiService(starter sessionStarter, concurrentReqs int) *GeminiService {
	if concurrentReqs < 1 {
		concurrentReqs = 1
	}

	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiService{
		starter:  starter,
		rateChan: rateChan,
		slotWait: defaultSlotWait,
	}
}

func (s *GeminiService) setSlotWait(d time.Duration) {
	if d > 0 {
		s.slotWait = d
	}
}

func (s *GeminiService) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// Configured reports whether Chat can reach Gemini at all.
func (s *GeminiService) Configured() bool {
	return s.starter != nil
}

// acquireRate blocks until a rate slot is available
func (s *GeminiService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return &RateLimitError{Message: "Too many concurrent requests", Err: ctx.Err()}
	case <-time.After(s.slotWait):
		return &RateLimitError{Message: "Too many concurrent requests", Err: errors.New("timeout waiting for Gemini rate slot")}
	}
}

func (s *GeminiService) releaseRate() {
	s.rateChan <- struct{}{}
}

// Chat seeds a fresh Gemini chat session with history and sends message as
// the next user turn. Nothing is kept between calls.
func (s *GeminiService) Chat(ctx context.Context, message string, history []models.ChatTurn) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", &ValidationError{Message: "Message is required"}
	}
	if s.starter == nil {
		return "", &ConfigError{Message: ConfigErrorMessage}
	}

	if err := s.acquireRate(ctx); err != nil {
		return "", err
	}
	defer s.releaseRate()

	session := s.starter.StartChat(BuildHistory(history))

	resp, err := session.SendMessage(ctx, genai.Text(message))
	if err != nil {
		return "", &UpstreamError{Err: err}
	}

	for i, cand := range resp.Candidates {
		if cand.FinishReason != genai.FinishReasonStop {
			log.Printf("WARNING: Gemini candidate %d stopped due to %s", i, cand.FinishReason)
		}
	}

	text := extractText(resp)
	if text == "" {
		return "", &UpstreamError{Err: emptyReplyError(resp)}
	}

	return text, nil
}

// BuildHistory maps client turns onto Gemini contents, keeping their order.
// Any role other than "user" becomes the model role.
func BuildHistory(turns []models.ChatTurn) []*genai.Content {
	history := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		role := roleModel
		if turn.Role == roleUser {
			role = roleUser
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(turn.Content)},
		})
	}
	return history
}

// Helper functions

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return ""
	}

	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return text.String()
}

func emptyReplyError(resp *genai.GenerateContentResponse) error {
	if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}
	if resp != nil && len(resp.Candidates) > 0 {
		return fmt.Errorf("empty reply (finish reason: %s)", resp.Candidates[0].FinishReason)
	}
	return errors.New("empty reply from Gemini")
}
