// Package pipeline hands stored conversations to the external classification
// service and applies its verdict (labels, reply draft) back to the mailbox.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inboxsift/backend/internal/models"
)

// PayloadMessage is one conversation member as sent to the classifier.
type PayloadMessage struct {
	Sender string     `json:"sender"`
	SentAt *time.Time `json:"sent_at,omitempty"`
	Body   string     `json:"body"`
}

// ClassificationRequest is the classifier's input: a bounded window of the
// conversation plus counts describing what was elided.
type ClassificationRequest struct {
	Tenant         string           `json:"tenant"`
	ConversationID string           `json:"conversation_id"`
	Subject        string           `json:"subject"`
	Messages       []PayloadMessage `json:"messages"`
	TotalMembers   int              `json:"total_members"`
	OlderCount     int              `json:"older_count"`
}

// ClassificationResult is the classifier's verdict.
type ClassificationResult struct {
	Intent     string `json:"intent"`
	Sentiment  string `json:"sentiment"`
	ReplyDraft string `json:"reply_draft,omitempty"`
}

// Applier takes a classification verdict and applies it to the tenant's
// mailbox. Implemented by the apply package.
type Applier interface {
	Apply(ctx context.Context, tenant string, view *models.ConversationView, result *ClassificationResult) error
}

// Classifier posts conversation views to the external classification service.
// It performs a single attempt per call; retry policy belongs to the caller.
type Classifier struct {
	baseURL string
	apiKey  string
	client  *http.Client
	applier Applier
	log     *logrus.Logger
}

// NewClassifier creates a classifier client. applier may be nil, in which
// case verdicts are only logged.
func NewClassifier(baseURL, apiKey string, applier Applier, log *logrus.Logger) *Classifier {
	return &Classifier{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
		applier: applier,
		log:     log,
	}
}

// Classify sends the conversation view for analysis and applies the verdict.
func (c *Classifier) Classify(ctx context.Context, tenant string, view *models.ConversationView) error {
	request := buildRequest(tenant, view)

	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal classification request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build classification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("classification request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("classification service returned status %d", resp.StatusCode)
	}

	var result ClassificationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode classification response: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"tenant":          tenant,
		"conversation_id": view.ConversationID,
		"intent":          result.Intent,
		"sentiment":       result.Sentiment,
	}).Info("Conversation classified")

	if c.applier == nil {
		return nil
	}
	return c.applier.Apply(ctx, tenant, view, &result)
}

func buildRequest(tenant string, view *models.ConversationView) ClassificationRequest {
	messages := make([]PayloadMessage, 0, len(view.Members))
	for _, member := range view.Members {
		messages = append(messages, PayloadMessage{
			Sender: member.Sender,
			SentAt: member.SentAt,
			Body:   member.BodyText,
		})
	}

	return ClassificationRequest{
		Tenant:         tenant,
		ConversationID: view.ConversationID,
		Subject:        view.Subject,
		Messages:       messages,
		TotalMembers:   view.TotalMembers,
		OlderCount:     view.OlderCount,
	}
}
