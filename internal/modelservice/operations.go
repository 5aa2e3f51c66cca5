package modelservice

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
)

// ModelSelection is the routing decision for one task.
type ModelSelection struct {
	ModelID       string  `json:"modelId"`
	Provider      string  `json:"provider"`
	EstimatedCost float64 `json:"estimatedCost"`
}

// SelectionRequest asks the service to pick a model for a task.
type SelectionRequest struct {
	TaskType          string         `json:"taskType"`
	Complexity        float64        `json:"complexity"`
	QualityPreference string         `json:"qualityPreference,omitempty"`
	Budget            float64        `json:"budget,omitempty"`
	Context           map[string]any `json:"context,omitempty"`
}

// SelectModel picks a model for the given task. Results are cached for a
// few minutes per (task type, complexity band, quality preference).
func (c *Client) SelectModel(ctx context.Context, req SelectionRequest) (*ModelSelection, error) {
	key := selectionKey(req.TaskType, req.Complexity, req.QualityPreference)
	if sel, ok := c.cache.get(key); ok {
		return &sel, nil
	}

	raw, err := c.call(ctx, "select_model", pathSelectModel, req, 0)
	if err != nil {
		return nil, err
	}

	var sel ModelSelection
	if err := decodeResult("select_model", raw, &sel); err != nil {
		return nil, err
	}
	if sel.ModelID == "" {
		return nil, newError(CodeSelectionUnavailable, "select_model",
			"no candidate model for task "+req.TaskType, nil)
	}

	c.cache.put(key, sel)
	return &sel, nil
}

// DetectedItem is one object or text hit inside a frame.
type DetectedItem struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}

// FrameAnalysis is the structured result of analysing one frame.
type FrameAnalysis struct {
	Objects     []DetectedItem `json:"objects"`
	Text        []DetectedItem `json:"text"`
	Description string         `json:"description"`
	Confidence  float64        `json:"confidence"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// FrameAnalysisRequest carries one frame to the vision model.
type FrameAnalysisRequest struct {
	ImageBase64 string         `json:"image"`
	Prompt      string         `json:"prompt"`
	ModelID     string         `json:"modelId"`
	MaxTokens   int            `json:"maxTokens,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

// AnalyzeFrame describes a frame. The service may return either the
// structured shape or a bare textual description; both are normalised into
// FrameAnalysis.
func (c *Client) AnalyzeFrame(ctx context.Context, req FrameAnalysisRequest) (*FrameAnalysis, error) {
	raw, err := c.call(ctx, "analyze_frame", pathAnalyze, req, 0)
	if err != nil {
		return nil, err
	}
	return normalizeFrameAnalysis(raw)
}

// normalizeFrameAnalysis accepts structured or plain-text results.
func normalizeFrameAnalysis(raw json.RawMessage) (*FrameAnalysis, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, `"`) {
		var description string
		if err := json.Unmarshal(raw, &description); err != nil {
			return nil, newError(CodeInvalidResponse, "analyze_frame", "decoding textual result", err)
		}
		return &FrameAnalysis{Description: description, Confidence: 0.5}, nil
	}

	var analysis FrameAnalysis
	if err := decodeResult("analyze_frame", raw, &analysis); err != nil {
		return nil, err
	}
	return &analysis, nil
}

// Speaker is one diarized span in a transcription.
type Speaker struct {
	ID    string  `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text,omitempty"`
}

// Transcription is the result of transcribing one audio chunk.
type Transcription struct {
	Transcription string    `json:"transcription"`
	Language      string    `json:"language"`
	Confidence    float64   `json:"confidence"`
	Speakers      []Speaker `json:"speakers,omitempty"`
}

// TranscribeRequest carries one audio chunk to the speech model.
type TranscribeRequest struct {
	AudioBase64       string `json:"audio"`
	Language          string `json:"language"` // ISO-639-1 or "auto"
	ModelID           string `json:"modelId"`
	EnableDiarization bool   `json:"enableDiarization"`
}

// Transcribe converts an audio chunk to text.
func (c *Client) Transcribe(ctx context.Context, req TranscribeRequest) (*Transcription, error) {
	if req.Language == "" {
		req.Language = "auto"
	}
	raw, err := c.call(ctx, "transcribe", pathTranscribe, req, 0)
	if err != nil {
		return nil, err
	}
	var t Transcription
	if err := decodeResult("transcribe", raw, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Synthesize condenses multiple source texts into one document in the
// requested format.
func (c *Client) Synthesize(ctx context.Context, sources []string, format, objective string) (string, error) {
	payload := map[string]any{
		"sources": sources,
		"format":  format,
	}
	if objective != "" {
		payload["objective"] = objective
	}
	raw, err := c.call(ctx, "synthesize", pathSynthesize, payload, 0)
	if err != nil {
		return "", err
	}

	var direct string
	if json.Unmarshal(raw, &direct) == nil {
		return direct, nil
	}
	var wrapped struct {
		Text string `json:"text"`
	}
	if err := decodeResult("synthesize", raw, &wrapped); err != nil {
		return "", err
	}
	return wrapped.Text, nil
}

// Orchestrate runs a multi-step objective server-side. It uses the longer
// orchestration timeout.
func (c *Client) Orchestrate(ctx context.Context, objective string, inputs map[string]any) (json.RawMessage, error) {
	timeout := c.cfg.OrchestrateTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return c.call(ctx, "orchestrate", pathOrchestrate, map[string]any{
		"objective": objective,
		"inputs":    inputs,
	}, timeout)
}

// ClassificationResult is the content classification for a video.
type ClassificationResult struct {
	PrimaryCategory string             `json:"primaryCategory"`
	Scores          map[string]float64 `json:"scores,omitempty"`
	Tags            []string           `json:"tags,omitempty"`
	Rating          string             `json:"rating,omitempty"`
	IsNSFW          bool               `json:"isNsfw"`
	Confidence      float64            `json:"confidence"`
}

// Classify categorises content assembled from the pipeline's signals.
func (c *Client) Classify(ctx context.Context, content string, categories []string) (*ClassificationResult, error) {
	raw, err := c.call(ctx, "classify", pathClassify, map[string]any{
		"content":    content,
		"categories": categories,
	}, 0)
	if err != nil {
		return nil, err
	}
	var result ClassificationResult
	if err := decodeResult("classify", raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Topics holds extracted topics and keywords.
type Topics struct {
	Topics   []string `json:"topics"`
	Keywords []string `json:"keywords"`
}

// ExtractTopics pulls topics and keywords from a transcription.
func (c *Client) ExtractTopics(ctx context.Context, text string) (*Topics, error) {
	raw, err := c.call(ctx, "extract_topics", pathTopics, map[string]any{"text": text}, 0)
	if err != nil {
		return nil, err
	}
	var topics Topics
	if err := decodeResult("extract_topics", raw, &topics); err != nil {
		return nil, err
	}
	return &topics, nil
}

// SentimentResult is the overall sentiment of a text.
type SentimentResult struct {
	Sentiment  string  `json:"sentiment"` // positive, negative, neutral
	Confidence float64 `json:"confidence"`
}

// Sentiment scores the emotional tone of a transcription.
func (c *Client) Sentiment(ctx context.Context, text string) (*SentimentResult, error) {
	raw, err := c.call(ctx, "sentiment", pathSentiment, map[string]any{"text": text}, 0)
	if err != nil {
		return nil, err
	}
	var result SentimentResult
	if err := decodeResult("sentiment", raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GenerateEmbedding produces a vector representation of the content.
func (c *Client) GenerateEmbedding(ctx context.Context, content string) ([]float32, error) {
	raw, err := c.call(ctx, "generate_embedding", pathEmbeddings, map[string]any{"content": content}, 0)
	if err != nil {
		return nil, err
	}

	var direct []float32
	if json.Unmarshal(raw, &direct) == nil && len(direct) > 0 {
		return direct, nil
	}
	var wrapped struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := decodeResult("generate_embedding", raw, &wrapped); err != nil {
		return nil, err
	}
	if len(wrapped.Embedding) == 0 {
		return nil, newError(CodeInvalidResponse, "generate_embedding", "empty embedding", nil)
	}
	return wrapped.Embedding, nil
}

// StoreMemory persists analysis context in the service's memory layer.
// Best-effort: failures are logged and swallowed.
func (c *Client) StoreMemory(ctx context.Context, jobID, content string, metadata map[string]any) {
	_, err := c.call(ctx, "store_memory", pathMemory, map[string]any{
		"jobId":    jobID,
		"content":  content,
		"metadata": metadata,
	}, 0)
	if err != nil {
		c.logger.Warn("memory store failed",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
}

// UsageEvent reports one model invocation for accounting.
type UsageEvent struct {
	JobID      string  `json:"jobId"`
	TaskType   string  `json:"taskType"`
	ModelID    string  `json:"modelId"`
	Complexity float64 `json:"complexity"`
	Cost       float64 `json:"cost"`
	DurationMS int64   `json:"durationMs"`
	Success    bool    `json:"success"`
}

// TrackUsage reports usage to the service. Best-effort: failures are
// logged and swallowed.
func (c *Client) TrackUsage(ctx context.Context, event UsageEvent) {
	if _, err := c.call(ctx, "track_usage", pathUsage, event, 0); err != nil {
		c.logger.Warn("usage tracking failed",
			slog.String("job_id", event.JobID),
			slog.String("task_type", event.TaskType),
			slog.Any("error", err),
		)
	}
}
