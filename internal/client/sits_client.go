package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/campusops/sits-bridge/pkg/config"
)

// Batch-level statuses returned by the SITS export API.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// ExportGrade is one student's grade inside an export payload.
type ExportGrade struct {
	StudentID  int64  `json:"moodlestudentid"`
	Grade      string `json:"grade"`
	Submission string `json:"submission"`
	Misconduct bool   `json:"misconduct"`
}

// ExportPayload is the full upload body for one assignment.
type ExportPayload struct {
	Module     ModuleInfo    `json:"module"`
	Assignment Assignment    `json:"assignment"`
	UnitLeader string        `json:"unitleader"`
	Grades     []ExportGrade `json:"grades"`
}

// ModuleInfo identifies the owning module in SITS terms.
type ModuleInfo struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	AcademicYear string `json:"academicyear"`
}

// Assignment identifies the assessment being exported.
type Assignment struct {
	SITSRef string `json:"sitsref"`
	Attempt int    `json:"attempt"`
}

// GradeResult is the per-student outcome in a response.
type GradeResult struct {
	StudentID int64  `json:"moodlestudentid"`
	Response  string `json:"response"`
	Message   string `json:"message"`
}

// ExportResponse is the parsed upload response. SITS returns per-item
// statuses even when the batch-level status is FAILED.
type ExportResponse struct {
	SITSRef   string        `json:"sitsref"`
	Status    string        `json:"status"`
	Message   string        `json:"message"`
	ErrorCode string        `json:"errorcode"`
	Grades    []GradeResult `json:"grades"`
}

// SITSClient wraps the SITS grade upload API contract.
type SITSClient struct {
	baseURL    string
	apiKey     string
	endpoint   string
	httpClient *http.Client
	log        *zap.Logger
}

// NewSITSClient builds a client. The base URL and API key are required;
// construction fails fast rather than letting a half-configured client reach
// the export job. No client timeout is set: the export job's small batch
// size is the backpressure mechanism for a slow upstream.
func NewSITSClient(cfg config.SITSConfig, log *zap.Logger) (*SITSClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("sits client requires a base url")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("sits client requires an api key")
	}
	if log == nil {
		log = zap.NewNop()
	}
	endpoint := cfg.ExportEndpoint
	if endpoint == "" {
		endpoint = "/api/ExportGrades"
	}
	return &SITSClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		httpClient: &http.Client{},
		log:        log,
	}, nil
}

// ExportGrades uploads one assignment's batch and parses the per-item
// response. Any transport or decode failure is returned as an error; the
// caller treats that as a timeout for the whole batch.
func (c *SITSClient) ExportGrades(ctx context.Context, payload ExportPayload) (*ExportResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal export payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build export request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	c.log.Debug("uploading grade batch",
		zap.String("sitsref", payload.Assignment.SITSRef),
		zap.Int("grades", len(payload.Grades)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("export request failed: %w", err)
	}
	defer resp.Body.Close()

	var exportResp ExportResponse
	if err := json.NewDecoder(resp.Body).Decode(&exportResp); err != nil {
		return nil, fmt.Errorf("decode export response: %w", err)
	}
	return &exportResp, nil
}

// TestConnection performs the lightweight connectivity probe and returns the
// raw HTTP status code.
func (c *SITSClient) TestConnection(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/TestConnection", nil)
	if err != nil {
		return 0, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
