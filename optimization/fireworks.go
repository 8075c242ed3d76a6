package optimization

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tzgateway/gateway/provider"
	"github.com/tzgateway/gateway/tzerr"
	"github.com/tzgateway/gateway/types"
)

// fireworksAPIBase is FIREWORKS_API_BASE's Go equivalent.
const fireworksAPIBase = "https://api.fireworks.ai/"

// FireworksLauncher implements Launcher against Fireworks's supervised
// fine-tuning API: upload the training (and optional validation) dataset,
// wait for Fireworks to finish processing it, then create the SFT job
// (§4.J, grounded on tensorzero-core's optimization/fireworks_sft module).
//
// Fireworks has no Go SDK anywhere in the example pack — the original
// implementation itself talks to Fireworks over a plain HTTP client
// (reqwest), not a generated SDK — so this adapter uses net/http directly
// rather than reaching for an unrelated or fabricated dependency.
type FireworksLauncher struct {
	HTTPClient *http.Client
	APIBase    string
	APIKey     func(types.Credentials) (string, error)
}

// FireworksPoller implements Poller against the same API, following up a
// completed SFT job with a deployment check/create (§4.J: "completion is
// only reported when Deployed").
type FireworksPoller struct {
	HTTPClient *http.Client
	APIBase    string
	APIKey     func(types.Credentials) (string, error)
	// Credentials is stored per job by the caller; FireworksPoller receives it
	// through jobCredentials since JobHandle alone carries no secrets.
	jobCredentials map[JobHandle]types.Credentials
}

// NewFireworksPoller builds a FireworksPoller. Callers must call
// RememberCredentials for every handle a FireworksLauncher produces, since
// Poll needs the same credential chain launch used.
func NewFireworksPoller(httpClient *http.Client, apiBase string, apiKey func(types.Credentials) (string, error)) *FireworksPoller {
	return &FireworksPoller{HTTPClient: httpClient, APIBase: apiBase, APIKey: apiKey, jobCredentials: make(map[JobHandle]types.Credentials)}
}

// RememberCredentials associates handle with the credentials its launch
// request used, so a later Poll can re-authenticate.
func (p *FireworksPoller) RememberCredentials(handle JobHandle, creds types.Credentials) {
	p.jobCredentials[handle] = creds
}

type fireworksRow struct {
	Messages []fireworksMessage `json:"messages"`
}

type fireworksMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func renderFireworksRows(examples []RenderedExample) ([]fireworksRow, error) {
	rows := make([]fireworksRow, 0, len(examples))
	for _, ex := range examples {
		var msgs []fireworksMessage
		if sys := flattenSystem(ex.Input.System); sys != "" {
			msgs = append(msgs, fireworksMessage{Role: "system", Content: sys})
		}
		for _, m := range ex.Input.Messages {
			msgs = append(msgs, fireworksMessage{Role: string(m.Role), Content: flattenParts(m.Parts)})
		}
		if len(ex.Output) == 0 {
			return nil, tzerr.New(tzerr.KindInvalidRequest, "fireworks optimizer: example has no output", nil, nil)
		}
		msgs = append(msgs, fireworksMessage{Role: "assistant", Content: flattenParts(ex.Output)})
		rows = append(rows, fireworksRow{Messages: msgs})
	}
	return rows, nil
}

func flattenSystem(system any) string {
	switch v := system.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return ""
	}
}

func flattenParts(parts []types.Part) string {
	var sb strings.Builder
	for _, p := range parts {
		if t, ok := p.(types.TextPart); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

func (l *FireworksLauncher) base() string {
	if l.APIBase != "" {
		return l.APIBase
	}
	return fireworksAPIBase
}

func (l *FireworksLauncher) client() *http.Client {
	if l.HTTPClient != nil {
		return l.HTTPClient
	}
	return http.DefaultClient
}

// Launch uploads req.Train (and req.Val, if present) as Fireworks datasets,
// then creates a supervisedFineTuningJob against req.BaseModel (§4.J).
func (l *FireworksLauncher) Launch(ctx context.Context, req LaunchRequest) (JobHandle, string, error) {
	if req.FireworksAccountID == "" {
		return "", "", tzerr.New(tzerr.KindInvalidProviderConfig, "fireworks optimizer requires an account id", nil, nil)
	}
	apiKey, err := l.resolveKey(req.Credentials)
	if err != nil {
		return "", "", err
	}

	trainRows, err := renderFireworksRows(req.Train)
	if err != nil {
		return "", "", err
	}
	trainDataset, err := l.createAndUploadDataset(ctx, apiKey, req.FireworksAccountID, trainRows)
	if err != nil {
		return "", "", err
	}

	var valDataset string
	if len(req.Val) > 0 {
		valRows, err := renderFireworksRows(req.Val)
		if err != nil {
			return "", "", err
		}
		valDataset, err = l.createAndUploadDataset(ctx, apiKey, req.FireworksAccountID, valRows)
		if err != nil {
			return "", "", err
		}
	}

	body := map[string]any{
		"baseModel": req.BaseModel,
		"dataset":   trainDataset,
	}
	if valDataset != "" {
		body["evaluationDataset"] = valDataset
	}
	var job struct {
		Name string `json:"name"`
	}
	url := fmt.Sprintf("%sv1/accounts/%s/supervisedFineTuningJobs", l.base(), req.FireworksAccountID)
	if err := l.doJSON(ctx, apiKey, http.MethodPost, url, body, &job); err != nil {
		return "", "", err
	}

	jobID := job.Name
	if idx := strings.LastIndex(job.Name, "/"); idx >= 0 {
		jobID = job.Name[idx+1:]
	}
	dashboardURL := fmt.Sprintf("https://app.fireworks.ai/dashboard/fine-tuning/supervised/%s", jobID)
	return JobHandle(job.Name), dashboardURL, nil
}

func (l *FireworksLauncher) resolveKey(creds types.Credentials) (string, error) {
	if l.APIKey != nil {
		return l.APIKey(creds)
	}
	return creds.Resolve(nil)
}

// createAndUploadDataset creates a Fireworks dataset resource, uploads rows
// as JSONL, and waits until Fireworks reports it READY (§4.J "upload both
// datasets, poll until READY").
func (l *FireworksLauncher) createAndUploadDataset(ctx context.Context, apiKey, accountID string, rows []fireworksRow) (string, error) {
	datasetID := fmt.Sprintf("tzgateway-%d", len(rows))

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return "", tzerr.New(tzerr.KindInternal, "fireworks optimizer: encode dataset row", err, nil)
		}
	}

	createURL := fmt.Sprintf("%sv1/accounts/%s/datasets", l.base(), accountID)
	if err := l.doJSON(ctx, apiKey, http.MethodPost, createURL, map[string]any{"datasetId": datasetID}, nil); err != nil {
		return "", err
	}

	uploadURL := fmt.Sprintf("%sv1/accounts/%s/datasets/%s:upload", l.base(), accountID, datasetID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &buf)
	if err != nil {
		return "", tzerr.New(tzerr.KindInternal, "fireworks optimizer: build upload request", err, nil)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/jsonl")
	resp, err := l.client().Do(httpReq)
	if err != nil {
		return "", tzerr.New(provider.ClassifyTransportError(err), "fireworks optimizer: upload dataset", err, nil)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", tzerr.New(tzerr.KindInferenceClient, "fireworks optimizer: upload dataset failed", nil, map[string]any{"status": resp.StatusCode, "body": string(body)})
	}

	for {
		var ds struct {
			State string `json:"state"`
		}
		stateURL := fmt.Sprintf("%sv1/accounts/%s/datasets/%s", l.base(), accountID, datasetID)
		if err := l.doJSON(ctx, apiKey, http.MethodGet, stateURL, nil, &ds); err != nil {
			return "", err
		}
		if ds.State == "READY" {
			return datasetID, nil
		}
		select {
		case <-ctx.Done():
			return "", tzerr.New(tzerr.KindInferenceTimeout, "fireworks optimizer: dataset never became ready", ctx.Err(), nil)
		case <-time.After(time.Second):
		}
	}
}

func (l *FireworksLauncher) doJSON(ctx context.Context, apiKey, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return tzerr.New(tzerr.KindInternal, "fireworks optimizer: encode request body", err, nil)
		}
		reader = bytes.NewReader(data)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return tzerr.New(tzerr.KindInternal, "fireworks optimizer: build request", err, nil)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := l.client().Do(httpReq)
	if err != nil {
		return tzerr.New(tzerr.KindInferenceClient, "fireworks optimizer: request failed", err, nil)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return tzerr.New(tzerr.KindInferenceClient, "fireworks optimizer: unsuccessful status", nil, map[string]any{"status": resp.StatusCode, "body": string(respBody)})
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return tzerr.New(tzerr.KindOutputParsing, "fireworks optimizer: decode response", err, nil)
	}
	return nil
}

// fireworksJobState mirrors FireworksFineTuningJobState's variants relevant
// to polling (§4.J).
type fireworksJobState string

const (
	fireworksJobRunning   fireworksJobState = "JOB_STATE_RUNNING"
	fireworksJobCompleted fireworksJobState = "JOB_STATE_COMPLETED"
	fireworksJobFailed    fireworksJobState = "JOB_STATE_FAILED"
)

func (p *FireworksPoller) resolveKey(creds types.Credentials) (string, error) {
	if p.APIKey != nil {
		return p.APIKey(creds)
	}
	return creds.Resolve(nil)
}

func (p *FireworksPoller) base() string {
	if p.APIBase != "" {
		return p.APIBase
	}
	return fireworksAPIBase
}

func (p *FireworksPoller) client() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

// Poll checks handle's job state; once completed, it checks for (or
// creates) a default deployment and only reports Completed once the
// deployment itself reports Deployed (§4.J Fireworks wrinkle).
func (p *FireworksPoller) Poll(ctx context.Context, handle JobHandle) (Status, error) {
	creds := p.jobCredentials[handle]
	apiKey, err := p.resolveKey(creds)
	if err != nil {
		return Status{}, err
	}

	var job struct {
		State       fireworksJobState `json:"state"`
		OutputModel string            `json:"outputModel"`
		Status      struct {
			Message string `json:"message"`
		} `json:"status"`
	}
	jobURL := fmt.Sprintf("%sv1/%s", p.base(), strings.TrimPrefix(string(handle), "/"))
	if err := p.doJSON(ctx, apiKey, jobURL, &job); err != nil {
		return Status{}, err
	}

	switch job.State {
	case fireworksJobFailed:
		return Status{Kind: StatusFailed, Message: string(job.State), Err: job.Status.Message}, nil
	case fireworksJobCompleted:
		return p.pollDeployment(ctx, apiKey, job.OutputModel)
	default:
		return Status{Kind: StatusPending, Message: string(job.State)}, nil
	}
}

func (p *FireworksPoller) pollDeployment(ctx context.Context, apiKey, modelPath string) (Status, error) {
	var deployment struct {
		State string `json:"state"`
	}
	deployURL := fmt.Sprintf("%sv1/%s/deployments/default", p.base(), strings.TrimSuffix(modelPath, "/"))
	if err := p.doJSON(ctx, apiKey, deployURL, &deployment); err != nil {
		// No default deployment exists yet: create one and report Pending.
		createURL := fmt.Sprintf("%sv1/%s/deployments", p.base(), strings.TrimSuffix(modelPath, "/"))
		if createErr := p.doJSONPost(ctx, apiKey, createURL, map[string]any{"id": "default", "model": modelPath}); createErr != nil {
			return Status{}, createErr
		}
		return Status{Kind: StatusPending, Message: "deploying"}, nil
	}

	if deployment.State != "DEPLOYED" {
		return Status{Kind: StatusPending, Message: deployment.State}, nil
	}

	modelID := modelPath
	if idx := strings.LastIndex(modelPath, "/"); idx >= 0 {
		modelID = modelPath[idx+1:]
	}
	model := &types.Model{
		Name:    modelID,
		Routing: []string{modelID},
		Provider: map[string]*types.ModelProvider{
			modelID: {Name: modelID, Kind: types.ProviderKindFireworks, ModelID: modelPath},
		},
	}
	return Status{Kind: StatusCompleted, Output: &OptimizerOutput{Kind: OptimizerOutputModel, Model: model}}, nil
}

func (p *FireworksPoller) doJSON(ctx context.Context, apiKey, url string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return tzerr.New(tzerr.KindInternal, "fireworks optimizer: build request", err, nil)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	resp, err := p.client().Do(httpReq)
	if err != nil {
		return tzerr.New(tzerr.KindInferenceClient, "fireworks optimizer: request failed", err, nil)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return tzerr.New(tzerr.KindInferenceClient, "fireworks optimizer: unsuccessful status", nil, map[string]any{"status": resp.StatusCode})
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *FireworksPoller) doJSONPost(ctx context.Context, apiKey, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return tzerr.New(tzerr.KindInternal, "fireworks optimizer: encode request body", err, nil)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return tzerr.New(tzerr.KindInternal, "fireworks optimizer: build request", err, nil)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := p.client().Do(httpReq)
	if err != nil {
		return tzerr.New(tzerr.KindInferenceClient, "fireworks optimizer: request failed", err, nil)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return tzerr.New(tzerr.KindInferenceClient, "fireworks optimizer: unsuccessful status", nil, map[string]any{"status": resp.StatusCode})
	}
	return nil
}
