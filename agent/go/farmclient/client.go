// Package farmclient provides typed bindings over the Farm API: JSON
// endpoints for host lifecycle and job scheduling, and multipart uploads for
// diff reports and workspace archives.
package farmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.testfarm.build/infra/agent/go/config"
	"go.testfarm.build/infra/go/httputils"
	"go.testfarm.build/infra/go/skerr"
)

// FarmApiError is returned for any non-2xx Farm API response.
type FarmApiError struct {
	StatusCode int
	Reason     string
}

func (e *FarmApiError) Error() string {
	return fmt.Sprintf("Farm API request failed with status code %d and message: %s", e.StatusCode, e.Reason)
}

// IsFarmApiError returns the *FarmApiError in err's chain, or nil.
func IsFarmApiError(err error) *FarmApiError {
	for err != nil {
		if fe, ok := err.(*FarmApiError); ok {
			return fe
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		err = u.Unwrap()
	}
	return nil
}

// Client is a typed Farm API client. All methods make exactly one attempt;
// retrying on transient failure is the caller's policy, not the client's.
type Client struct {
	httpClient *http.Client
	baseUrl    string
}

// New returns a Client for the API at cfg.BaseUrl, applying cfg.Timeout to
// every request.
func New(cfg config.FarmApiConfig) *Client {
	return &Client{
		httpClient: httputils.NewTimeoutClient(cfg.RequestTimeout()),
		baseUrl:    strings.TrimSuffix(cfg.BaseUrl, "/"),
	}
}

// NewWithClient returns a Client which uses the given http.Client. Used by
// tests.
func NewWithClient(baseUrl string, httpClient *http.Client) *Client {
	return &Client{
		httpClient: httpClient,
		baseUrl:    strings.TrimSuffix(baseUrl, "/"),
	}
}

func (c *Client) endpoint(name string) string {
	return c.baseUrl + "/" + name
}

// checkStatus converts a non-2xx response into a *FarmApiError.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer httputils.ReadAndClose(resp.Body)
	return &FarmApiError{
		StatusCode: resp.StatusCode,
		Reason:     http.StatusText(resp.StatusCode),
	}
}

// getJSON issues a GET with query parameters and decodes the response into
// dest. Returns (false, nil) if the response body is empty.
func (c *Client) getJSON(ctx context.Context, name string, params url.Values, dest interface{}) (bool, error) {
	u := c.endpoint(name)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, skerr.Wrap(err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, skerr.Wrap(err)
	}
	if err := checkStatus(resp); err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, skerr.Wrap(err)
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return false, nil
	}
	if err := json.Unmarshal(trimmed, dest); err != nil {
		return false, skerr.Wrapf(err, "Failed to decode %s response", name)
	}
	return true, nil
}

// postJSON issues a POST with a JSON body and optionally decodes the response
// into dest.
func (c *Client) postJSON(ctx context.Context, name string, payload interface{}, dest interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return skerr.Wrap(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(name), bytes.NewReader(body))
	if err != nil {
		return skerr.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return skerr.Wrap(err)
	}
	if err := checkStatus(resp); err != nil {
		return err
	}
	if dest == nil {
		httputils.ReadAndClose(resp.Body)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return skerr.Wrapf(err, "Failed to decode %s response", name)
	}
	return nil
}

// RegisterHost creates the Host record for this agent on the server.
func (c *Client) RegisterHost(ctx context.Context, info HostSystemInfo, gridName string) (*Host, error) {
	payload := struct {
		HostSystemInfo
		GridName string `json:"GridName"`
	}{HostSystemInfo: info, GridName: gridName}
	host := &Host{}
	if err := c.postJSON(ctx, "register-host", payload, host); err != nil {
		return nil, err
	}
	return host, nil
}

// UnregisterHost destroys the Host record.
func (c *Client) UnregisterHost(ctx context.Context, hostId int64) error {
	params := url.Values{"Id": []string{strconv.FormatInt(hostId, 10)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("unregister-host")+"?"+params.Encode(), nil)
	if err != nil {
		return skerr.Wrap(err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return skerr.Wrap(err)
	}
	if err := checkStatus(resp); err != nil {
		return err
	}
	httputils.ReadAndClose(resp.Body)
	return nil
}

// UpdateHostStatus sets the host's free-form status string on the server.
func (c *Client) UpdateHostStatus(ctx context.Context, hostId int64, status string) error {
	payload := struct {
		Id     int64  `json:"Id"`
		Status string `json:"Status"`
	}{Id: hostId, Status: status}
	return c.postJSON(ctx, "update-host-status", payload, nil)
}

// GetNextJob polls for the next job scheduled for the given grid. Returns
// (nil, nil) if there is no work.
func (c *Client) GetNextJob(ctx context.Context, gridName string) (*Job, error) {
	job := &Job{}
	ok, err := c.getJSON(ctx, "get-next-job", url.Values{"GridName": []string{gridName}}, job)
	if err != nil || !ok {
		return nil, err
	}
	return job, nil
}

// GetScheduledTest fetches the TestResult for a job, resolving the run's
// artifact ids into full Artifacts. Returns (nil, nil) if the server has no
// record for the id.
func (c *Client) GetScheduledTest(ctx context.Context, testResultId int64) (*TestResult, error) {
	result := &TestResult{}
	ok, err := c.getJSON(ctx, "get-scheduled-test", url.Values{"TestResultId": []string{strconv.FormatInt(testResultId, 10)}}, result)
	if err != nil || !ok {
		return nil, err
	}
	if err := c.resolveArtifacts(ctx, &result.TestRun); err != nil {
		return nil, err
	}
	return result, nil
}

// GetScheduledBenchmark fetches the BenchmarkResult for a job, resolving the
// run's artifact ids. Returns (nil, nil) if the server has no record.
func (c *Client) GetScheduledBenchmark(ctx context.Context, benchmarkResultId int64) (*BenchmarkResult, error) {
	result := &BenchmarkResult{}
	ok, err := c.getJSON(ctx, "get-scheduled-benchmark", url.Values{"BenchmarkResultId": []string{strconv.FormatInt(benchmarkResultId, 10)}}, result)
	if err != nil || !ok {
		return nil, err
	}
	if err := c.resolveArtifacts(ctx, &result.BenchmarkRun); err != nil {
		return nil, err
	}
	return result, nil
}

// GetArtifact fetches a single Artifact by id. Returns (nil, nil) if the
// server has no record. The install script is unescaped here so that every
// consumer sees the decoded form.
func (c *Client) GetArtifact(ctx context.Context, artifactId int64) (*Artifact, error) {
	artifact := &Artifact{}
	ok, err := c.getJSON(ctx, "artifact", url.Values{"id": []string{strconv.FormatInt(artifactId, 10)}}, artifact)
	if err != nil || !ok {
		return nil, err
	}
	artifact.ArtifactDefinition.InstallScript = UnescapeInstallScript(artifact.ArtifactDefinition.InstallScript)
	return artifact, nil
}

func (c *Client) resolveArtifacts(ctx context.Context, run *Run) error {
	run.Artifacts = make([]*Artifact, 0, len(run.ArtifactIds))
	for _, id := range run.ArtifactIds {
		artifact, err := c.GetArtifact(ctx, id)
		if err != nil {
			return skerr.Wrapf(err, "Failed to resolve artifact %d for run %d", id, run.Id)
		}
		if artifact != nil {
			run.Artifacts = append(run.Artifacts, artifact)
		}
	}
	return nil
}

// CompleteTest reports the final status of a test along with its captured
// output. AtomicResults is omitted from the payload when empty, keeping both
// server-side overloads of the endpoint happy.
func (c *Client) CompleteTest(ctx context.Context, testResultId int64, status, executionOutput, atomicResults string) error {
	payload := struct {
		TestResultId    int64  `json:"TestResultId"`
		Status          string `json:"Status"`
		ExecutionOutput string `json:"ExecutionOutput"`
		AtomicResults   string `json:"AtomicResults,omitempty"`
	}{
		TestResultId:    testResultId,
		Status:          status,
		ExecutionOutput: executionOutput,
		AtomicResults:   atomicResults,
	}
	return c.postJSON(ctx, "complete-test", payload, nil)
}

// CompleteBenchmark reports that a benchmark has finished executing.
func (c *Client) CompleteBenchmark(ctx context.Context, benchmarkResultId int64) error {
	payload := struct {
		BenchmarkResultId int64 `json:"BenchmarkResultId"`
	}{BenchmarkResultId: benchmarkResultId}
	return c.postJSON(ctx, "complete-benchmark", payload, nil)
}

// UploadBenchmarkResults posts the metrics payload read from the given file.
func (c *Client) UploadBenchmarkResults(ctx context.Context, benchmarkResultId int64, resultsPath string) error {
	b, err := os.ReadFile(resultsPath)
	if err != nil {
		return skerr.Wrapf(err, "Failed to read benchmark results file %s", resultsPath)
	}
	payload := struct {
		BenchmarkResultId int64           `json:"BenchmarkResultId"`
		Results           json.RawMessage `json:"Results"`
	}{
		BenchmarkResultId: benchmarkResultId,
		Results:           json.RawMessage(b),
	}
	return c.postJSON(ctx, "upload-benchmark-results", payload, nil)
}

// UploadDiff reports one DiffOutcome. reportPath may be empty (for "passed"
// and missing-file outcomes); when set, the report file is attached as a
// multipart file field named "report".
func (c *Client) UploadDiff(ctx context.Context, testResultId int64, name, status, reportPath string) error {
	fields := map[string]string{
		"TestResultId": strconv.FormatInt(testResultId, 10),
		"Name":         name,
		"Status":       status,
	}
	files := map[string]string{}
	if reportPath != "" {
		files["report"] = reportPath
	}
	return c.postMultipart(ctx, "upload-diff", fields, files)
}

// UploadTempDirArchive uploads the 7z archive of the job's work directory as
// a multipart file field named "archive".
func (c *Client) UploadTempDirArchive(ctx context.Context, testResultId int64, archivePath string) error {
	fields := map[string]string{
		"TestResultId": strconv.FormatInt(testResultId, 10),
	}
	files := map[string]string{"archive": archivePath}
	return c.postMultipart(ctx, "upload-temp-dir-archive", fields, files)
}

func (c *Client) postMultipart(ctx context.Context, name string, fields map[string]string, files map[string]string) error {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return skerr.Wrap(err)
		}
	}
	for field, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return skerr.Wrapf(err, "Failed to open upload file %s", path)
		}
		part, err := w.CreateFormFile(field, filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return skerr.Wrapf(err, "Failed to attach upload file %s", path)
		}
	}
	if err := w.Close(); err != nil {
		return skerr.Wrap(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(name), body)
	if err != nil {
		return skerr.Wrap(err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return skerr.Wrap(err)
	}
	if err := checkStatus(resp); err != nil {
		return err
	}
	httputils.ReadAndClose(resp.Body)
	return nil
}
