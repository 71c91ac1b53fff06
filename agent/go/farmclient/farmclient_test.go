package farmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	expect "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.testfarm.build/infra/go/testutils/unittest"
)

func TestUnescapeInstallScript(t *testing.T) {
	unittest.SmallTest(t)
	test := func(input, expected string) {
		expect.Equal(t, expected, UnescapeInstallScript(input))
	}
	test("", "")
	test("no escapes", "no escapes")
	test(`line1\nline2`, "line1\nline2")
	test(`col1\tcol2`, "col1\tcol2")
	test(`a\r\nb`, "a\r\nb")
	test(`quote: \"x\"`, `quote: "x"`)
	test(`back\\slash`, `back\slash`)
	test(`ABC`, "ABC")
	test(`\x41BC`, "ABC")
	// Unknown escapes are preserved verbatim.
	test(`\q`, `\q`)
	// A trailing backslash survives.
	test(`tail\`, `tail\`)
}

func TestUnescapeInstallScriptRealScript(t *testing.T) {
	unittest.SmallTest(t)
	escaped := `import sys\nprint(\"installing\")\nsys.exit(0)\n`
	expect.Equal(t, "import sys\nprint(\"installing\")\nsys.exit(0)\n", UnescapeInstallScript(escaped))
}

// newTestClient returns a Client talking to a fake Farm API.
func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	s := httptest.NewServer(handler)
	return NewWithClient(s.URL, s.Client()), s
}

func TestRegisterHost(t *testing.T) {
	unittest.SmallTest(t)
	var gotBody map[string]interface{}
	c, s := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/register-host", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{
			"Id": 17, "GridId": 3, "Type": "tests", "Status": "",
			"Hostname": "farm-host-01", "Cores": 8, "RAM": 32,
			"CreationTimestamp": "2024-05-01T10:00:00Z",
			"LastUpdateTimestamp": "2024-05-01T10:00:00Z"
		}`)
	}))
	defer s.Close()

	host, err := c.RegisterHost(context.Background(), HostSystemInfo{
		Hostname: "farm-host-01",
		Cores:    8,
		RAM:      32,
		Type:     "tests",
	}, "linux-x64")
	require.NoError(t, err)
	expect.Equal(t, int64(17), host.Id)
	expect.Equal(t, "farm-host-01", host.Hostname)
	require.NotNil(t, host.RAM)
	expect.Equal(t, int64(32), *host.RAM)

	// The payload is PascalCase and carries the grid name.
	expect.Equal(t, "linux-x64", gotBody["GridName"])
	expect.Equal(t, "farm-host-01", gotBody["Hostname"])
	expect.Equal(t, float64(8), gotBody["Cores"])
	expect.Equal(t, "tests", gotBody["Type"])
}

func TestRegisterHostError(t *testing.T) {
	unittest.SmallTest(t)
	c, s := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "grid not found", http.StatusNotFound)
	}))
	defer s.Close()

	_, err := c.RegisterHost(context.Background(), HostSystemInfo{}, "no-such-grid")
	require.Error(t, err)
	fe := IsFarmApiError(err)
	require.NotNil(t, fe)
	expect.Equal(t, http.StatusNotFound, fe.StatusCode)
}

func TestGetNextJob(t *testing.T) {
	unittest.SmallTest(t)
	empty := true
	c, s := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/get-next-job", r.URL.Path)
		require.Equal(t, "linux-x64", r.URL.Query().Get("GridName"))
		if empty {
			return
		}
		fmt.Fprint(w, `{"Id": 5, "Type": "test", "Status": "scheduled", "GridName": "linux-x64", "RunId": 2, "ResultId": 42}`)
	}))
	defer s.Close()

	job, err := c.GetNextJob(context.Background(), "linux-x64")
	require.NoError(t, err)
	expect.Nil(t, job)

	empty = false
	job, err = c.GetNextJob(context.Background(), "linux-x64")
	require.NoError(t, err)
	require.NotNil(t, job)
	expect.Equal(t, int64(5), job.Id)
	expect.Equal(t, JobTypeTest, job.Type)
	expect.Equal(t, int64(42), job.ResultId)
}

func TestUpdateHostStatus(t *testing.T) {
	unittest.SmallTest(t)
	var gotBody map[string]interface{}
	c, s := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/update-host-status", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
	}))
	defer s.Close()

	require.NoError(t, c.UpdateHostStatus(context.Background(), 17, "Waiting for tests..."))
	expect.Equal(t, float64(17), gotBody["Id"])
	expect.Equal(t, "Waiting for tests...", gotBody["Status"])
}

func TestGetScheduledTestResolvesArtifacts(t *testing.T) {
	unittest.SmallTest(t)
	c, s := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/get-scheduled-test":
			require.Equal(t, "42", r.URL.Query().Get("TestResultId"))
			fmt.Fprint(w, `{
				"Id": 42, "TestRunId": 7, "TestId": 3, "Status": "scheduled",
				"ExecutionStartTimestamp": "2024-05-01T10:00:00Z",
				"ExecutionEndTimestamp": null,
				"ExecutionOutput": "",
				"TestRun": {
					"Id": 7, "RepositoryName": "tests", "SuiteName": "render",
					"Name": "nightly", "GridName": "linux-x64",
					"CreationTimestamp": "2024-05-01T09:00:00Z",
					"Artifacts": [11, 12]
				},
				"Test": {
					"Id": 3, "RepositoryName": "tests", "SuiteName": "render",
					"Path": "render/smoke", "Name": "smoke", "Owner": "gfx",
					"CreationTimestamp": "2024-04-01T09:00:00Z"
				},
				"Repository": {
					"Id": 1, "Name": "tests", "Url": "https://git.example.com/tests.git",
					"User": "farm", "Token": "sekrit", "IsActive": true
				}
			}`)
		case "/artifact":
			id := r.URL.Query().Get("id")
			fmt.Fprintf(w, `{
				"Id": %s,
				"ArtifactDefinition": {"Id": 1, "Name": "driver", "InstallScript": "print(\\\"hi\\\")\\n", "Tags": null},
				"BuildId": 900, "BuildName": "build-900", "Repository": "drivers",
				"Branch": "main", "Revision": "abc123",
				"WorkItemUrl": "", "BuildPageUrl": "", "Tags": null
			}`, id)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer s.Close()

	result, err := c.GetScheduledTest(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, result)
	expect.Equal(t, int64(42), result.Id)
	expect.Equal(t, "render/smoke", result.Test.Path)
	expect.Equal(t, "sekrit", result.Repository.Token)
	require.Len(t, result.TestRun.Artifacts, 2)
	expect.Equal(t, int64(11), result.TestRun.Artifacts[0].Id)
	expect.Equal(t, int64(12), result.TestRun.Artifacts[1].Id)
	// Install scripts arrive unescaped.
	expect.Equal(t, "print(\"hi\")\n", result.TestRun.Artifacts[0].ArtifactDefinition.InstallScript)
}

func TestCompleteTest(t *testing.T) {
	unittest.SmallTest(t)
	var gotBody map[string]interface{}
	c, s := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/complete-test", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
	}))
	defer s.Close()

	require.NoError(t, c.CompleteTest(context.Background(), 42, "passed", "all good\n", ""))
	expect.Equal(t, float64(42), gotBody["TestResultId"])
	expect.Equal(t, "passed", gotBody["Status"])
	expect.Equal(t, "all good\n", gotBody["ExecutionOutput"])
	// Empty atomic results are omitted entirely.
	_, present := gotBody["AtomicResults"]
	expect.False(t, present)

	require.NoError(t, c.CompleteTest(context.Background(), 42, "passed", "out", `{"summary": {}}`))
	expect.Equal(t, `{"summary": {}}`, gotBody["AtomicResults"])
}

func TestUploadDiffWithReport(t *testing.T) {
	unittest.SmallTest(t)
	reportPath := filepath.Join(t.TempDir(), "smoke.html")
	require.NoError(t, os.WriteFile(reportPath, []byte("<html>diff</html>"), 0644))

	var fields map[string]string
	var fileContents string
	var fileName string
	c, s := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/upload-diff", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		f, header, err := r.FormFile("report")
		require.NoError(t, err)
		defer func() { _ = f.Close() }()
		fileName = header.Filename
		b, err := io.ReadAll(f)
		require.NoError(t, err)
		fileContents = string(b)
	}))
	defer s.Close()

	require.NoError(t, c.UploadDiff(context.Background(), 42, "smoke", "failed", reportPath))
	expect.Equal(t, "42", fields["TestResultId"])
	expect.Equal(t, "smoke", fields["Name"])
	expect.Equal(t, "failed", fields["Status"])
	expect.Equal(t, "smoke.html", fileName)
	expect.Equal(t, "<html>diff</html>", fileContents)
}

func TestUploadDiffWithoutReport(t *testing.T) {
	unittest.SmallTest(t)
	var hadFile bool
	var fields map[string]string
	c, s := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		_, _, err := r.FormFile("report")
		hadFile = err == nil
	}))
	defer s.Close()

	require.NoError(t, c.UploadDiff(context.Background(), 42, "smoke", "passed", ""))
	expect.Equal(t, "passed", fields["Status"])
	expect.False(t, hadFile)
}

func TestUploadTempDirArchive(t *testing.T) {
	unittest.SmallTest(t)
	archivePath := filepath.Join(t.TempDir(), "result_temp_archive.7z")
	require.NoError(t, os.WriteFile(archivePath, []byte("7z-bytes"), 0644))

	var gotId string
	var gotName string
	c, s := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/upload-temp-dir-archive", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotId = r.MultipartForm.Value["TestResultId"][0]
		_, header, err := r.FormFile("archive")
		require.NoError(t, err)
		gotName = header.Filename
	}))
	defer s.Close()

	require.NoError(t, c.UploadTempDirArchive(context.Background(), 42, archivePath))
	expect.Equal(t, "42", gotId)
	expect.Equal(t, "result_temp_archive.7z", gotName)
}

func TestUploadBenchmarkResults(t *testing.T) {
	unittest.SmallTest(t)
	resultsPath := filepath.Join(t.TempDir(), "metrics.json")
	require.NoError(t, os.WriteFile(resultsPath, []byte(`{"throughput": 123.4}`), 0644))

	var gotBody map[string]interface{}
	c, s := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/upload-benchmark-results", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
	}))
	defer s.Close()

	require.NoError(t, c.UploadBenchmarkResults(context.Background(), 9, resultsPath))
	expect.Equal(t, float64(9), gotBody["BenchmarkResultId"])
	results := gotBody["Results"].(map[string]interface{})
	expect.Equal(t, 123.4, results["throughput"])
}

func TestUnregisterHost(t *testing.T) {
	unittest.SmallTest(t)
	var gotId string
	c, s := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/unregister-host", r.URL.Path)
		gotId = r.URL.Query().Get("Id")
	}))
	defer s.Close()

	require.NoError(t, c.UnregisterHost(context.Background(), 17))
	expect.Equal(t, "17", gotId)
}
