package client

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadIngestText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.txt")
	require.NoError(t, os.WriteFile(path, []byte("from file"), 0600))

	text, err := readIngestText(ingestOptions{text: "inline"}, strings.NewReader("stdin"))
	require.NoError(t, err)
	assert.Equal(t, "inline", text)

	text, err = readIngestText(ingestOptions{file: path}, strings.NewReader("stdin"))
	require.NoError(t, err)
	assert.Equal(t, "from file", text)

	text, err = readIngestText(ingestOptions{}, strings.NewReader("stdin"))
	require.NoError(t, err)
	assert.Equal(t, "stdin", text)

	_, err = readIngestText(ingestOptions{text: "a", file: path}, nil)
	assert.Error(t, err)
}

func TestRunIngest_Sync(t *testing.T) {
	var got IngestRequest
	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"data":{"source_type":"file","source_id":"a","chunk_count":3,
			"records":[{"id":"r0","ordinal":0},{"id":"r2","ordinal":2}],"failed_ordinals":[1],"complete":false}}`))
	})

	var out bytes.Buffer
	err := runIngest(&out, client, ingestOptions{sourceType: "file", sourceID: "a", maxChunkSize: 200}, "hello", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete")

	assert.Empty(t, gotQuery)
	assert.Equal(t, "file", got.SourceType)
	assert.Equal(t, "hello", got.Text)
	require.NotNil(t, got.MaxChunkSize)
	assert.Equal(t, 200, *got.MaxChunkSize)
	assert.Contains(t, out.String(), "2 of 3 chunks stored")
	assert.Contains(t, out.String(), "Failed ordinals: 1")
}

func TestRunIngest_Async(t *testing.T) {
	var gotQuery string
	var got IngestRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"data":{"id":"job-7","source_type":"message","source_id":"m1","status":"pending","failed_ordinals":[]}}`))
	})

	var out bytes.Buffer
	err := runIngest(&out, client, ingestOptions{sourceType: "message", sourceID: "m1", async: true}, "hi", true)
	require.NoError(t, err)

	assert.Equal(t, "async=true", gotQuery)
	assert.Nil(t, got.MaxChunkSize)

	var job JobResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &job))
	assert.Equal(t, "job-7", job.ID)
	assert.Equal(t, "pending", job.Status)
}

func TestRunRetrieve(t *testing.T) {
	var got map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"data":{"results":[
			{"source_type":"file","source_id":"a","ordinal":1,"text":"dogs bark","similarity":0.91},
			{"source_type":"file","source_id":"b","ordinal":0,"text":"cats purr","similarity":0.42}]}}`))
	})

	k := 2
	var out bytes.Buffer
	require.NoError(t, runRetrieve(&out, client, RetrieveRequest{Query: "dog", K: &k}, false))

	assert.Equal(t, "dog", got["query"])
	assert.Equal(t, float64(2), got["k"])
	_, hasMin := got["min_similarity"]
	assert.False(t, hasMin)

	text := out.String()
	assert.Contains(t, text, "Found 2 results")
	assert.Contains(t, text, "1. file/a #1 (0.910)")
	assert.Less(t, strings.Index(text, "dogs bark"), strings.Index(text, "cats purr"))
}

func TestRunRetrieve_Empty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"results":[]}}`))
	})

	var out bytes.Buffer
	require.NoError(t, runRetrieve(&out, client, RetrieveRequest{Query: "x"}, false))
	assert.Contains(t, out.String(), "No results found.")
}

func TestRunRemove(t *testing.T) {
	var gotMethod, gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{"data":{"deleted":4}}`))
	})

	var out bytes.Buffer
	require.NoError(t, runRemove(&out, client, "file", "docs/a b.md", false))

	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/sources/file/docs%2Fa%20b.md", gotPath)
	assert.Contains(t, out.String(), "Removed 4 records")
}

func TestRunJobList(t *testing.T) {
	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"data":{"items":[{"id":"j1","status":"partial","source_type":"file","source_id":"a","record_count":2}],
			"cursor":"next","has_more":true}}`))
	})

	var out bytes.Buffer
	require.NoError(t, runJobList(&out, client, 10, "abc", false))

	assert.Equal(t, "cursor=abc&limit=10", gotQuery)
	assert.Contains(t, out.String(), "j1")
	assert.Contains(t, out.String(), "partial")
	assert.Contains(t, out.String(), "--cursor next")
}

func TestPrintJob_Text(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printJob(&out, &JobResponse{
		ID:             "j2",
		SourceType:     "file",
		SourceID:       "a",
		Status:         "failed",
		Retries:        3,
		FailedOrdinals: []int{0, 4},
		Error:          "max retries exceeded: provider unavailable",
	}, false))

	text := out.String()
	assert.Contains(t, text, "Status: failed")
	assert.Contains(t, text, "Failed ordinals: 0, 4")
	assert.Contains(t, text, "Retries: 3")
	assert.Contains(t, text, "max retries exceeded")
}

func TestRunConfigSet(t *testing.T) {
	withTempConfig(t)

	err := runConfigSet(io.Discard, configSetOptions{apiKey: testAPIKey, apiURL: defaultAPIURL})
	require.NoError(t, err)

	err = runConfigSet(io.Discard, configSetOptions{subject: "alice", subjectSet: true})
	require.NoError(t, err)

	config, err := LoadGlobalConfig()
	require.NoError(t, err)
	require.NotNil(t, config)
	assert.Equal(t, testAPIKey, config.APIKey)
	assert.Equal(t, defaultAPIURL, config.APIURL)
	assert.Equal(t, "alice", config.Subject)
}

func TestRunConfigSet_Invalid(t *testing.T) {
	withTempConfig(t)

	err := runConfigSet(io.Discard, configSetOptions{apiKey: "sk_nope"})
	assert.Error(t, err)

	err = runConfigSet(io.Discard, configSetOptions{apiKey: testAPIKey, subject: "a/b", subjectSet: true})
	assert.Error(t, err)

	err = runConfigSet(io.Discard, configSetOptions{subject: "alice", subjectSet: true})
	assert.ErrorContains(t, err, "no API key stored")
}

func TestRunConfigShow_JSON(t *testing.T) {
	withTempConfig(t)
	t.Setenv(envAPIURL, "http://env:9000")
	require.NoError(t, SaveGlobalConfig(&GlobalConfig{APIKey: testAPIKey, APIURL: defaultAPIURL, Subject: "dave"}))

	var out bytes.Buffer
	require.NoError(t, runConfigShow(&out, true))

	var status struct {
		Authenticated bool    `json:"authenticated"`
		APIKey        Setting `json:"api_key"`
		APIURL        Setting `json:"api_url"`
		Subject       Setting `json:"subject"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &status))
	assert.True(t, status.Authenticated)
	assert.Equal(t, Setting{Value: "rcl_012...cdef", Source: SourceGlobalConfig}, status.APIKey)
	assert.Equal(t, Setting{Value: "http://env:9000", Source: SourceEnv}, status.APIURL)
	assert.Equal(t, Setting{Value: "dave", Source: SourceGlobalConfig}, status.Subject)
}

func TestRunConfigShow_NotConfigured(t *testing.T) {
	withTempConfig(t)

	var out bytes.Buffer
	require.NoError(t, runConfigShow(&out, false))
	assert.Contains(t, out.String(), "Not configured")
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "***", maskAPIKey("short"))
	assert.Equal(t, "rcl_012...cdef", maskAPIKey(testAPIKey))
}
