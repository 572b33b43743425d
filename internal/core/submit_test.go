package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/batchpush/internal/transport"
)

type insertServer struct {
	*httptest.Server
	calls atomic.Int32
}

func newInsertServer(t *testing.T, h http.HandlerFunc) *insertServer {
	t.Helper()
	s := &insertServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		h(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestCoordinator(baseURL string, opts ...CoordinatorOption) *Coordinator {
	client := transport.New(baseURL,
		transport.WithHTTPClient(&http.Client{Transport: &http.Transport{DisableKeepAlives: true}}),
		transport.WithTimeout(2*time.Second),
		transport.WithBackoff(time.Millisecond),
	)
	return NewCoordinator(client, append([]CoordinatorOption{WithDefaultTable("imports")}, opts...)...)
}

func sampleSet() RecordSet {
	return NewRecordSet([]Record{
		rec("company_name", "Acme", "domain", "acme.com"),
		rec("company_name", "Globex", "employees", float64(120), "public", true),
		rec("company_name", "Initech", "domain", nil),
	})
}

func TestCoordinator_Submit(t *testing.T) {
	srv := newInsertServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/insert", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"inserted":3,"failed":0,"schema_hash":"abc123"}`))
	})

	result, err := newTestCoordinator(srv.URL).Submit(context.Background(), SubmissionRequest{
		Records:     sampleSet(),
		TargetTable: "companies",
	})

	require.NoError(t, err)
	assert.True(t, result.OK())
	assert.Equal(t, 3, result.Inserted)
	assert.Zero(t, result.Failed)
	assert.Equal(t, "abc123", result.SchemaHash)
	assert.Equal(t, "companies", result.TargetTable)
	assert.NotEmpty(t, result.BatchID)
	assert.Equal(t, 1, result.Attempts)
	assert.Empty(t, result.Kind)
}

func TestCoordinator_PayloadRoundTrip(t *testing.T) {
	var got struct {
		Records     []Record `json:"records"`
		TargetTable string   `json:"target_table"`
	}
	srv := newInsertServer(t, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{}`))
	})

	in := sampleSet()
	_, err := newTestCoordinator(srv.URL).Submit(context.Background(), SubmissionRequest{Records: in})
	require.NoError(t, err)

	assert.Equal(t, "imports", got.TargetTable, "empty table falls back to the default")
	require.Len(t, got.Records, in.Len())
	for i, r := range got.Records {
		assert.True(t, in.At(i).Equal(r), "record %d: got %s, want %s", i, r, in.At(i))
	}
}

func TestCoordinator_MissingCounts(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantInserted int
		wantFailed   int
		wantErrKind  SubmissionErrorKind
	}{
		{name: "empty object", body: `{}`, wantInserted: 3},
		{name: "empty body", body: ``, wantInserted: 3},
		{name: "only hash", body: `{"schema_hash":"h"}`, wantInserted: 3},
		{name: "only failed", body: `{"failed":1,"errors":["row 2: bad domain"]}`, wantInserted: 2, wantFailed: 1, wantErrKind: SubmitPartial},
		{name: "only inserted", body: `{"inserted":2}`, wantInserted: 2},
		{name: "partial", body: `{"inserted":1,"failed":2,"errors":["a","b"]}`, wantInserted: 1, wantFailed: 2, wantErrKind: SubmitPartial},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newInsertServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})

			result, err := newTestCoordinator(srv.URL).Submit(context.Background(), SubmissionRequest{Records: sampleSet()})

			assert.Equal(t, tt.wantInserted, result.Inserted)
			assert.Equal(t, tt.wantFailed, result.Failed)
			if tt.wantErrKind == "" {
				require.NoError(t, err)
				return
			}
			var se *SubmissionError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.wantErrKind, se.Kind)
		})
	}
}

func TestCoordinator_RejectsInvalidCounts(t *testing.T) {
	bodies := map[string]string{
		"negative":      `{"inserted":-5,"failed":-2}`,
		"negative only": `{"failed":-1}`,
		"fractional":    `{"inserted":2.5,"failed":0}`,
		"string":        `{"inserted":"3"}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := newInsertServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			})

			result, err := newTestCoordinator(srv.URL).Submit(context.Background(), SubmissionRequest{Records: sampleSet()})

			var se *SubmissionError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, SubmitTransport, se.Kind)
			assert.Equal(t, transport.KindMalformed, transport.KindOf(err))
			assert.False(t, result.OK())
			assert.Equal(t, 3, result.Failed)
			assert.Zero(t, result.Inserted)
		})
	}
}

func TestCoordinator_PartialFailureMessage(t *testing.T) {
	srv := newInsertServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"inserted":1,"failed":2,"errors":["row 2: bad domain",{"row":3}]}`))
	})

	result, err := newTestCoordinator(srv.URL).Submit(context.Background(), SubmissionRequest{Records: sampleSet()})

	require.Error(t, err)
	assert.Equal(t, []string{"row 2: bad domain", `{"row":3}`}, result.Errors)
	assert.Equal(t, "2 of 3 records were rejected by the server: row 2: bad domain (and 1 more)", err.Error())
}

func TestCoordinator_NoDataIsLocal(t *testing.T) {
	srv := newInsertServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	c := newTestCoordinator(srv.URL)

	for name, rs := range map[string]RecordSet{
		"empty set":  NewRecordSet(nil),
		"failed set": FailedRecordSet(&ParseError{Format: FormatCSV, Err: errors.New("bad quote")}),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := c.Submit(context.Background(), SubmissionRequest{Records: rs, TargetTable: "t"})

			var se *SubmissionError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, SubmitNoData, se.Kind)
			assert.Contains(t, err.Error(), "no data")
		})
	}
	assert.Zero(t, srv.calls.Load())
}

func TestCoordinator_NoTable(t *testing.T) {
	srv := newInsertServer(t, func(w http.ResponseWriter, r *http.Request) {})
	c := newTestCoordinator(srv.URL, WithDefaultTable(""))

	_, err := c.Submit(context.Background(), SubmissionRequest{Records: sampleSet(), TargetTable: "  "})

	var se *SubmissionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, SubmitNoTable, se.Kind)
	assert.Zero(t, srv.calls.Load())
}

func TestCoordinator_TransportFailure(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind transport.Kind
	}{
		{"forbidden", http.StatusForbidden, `{"error":"forbidden"}`, transport.KindHTTPStatus},
		{"server error", http.StatusInternalServerError, `boom`, transport.KindHTTPStatus},
		{"non-json success", http.StatusOK, `<html>ok</html>`, transport.KindMalformed},
		{"array success", http.StatusOK, `[1,2]`, transport.KindMalformed},
		{"string counts", http.StatusOK, `{"inserted":"3"}`, transport.KindMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newInsertServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			result, err := newTestCoordinator(srv.URL).Submit(context.Background(), SubmissionRequest{Records: sampleSet()})

			var se *SubmissionError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, SubmitTransport, se.Kind)

			var te *transport.Error
			require.ErrorAs(t, err, &te, "transport error must stay reachable")
			assert.Equal(t, tt.wantKind, te.Kind)

			assert.Zero(t, result.Inserted)
			assert.Equal(t, 3, result.Failed)
			assert.Equal(t, string(tt.wantKind), result.Kind)
			require.Len(t, result.Errors, 1)
			assert.NotEmpty(t, result.Errors[0])
			assert.Equal(t, int32(1), srv.calls.Load(), "coordinator never retries")
		})
	}
}

func TestCoordinator_NetworkFailureUsesTransportRetries(t *testing.T) {
	srv := newInsertServer(t, func(w http.ResponseWriter, r *http.Request) {})
	base := srv.URL
	srv.Close()

	client := transport.New(base,
		transport.WithHTTPClient(&http.Client{Transport: &http.Transport{DisableKeepAlives: true}}),
		transport.WithMaxAttempts(3),
		transport.WithBackoff(time.Millisecond),
	)
	result, err := NewCoordinator(client, WithDefaultTable("imports")).
		Submit(context.Background(), SubmissionRequest{Records: sampleSet()})

	require.Error(t, err)
	assert.Equal(t, transport.KindNetwork, transport.KindOf(err))
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, "network", result.Kind)
	assert.Equal(t, "NET001", MapError(err).Code)
}
