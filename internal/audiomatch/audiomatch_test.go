package audiomatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	rdsdatatypes "github.com/aws/aws-sdk-go-v2/service/rdsdata/types"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/vr-panorama/internal/pipeerr"
	"github.com/fpang/vr-panorama/internal/retry"
)

var quick = retry.Policy{MaxRetries: 1, InitialBackoff: time.Millisecond}

type fakeEmbeddings struct {
	calls int
	dims  int
	err   error
}

func (f *fakeEmbeddings) CreateEmbeddings(_ context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	f.calls++
	if f.err != nil {
		return openai.EmbeddingResponse{}, f.err
	}
	return openai.EmbeddingResponse{Data: []openai.Embedding{{Embedding: make([]float32, f.dims)}}}, nil
}

func TestEmbedder_Caches(t *testing.T) {
	f := &fakeEmbeddings{dims: Dimensions}
	e := NewEmbedder(f, "text-embedding-3-small", time.Minute, quick)

	for range 3 {
		vec, err := e.Embed(t.Context(), "rain on a tin roof")
		require.NoError(t, err)
		assert.Len(t, vec, Dimensions)
	}
	assert.Equal(t, 1, f.calls)

	_, err := e.Embed(t.Context(), "waves on a beach")
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)
}

func TestEmbedder_Errors(t *testing.T) {
	_, err := NewEmbedder(&fakeEmbeddings{dims: 3}, "m", 0, quick).Embed(t.Context(), "x")
	assert.Equal(t, pipeerr.KindSchema, pipeerr.KindOf(err))

	f := &fakeEmbeddings{err: &openai.APIError{HTTPStatusCode: 401, Message: "bad key"}}
	_, err = NewEmbedder(f, "m", 0, quick).Embed(t.Context(), "x")
	assert.Equal(t, pipeerr.KindValidation, pipeerr.KindOf(err))
	assert.Equal(t, 1, f.calls)
}

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

func pineconeServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query", r.URL.Path)
		assert.Equal(t, "pc-key", r.Header.Get("Api-Key"))
		assert.NotEmpty(t, r.Header.Get("X-Pinecone-API-Version"))
		var q pineconeQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		assert.Equal(t, 1, q.TopK)
		assert.True(t, q.IncludeMetadata)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMatcher_Pinecone(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantID  string
		wantNil bool
		wantErr pipeerr.Kind
	}{
		{
			name:   "match",
			status: http.StatusOK,
			body:   `{"matches":[{"id":"row-7","score":0.83,"metadata":{"id":"dQw4w9WgXcQ","title":"Forest Rain","thumbnailUrl":"https://i.ytimg.com/x.jpg","caption":"rain falling in a forest"}}]}`,
			wantID: "dQw4w9WgXcQ",
		},
		{name: "no matches", status: http.StatusOK, body: `{"matches":[]}`, wantNil: true},
		{name: "missing matches", status: http.StatusOK, body: `{"namespace":""}`, wantErr: pipeerr.KindSchema},
		{name: "missing audio id", status: http.StatusOK, body: `{"matches":[{"id":"row-1","score":0.5,"metadata":{"title":"x"}}]}`, wantErr: pipeerr.KindSchema},
		{name: "unavailable", status: http.StatusServiceUnavailable, body: `{}`, wantErr: pipeerr.KindTransientRemote},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{}`, wantErr: pipeerr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := pineconeServer(t, tt.status, tt.body)
			m := NewMatcher(fakeEmbedder{}, NewPinecone(srv.URL, "pc-key", "", quick))

			got, err := m.Match(t.Context(), "a rainy forest")
			switch {
			case tt.wantID != "":
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, tt.wantID, got.AudioID)
				assert.Equal(t, "Forest Rain", got.Title)
				assert.InDelta(t, 0.83, got.Score, 1e-9)
			case tt.wantNil:
				require.NoError(t, err)
				assert.Nil(t, got)
			default:
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, pipeerr.KindOf(err), "err = %v", err)
			}
		})
	}
}

func TestNewPinecone_AddsScheme(t *testing.T) {
	p := NewPinecone("audio-caption-index-abc.svc.pinecone.io/", "k", "", quick)
	assert.Equal(t, "https://audio-caption-index-abc.svc.pinecone.io", p.host)
}

func TestMatcher_EmbedFailure(t *testing.T) {
	m := NewMatcher(fakeEmbedder{err: pipeerr.FromStatus(500, "")}, nil)
	got, err := m.Match(t.Context(), "x")
	assert.Nil(t, got)
	assert.Equal(t, pipeerr.KindTransientRemote, pipeerr.KindOf(err))
}

type fakeExecutor struct {
	input *rdsdata.ExecuteStatementInput
	out   *rdsdata.ExecuteStatementOutput
	err   error
	calls int
}

func (f *fakeExecutor) ExecuteStatement(_ context.Context, in *rdsdata.ExecuteStatementInput, _ ...func(*rdsdata.Options)) (*rdsdata.ExecuteStatementOutput, error) {
	f.calls++
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

func TestPgvector_Query(t *testing.T) {
	f := &fakeExecutor{out: &rdsdata.ExecuteStatementOutput{Records: [][]rdsdatatypes.Field{{
		&rdsdatatypes.FieldMemberStringValue{Value: "abc123"},
		&rdsdatatypes.FieldMemberStringValue{Value: "Harbour Gulls"},
		&rdsdatatypes.FieldMemberIsNull{Value: true},
		&rdsdatatypes.FieldMemberStringValue{Value: "gulls over a harbour"},
		&rdsdatatypes.FieldMemberDoubleValue{Value: 0.71},
	}}}}
	idx, err := NewPgvector(f, "arn:cluster", "arn:secret", "catalog", "audio_catalog", quick)
	require.NoError(t, err)

	got, err := NewMatcher(fakeEmbedder{}, idx).Match(t.Context(), "a harbour")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "abc123", got.AudioID)
	assert.Empty(t, got.ThumbnailURL)
	assert.InDelta(t, 0.71, got.Score, 1e-9)

	sql := aws.ToString(f.input.Sql)
	assert.True(t, strings.Contains(sql, "<#>"), "query should use inner-product distance: %s", sql)
	assert.Contains(t, sql, "FROM audio_catalog")
	assert.Equal(t, "[0.1,0.2]", f.input.Parameters[0].Value.(*rdsdatatypes.FieldMemberStringValue).Value)
}

func TestPgvector_EmptyResult(t *testing.T) {
	idx, err := NewPgvector(&fakeExecutor{out: &rdsdata.ExecuteStatementOutput{}}, "a", "s", "d", "audio_catalog", quick)
	require.NoError(t, err)
	got, err := NewMatcher(fakeEmbedder{}, idx).Match(t.Context(), "x")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNewPgvector_RejectsUnsafeTable(t *testing.T) {
	_, err := NewPgvector(nil, "a", "s", "d", "audio; DROP TABLE x", quick)
	assert.Equal(t, pipeerr.KindValidation, pipeerr.KindOf(err))
}

func TestPgvector_QueryErrors(t *testing.T) {
	policy := retry.Policy{MaxRetries: 3, InitialBackoff: time.Millisecond}
	tests := []struct {
		name      string
		err       error
		wantKind  pipeerr.Kind
		wantCalls int
	}{
		{"missing table", &rdsdatatypes.BadRequestException{Message: aws.String(`relation "audio_catalog" does not exist`)}, pipeerr.KindValidation, 1},
		{"forbidden", &rdsdatatypes.ForbiddenException{Message: aws.String("not authorized")}, pipeerr.KindValidation, 1},
		{"bad secret", &rdsdatatypes.InvalidSecretException{Message: aws.String("secret not found")}, pipeerr.KindValidation, 1},
		{"resuming", &rdsdatatypes.DatabaseResumingException{Message: aws.String("resuming after pause")}, pipeerr.KindTransientRemote, 4},
		{"unavailable", &rdsdatatypes.ServiceUnavailableError{Message: aws.String("try again")}, pipeerr.KindTransientRemote, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeExecutor{err: tt.err}
			idx, err := NewPgvector(f, "a", "s", "d", "audio_catalog", policy)
			require.NoError(t, err)

			_, err = idx.Query(t.Context(), []float32{0.1}, 1)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, pipeerr.KindOf(err))
			assert.Equal(t, tt.wantCalls, f.calls)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
