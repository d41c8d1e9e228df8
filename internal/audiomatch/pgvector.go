package audiomatch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	rdsdatatypes "github.com/aws/aws-sdk-go-v2/service/rdsdata/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/vr-panorama/internal/pipeerr"
	"github.com/fpang/vr-panorama/internal/retry"
)

// StatementExecutor is the subset of *rdsdata.Client the pgvector index uses.
type StatementExecutor interface {
	ExecuteStatement(ctx context.Context, params *rdsdata.ExecuteStatementInput, optFns ...func(*rdsdata.Options)) (*rdsdata.ExecuteStatementOutput, error)
}

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Pgvector queries a catalog table in Aurora PostgreSQL through the RDS Data API.
//
// Expected schema:
//
//	CREATE TABLE audio_catalog (
//	    audio_id      text PRIMARY KEY,
//	    title         text,
//	    thumbnail_url text,
//	    caption       text,
//	    embedding     vector(1536)
//	);
type Pgvector struct {
	client     StatementExecutor
	clusterARN string
	secretARN  string
	database   string
	table      string
	policy     retry.Policy
}

// NewPgvector creates an index client for table.
func NewPgvector(client StatementExecutor, clusterARN, secretARN, database, table string, policy retry.Policy) (*Pgvector, error) {
	if !tableName.MatchString(table) {
		return nil, pipeerr.Validation("invalid catalog table %q", table)
	}
	return &Pgvector{
		client:     client,
		clusterARN: clusterARN,
		secretARN:  secretARN,
		database:   database,
		table:      table,
		policy:     policy,
	}, nil
}

func formatVector(emb []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range emb {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// Query orders by negative inner product, matching the dot-product metric
// the catalog vectors were indexed with.
func (p *Pgvector) Query(ctx context.Context, vector []float32, topK int) ([]Neighbor, error) {
	sql := fmt.Sprintf(`SELECT audio_id, title, thumbnail_url, caption, (embedding <#> :emb::vector) * -1 AS score
		FROM %s ORDER BY embedding <#> :emb::vector LIMIT :topk`, p.table)
	input := &rdsdata.ExecuteStatementInput{
		ResourceArn: aws.String(p.clusterARN),
		SecretArn:   aws.String(p.secretARN),
		Database:    aws.String(p.database),
		Sql:         aws.String(sql),
		Parameters: []rdsdatatypes.SqlParameter{
			{Name: aws.String("emb"), Value: &rdsdatatypes.FieldMemberStringValue{Value: formatVector(vector)}},
			{Name: aws.String("topk"), Value: &rdsdatatypes.FieldMemberLongValue{Value: int64(topK)}},
		},
	}

	start := time.Now()
	var result *rdsdata.ExecuteStatementOutput
	err := retry.Do(ctx, p.policy, "pgvector.query", func(ctx context.Context) error {
		var err error
		result, err = p.client.ExecuteStatement(ctx, input)
		if err != nil {
			log.Error().Err(err).Str("table", p.table).Msg("Catalog query failed")
			return classifyDataAPIError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	neighbors := make([]Neighbor, 0, len(result.Records))
	for _, rec := range result.Records {
		if len(rec) < 5 {
			return nil, pipeerr.Schema("catalog row has %d columns, want 5", len(rec))
		}
		n := Neighbor{Metadata: map[string]any{}}
		n.ID = fieldString(rec[0])
		n.Metadata["id"] = n.ID
		n.Metadata["title"] = fieldString(rec[1])
		n.Metadata["thumbnailUrl"] = fieldString(rec[2])
		n.Metadata["caption"] = fieldString(rec[3])
		if v, ok := rec[4].(*rdsdatatypes.FieldMemberDoubleValue); ok {
			n.Score = v.Value
		}
		neighbors = append(neighbors, n)
	}
	log.Debug().
		Int("matches", len(neighbors)).
		Dur("elapsed", time.Since(start)).
		Msg("Catalog query complete")
	return neighbors, nil
}

// classifyDataAPIError maps Data API errors onto the taxonomy. Requests the
// service rejects outright (bad SQL, missing table, bad credentials) are
// validation errors; a resuming cluster, statement timeouts, throttling and
// server faults stay transient.
func classifyDataAPIError(err error) error {
	var (
		badRequest *rdsdatatypes.BadRequestException
		forbidden  *rdsdatatypes.ForbiddenException
		notFound   *rdsdatatypes.NotFoundException
		denied     *rdsdatatypes.AccessDeniedException
		noDatabase *rdsdatatypes.DatabaseNotFoundException
		noEndpoint *rdsdatatypes.HttpEndpointNotEnabledException
		badSecret  *rdsdatatypes.InvalidSecretException
	)
	switch {
	case errors.As(err, &badRequest), errors.As(err, &forbidden), errors.As(err, &notFound),
		errors.As(err, &denied), errors.As(err, &noDatabase), errors.As(err, &noEndpoint),
		errors.As(err, &badSecret):
		return &pipeerr.Error{Kind: pipeerr.KindValidation, Message: "catalog query rejected", Err: err}
	}
	return pipeerr.Transient("catalog query failed", err)
}

func fieldString(f rdsdatatypes.Field) string {
	if v, ok := f.(*rdsdatatypes.FieldMemberStringValue); ok {
		return v.Value
	}
	return ""
}
