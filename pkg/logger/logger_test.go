package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContextAttachesKnownKeys(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "debug", "json")
	t.Cleanup(func() { InitWithWriter(&bytes.Buffer{}, "info", "json") })

	ctx := WithContext(context.Background(), TenantIDKey, "t1")
	ctx = WithContext(ctx, JobIDKey, "job-1")
	ctx = context.WithValue(ctx, ContextKey("unrelated"), "x")

	Error(ctx, "ingest failed", errors.New("boom"), "segment", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ingest failed", line["msg"])
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "t1", line["tenant_id"])
	assert.Equal(t, "job-1", line["job_id"])
	assert.Equal(t, "boom", line["error"])
	assert.EqualValues(t, 3, line["segment"])
	assert.NotContains(t, line, "unrelated")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "warn", "text")
	t.Cleanup(func() { InitWithWriter(&bytes.Buffer{}, "info", "json") })

	Info(context.Background(), "hidden")
	Warn(context.Background(), "shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestTenantFromContext(t *testing.T) {
	assert.Empty(t, TenantFromContext(context.Background()))
	assert.Equal(t, "t1", TenantFromContext(WithContext(context.Background(), TenantIDKey, "t1")))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("Debug").String())
	assert.Equal(t, "WARN", parseLevel("warning").String())
	assert.Equal(t, "INFO", parseLevel("verbose").String())
}
