package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-lis/delivery"
	"github.com/arloliu/go-lis/pipeline"
)

const hl7 = "MSH|^~\\&|A|B|C|D|20240101120000||ORU^R01|1|P|2.5\rOBR|1|||S1\rOBX|1|NM|GLU||5.4|mmol/L"

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	return string(body)
}

func TestRegisterAndScrape(t *testing.T) {
	store := delivery.NewFileStore(filepath.Join(t.TempDir(), "queue.json"))
	q, err := delivery.NewQueue(store, func(context.Context, json.RawMessage) error { return nil })
	require.NoError(t, err)

	p, err := pipeline.New(context.Background(), q)
	require.NoError(t, err)
	defer p.Stop()

	reg := NewRegistry()
	require.NoError(t, RegisterPipeline(reg, p))
	require.NoError(t, RegisterQueue(reg, q))

	_, err = p.Submit("capture", hl7)
	require.NoError(t, err)
	_, err = p.Submit("capture", "junk")
	require.Error(t, err)

	body := scrape(t, Handler(reg))

	for _, line := range []string{
		"lis_pipeline_messages_total 2",
		"lis_pipeline_parse_errors_total 1",
		"lis_pipeline_enqueued_total 1",
		"lis_pipeline_active_links 0",
		"lis_astm_messages_total 0",
		"lis_delivery_queue_length 1",
		"lis_delivery_enqueued_total 1",
		"lis_delivery_dead_letters_total 0",
	} {
		assert.True(t, strings.Contains(body, line+"\n"), "missing %q", line)
	}

	assert.Contains(t, body, "go_goroutines")
}

func TestRegisterTwice(t *testing.T) {
	store := delivery.NewFileStore(filepath.Join(t.TempDir(), "queue.json"))
	q, err := delivery.NewQueue(store, func(context.Context, json.RawMessage) error { return nil })
	require.NoError(t, err)

	reg := NewRegistry()
	require.NoError(t, RegisterQueue(reg, q))
	require.Error(t, RegisterQueue(reg, q))
}
