package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportStorePutReport(t *testing.T) {
	t.Parallel()

	store := NewReportStore()
	uri, err := store.PutReport(context.Background(), "reports/u1/r1.json", "application/json", bytes.NewReader([]byte(`{"a":1}`)))
	require.NoError(t, err)
	assert.Equal(t, "memory://reports/u1/r1.json", uri)

	got, ok := store.Get("reports/u1/r1.json")
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(got))

	got[0] = 'X'
	again, _ := store.Get("reports/u1/r1.json")
	assert.Equal(t, byte('{'), again[0])

	_, err = store.PutReport(context.Background(), "", "application/json", bytes.NewReader(nil))
	require.Error(t, err)
}
