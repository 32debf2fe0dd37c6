package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNilTrailRecordIsNoOp(t *testing.T) {
	var trail *Trail
	require.NoError(t, trail.Record(context.Background(), Entry{Action: "store_instances"}))
	entries, err := trail.ForResource(context.Background(), "1.2.3", 10)
	require.NoError(t, err)
	require.Nil(t, entries)
}
