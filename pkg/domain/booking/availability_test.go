package booking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/napryag/salon_bot/pkg/utils/errs"
)

func TestAvailabilityQueryRun(t *testing.T) {
	t.Parallel()

	b := newFakeBackend()
	q := AvailabilityQuery{StoreID: 3, Date: "2025-06-05", Duration: 50}

	staff, err := q.Run(context.Background(), b, 0)
	require.NoError(t, err)
	assert.NotNil(t, staff)
	assert.Empty(t, staff)
	assert.Equal(t, []availCall{{3, "2025-06-05", 50}}, b.calls)

	b.staffErr = errs.Remote("store closed")
	staff, err = q.Run(context.Background(), b, 0)
	require.Error(t, err)
	assert.NotNil(t, staff)
	assert.Empty(t, staff)
	assert.True(t, errs.Is(err, errs.KindRemote))
	assert.Equal(t, "store closed", errs.UserMessage(err))
}
