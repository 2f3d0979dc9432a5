package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDurations(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 30, Wash.Duration())
	assert.Equal(t, 50, Soak.Duration())
	assert.Equal(t, 50, Care.Duration())
	assert.Equal(t, 50, WashSoak.Duration())
	assert.Equal(t, 0, Combo.Duration())
	assert.Equal(t, 0, ServiceType("perm").Duration())
}

func TestTotalDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, TotalDuration(nil))
	assert.Equal(t, 80, TotalDuration([]ServiceType{Wash, Soak}))
	assert.Equal(t, 100, TotalDuration([]ServiceType{WashSoak, Care}))
	assert.Equal(t, 130, TotalDuration([]ServiceType{Wash, Soak, Care}))
}

func TestSubmitType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Soak, WashSoak.SubmitType())
	assert.Equal(t, Wash, Wash.SubmitType())
	assert.Equal(t, Care, Care.SubmitType())
}

func TestGuestServices(t *testing.T) {
	t.Parallel()

	got := GuestServices()
	if assert.Len(t, got, 3) {
		assert.Equal(t, []ServiceType{Wash, Soak, Care}, []ServiceType{got[0].Type, got[1].Type, got[2].Type})
	}
	for _, s := range got {
		assert.True(t, s.Type.Basic())
		assert.True(t, s.Type.Bookable())
	}
	assert.False(t, Combo.Bookable())
	assert.False(t, WashSoak.Basic())
}

func TestTitle(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Распаривание", Soak.Title())
	assert.Equal(t, "Комплекс", Combo.Title())
	assert.Equal(t, "comprehensive", ServiceType("comprehensive").Title())
}
