package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/napryag/salon_bot/pkg/domain/catalog"
	"github.com/napryag/salon_bot/pkg/repository/model"
	"github.com/napryag/salon_bot/pkg/utils/errs"
)

type countingFetcher struct {
	model.DataFetcher // nil: unexpected calls panic

	stores     []model.Store
	templates  []model.CardTemplate
	err        error
	storeCalls int
	coordCalls int
	tplCalls   int
}

func (f *countingFetcher) ListStores(_ context.Context, at *model.Coordinates) ([]model.Store, error) {
	if at != nil {
		f.coordCalls++
	} else {
		f.storeCalls++
	}
	return f.stores, f.err
}

func (f *countingFetcher) CardTemplates(context.Context) ([]model.CardTemplate, error) {
	f.tplCalls++
	return f.templates, f.err
}

const ttl = time.Minute

func TestCardTemplatesMissThenFill(t *testing.T) {
	t.Parallel()

	rdb, mock := redismock.NewClientMock()
	templates := []model.CardTemplate{{ID: 1, Name: "Мытьё x10", ServiceType: catalog.Wash, IsActive: true}}
	raw, err := json.Marshal(templates)
	require.NoError(t, err)

	mock.ExpectGet(CardTemplatesKey).RedisNil()
	mock.ExpectSet(CardTemplatesKey, raw, ttl).SetVal("OK")

	src := &countingFetcher{templates: templates}
	f := NewCatalog(rdb, ttl, zerolog.Nop()).Wrap(src)

	got, err := f.CardTemplates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, templates, got)
	assert.Equal(t, 1, src.tplCalls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCardTemplatesHit(t *testing.T) {
	t.Parallel()

	rdb, mock := redismock.NewClientMock()
	mock.ExpectGet(CardTemplatesKey).SetVal(`[{"id":3,"name":"Комплекс","service_type":"combo","is_active":true}]`)

	src := &countingFetcher{}
	got, err := NewCatalog(rdb, ttl, zerolog.Nop()).Wrap(src).CardTemplates(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, catalog.Combo, got[0].ServiceType)
	assert.Zero(t, src.tplCalls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoresWithCoordinatesBypassCache(t *testing.T) {
	t.Parallel()

	rdb, mock := redismock.NewClientMock()
	src := &countingFetcher{stores: []model.Store{{ID: 1}}}
	f := NewCatalog(rdb, ttl, zerolog.Nop()).Wrap(src)

	_, err := f.ListStores(context.Background(), &model.Coordinates{Latitude: 1, Longitude: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, src.coordCalls)
	assert.Zero(t, src.storeCalls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoresRedisDownFallsBack(t *testing.T) {
	t.Parallel()

	rdb, mock := redismock.NewClientMock()
	stores := []model.Store{{ID: 1, Name: "Центр"}}
	raw, err := json.Marshal(stores)
	require.NoError(t, err)

	mock.ExpectGet(StoresKey).SetErr(errors.New("connection refused"))
	mock.ExpectSet(StoresKey, raw, ttl).SetErr(errors.New("connection refused"))

	src := &countingFetcher{stores: stores}
	got, err := NewCatalog(rdb, ttl, zerolog.Nop()).Wrap(src).ListStores(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, stores, got)
	assert.Equal(t, 1, src.storeCalls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBackendErrorIsNotCached(t *testing.T) {
	t.Parallel()

	rdb, mock := redismock.NewClientMock()
	mock.ExpectGet(StoresKey).RedisNil()

	src := &countingFetcher{err: errs.Network("down")}
	_, err := NewCatalog(rdb, ttl, zerolog.Nop()).Wrap(src).ListStores(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNetwork))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidate(t *testing.T) {
	t.Parallel()

	rdb, mock := redismock.NewClientMock()
	mock.ExpectDel(StoresKey, CardTemplatesKey).SetVal(2)

	require.NoError(t, NewCatalog(rdb, 0, zerolog.Nop()).Invalidate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
