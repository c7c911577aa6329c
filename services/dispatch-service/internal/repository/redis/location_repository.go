package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ErrandDispatchPlatform/pkg/errors"
	"ErrandDispatchPlatform/services/dispatch-service/internal/domain"
	"ErrandDispatchPlatform/services/dispatch-service/internal/repository"
)

// предел широты для GEOADD
const maxGeoLat = 85.05112878

// upsertScript записывает позицию и поддерживает индексы онлайн-исполнителей.
// Выполняется атомарно, поэтому отчеты таймера и слушателя перемещений не перемешиваются.
var upsertScript = redis.NewScript(`
local prev = redis.call('HGETALL', KEYS[1])
local online = ARGV[6]
if online == '' then
  online = redis.call('HGET', KEYS[1], 'online') or '0'
end
redis.call('HSET', KEYS[1], 'lat', ARGV[2], 'lng', ARGV[3], 'ts', ARGV[5], 'online', online)
if ARGV[4] == '' then
  redis.call('HDEL', KEYS[1], 'acc')
else
  redis.call('HSET', KEYS[1], 'acc', ARGV[4])
end
if online == '1' and math.abs(tonumber(ARGV[2])) <= tonumber(ARGV[7]) then
  redis.call('GEOADD', KEYS[2], ARGV[3], ARGV[2], ARGV[1])
  redis.call('ZADD', KEYS[3], ARGV[5], ARGV[1])
else
  redis.call('ZREM', KEYS[2], ARGV[1])
  redis.call('ZREM', KEYS[3], ARGV[1])
end
return prev
`)

var offlineScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  redis.call('HSET', KEYS[1], 'online', '0')
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
return 1
`)

// LocationRepository хранит позиции в hash на исполнителя и индексирует онлайн-исполнителей в GEO-наборе
type LocationRepository struct {
	client redis.UniversalClient
	prefix string
}

var _ repository.LocationRepository = (*LocationRepository)(nil)

// NewLocationRepository создает репозиторий; prefix используется как hash tag ключей
func NewLocationRepository(client redis.UniversalClient, prefix string) *LocationRepository {
	if prefix == "" {
		prefix = "dispatch"
	}
	return &LocationRepository{client: client, prefix: prefix}
}

func (r *LocationRepository) workerKey(workerID string) string {
	return fmt.Sprintf("{%s}:worker:%s", r.prefix, workerID)
}

func (r *LocationRepository) geoKey() string {
	return fmt.Sprintf("{%s}:online:geo", r.prefix)
}

func (r *LocationRepository) seenKey() string {
	return fmt.Sprintf("{%s}:online:seen", r.prefix)
}

// Upsert записывает позицию по правилу last-write-wins
func (r *LocationRepository) Upsert(ctx context.Context, report domain.PositionReport) (*domain.WorkerLocation, *domain.WorkerLocation, error) {
	acc := ""
	if report.Accuracy != nil {
		acc = formatFloat(*report.Accuracy)
	}
	setOnline := ""
	if report.SetOnline != nil {
		setOnline = boolFlag(*report.SetOnline)
	}

	raw, err := upsertScript.Run(ctx, r.client,
		[]string{r.workerKey(report.WorkerID), r.geoKey(), r.seenKey()},
		report.WorkerID,
		formatFloat(report.Lat),
		formatFloat(report.Lng),
		acc,
		report.Timestamp.UnixMilli(),
		setOnline,
		formatFloat(maxGeoLat),
	).Slice()
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrInternal, "failed to store worker position").
			WithDetails(fmt.Sprintf("worker_id: %s", report.WorkerID)).
			WithContext(ctx)
	}

	var prev *domain.WorkerLocation
	if len(raw) > 0 {
		prev, err = parseLocation(report.WorkerID, pairsToMap(raw))
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrInternal, "corrupted worker position").
				WithDetails(fmt.Sprintf("worker_id: %s", report.WorkerID)).
				WithContext(ctx)
		}
	}

	online := false
	switch {
	case report.SetOnline != nil:
		online = *report.SetOnline
	case prev != nil:
		online = prev.IsOnline
	}

	cur := &domain.WorkerLocation{
		WorkerID:  report.WorkerID,
		Lat:       report.Lat,
		Lng:       report.Lng,
		Accuracy:  report.Accuracy,
		Timestamp: time.UnixMilli(report.Timestamp.UnixMilli()),
		IsOnline:  online,
	}
	return prev, cur, nil
}

// SetOffline снимает признак онлайн и убирает исполнителя из индексов
func (r *LocationRepository) SetOffline(ctx context.Context, workerID string) error {
	err := offlineScript.Run(ctx, r.client,
		[]string{r.workerKey(workerID), r.geoKey(), r.seenKey()},
		workerID,
	).Err()
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to set worker offline").
			WithDetails(fmt.Sprintf("worker_id: %s", workerID)).
			WithContext(ctx)
	}
	return nil
}

// Get возвращает последнюю позицию исполнителя
func (r *LocationRepository) Get(ctx context.Context, workerID string) (*domain.WorkerLocation, error) {
	fields, err := r.client.HGetAll(ctx, r.workerKey(workerID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to get worker position").
			WithDetails(fmt.Sprintf("worker_id: %s", workerID)).
			WithContext(ctx)
	}
	if len(fields) == 0 {
		return nil, domain.ErrLocationNotFound.
			WithDetails(fmt.Sprintf("worker_id: %s", workerID)).
			WithContext(ctx)
	}

	loc, err := parseLocation(workerID, fields)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "corrupted worker position").
			WithDetails(fmt.Sprintf("worker_id: %s", workerID)).
			WithContext(ctx)
	}
	return loc, nil
}

// CountOnlineNearby ищет онлайн-исполнителей в радиусе и отбрасывает устаревшие позиции.
// Устаревание влияет только на подсчет, признак онлайн не меняется.
func (r *LocationRepository) CountOnlineNearby(ctx context.Context, q domain.NearbyQuery) (int, error) {
	members, err := r.client.GeoSearch(ctx, r.geoKey(), &redis.GeoSearchQuery{
		Longitude:  q.Lng,
		Latitude:   q.Lat,
		Radius:     q.RadiusKm,
		RadiusUnit: "km",
	}).Result()
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrInternal, "failed to search nearby workers").WithContext(ctx)
	}
	if len(members) == 0 {
		return 0, nil
	}

	scores, err := r.client.ZMScore(ctx, r.seenKey(), members...).Result()
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrInternal, "failed to read worker freshness").WithContext(ctx)
	}

	cutoff := float64(q.Now.Add(-q.StaleAfter).UnixMilli())
	count := 0
	for _, seen := range scores {
		if seen >= cutoff {
			count++
		}
	}
	return count, nil
}

func parseLocation(workerID string, fields map[string]string) (*domain.WorkerLocation, error) {
	lat, err := strconv.ParseFloat(fields["lat"], 64)
	if err != nil {
		return nil, fmt.Errorf("lat: %w", err)
	}
	lng, err := strconv.ParseFloat(fields["lng"], 64)
	if err != nil {
		return nil, fmt.Errorf("lng: %w", err)
	}
	ts, err := strconv.ParseInt(fields["ts"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("ts: %w", err)
	}

	loc := &domain.WorkerLocation{
		WorkerID:  workerID,
		Lat:       lat,
		Lng:       lng,
		Timestamp: time.UnixMilli(ts),
		IsOnline:  fields["online"] == "1",
	}
	if raw, ok := fields["acc"]; ok {
		acc, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("acc: %w", err)
		}
		loc.Accuracy = &acc
	}
	return loc, nil
}

func pairsToMap(raw []interface{}) map[string]string {
	out := make(map[string]string, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		k, _ := raw[i].(string)
		v, _ := raw[i+1].(string)
		out[k] = v
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func boolFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
