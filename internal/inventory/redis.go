package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each slot in a hash at slot:<tenant>:<slot> and indexes a
// tenant's slots by start time in the sorted set slots:<tenant>. State
// changes run as Lua scripts so the check and the write are one step.
type RedisStore struct {
	redis *redis.Client
	opts  options
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a redis-backed inventory.
func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	if client == nil {
		panic("inventory: redis client cannot be nil")
	}
	return &RedisStore{redis: client, opts: buildOptions(opts)}
}

func slotKey(tenantID, slotID string) string {
	return fmt.Sprintf("slot:%s:%s", tenantID, slotID)
}

func indexKey(tenantID string) string {
	return fmt.Sprintf("slots:%s", tenantID)
}

const (
	scriptOK       = "OK"
	scriptNoop     = "NOOP"
	scriptNotFound = "NOTFOUND"
	scriptConflict = "CONFLICT"
)

// KEYS[1] slot hash; ARGV: now_ms, hold_id, expires_ms
var reserveScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return 'NOTFOUND' end
local now = tonumber(ARGV[1])
local expires = tonumber(redis.call('HGET', KEYS[1], 'hold_expires') or '0')
if status == 'OPEN' or (status == 'HELD' and expires <= now) then
  redis.call('HSET', KEYS[1], 'status', 'HELD', 'hold_id', ARGV[2], 'hold_expires', ARGV[3])
  return 'OK'
end
return 'CONFLICT'
`)

// KEYS[1] slot hash; ARGV: hold_id
var finalizeScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return 'NOTFOUND' end
if ARGV[1] == '' or redis.call('HGET', KEYS[1], 'hold_id') ~= ARGV[1] then return 'CONFLICT' end
if status == 'HELD' then
  redis.call('HSET', KEYS[1], 'status', 'BOOKED')
  redis.call('HDEL', KEYS[1], 'hold_expires')
  return 'OK'
end
if status == 'BOOKED' then return 'OK' end
return 'CONFLICT'
`)

// KEYS[1] slot hash; ARGV: hold_id (may be empty)
var releaseScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return 'NOTFOUND' end
if status == 'HELD' and (ARGV[1] == '' or redis.call('HGET', KEYS[1], 'hold_id') == ARGV[1]) then
  redis.call('HSET', KEYS[1], 'status', 'OPEN')
  redis.call('HDEL', KEYS[1], 'hold_id', 'hold_expires')
  return 'OK'
end
return 'NOOP'
`)

// KEYS[1] slot hash, KEYS[2] tenant index; ARGV: fields..., score, member
var putScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 'EXISTS' end
redis.call('HSET', KEYS[1], 'tenant_id', ARGV[1], 'slot_id', ARGV[2], 'doctor_name', ARGV[3], 'start', ARGV[4], 'end', ARGV[5], 'status', ARGV[6])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[2])
return 'OK'
`)

func ms(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func fromMS(value string) (time.Time, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(n).UTC(), nil
}

func decodeSlot(fields map[string]string) (Slot, error) {
	start, err := fromMS(fields["start"])
	if err != nil {
		return Slot{}, fmt.Errorf("inventory: decode start: %w", err)
	}
	end, err := fromMS(fields["end"])
	if err != nil {
		return Slot{}, fmt.Errorf("inventory: decode end: %w", err)
	}
	slot := Slot{
		ID:         fields["slot_id"],
		TenantID:   fields["tenant_id"],
		DoctorName: fields["doctor_name"],
		StartTime:  start,
		EndTime:    end,
		Status:     Status(fields["status"]),
		HoldID:     fields["hold_id"],
	}
	if raw := fields["hold_expires"]; raw != "" {
		expires, err := fromMS(raw)
		if err != nil {
			return Slot{}, fmt.Errorf("inventory: decode hold expiry: %w", err)
		}
		slot.HoldExpiresAt = &expires
	}
	return slot, nil
}

func scriptResult(res any, err error) (string, error) {
	if err != nil {
		return "", err
	}
	s, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("inventory: unexpected script result %T", res)
	}
	return s, nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, tenantID string, window Window) ([]Slot, error) {
	ids, err := s.redis.ZRangeByScore(ctx, indexKey(tenantID), &redis.ZRangeBy{
		Min: ms(window.Start),
		Max: "(" + ms(window.End),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("inventory: list slot ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, slotKey(tenantID, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("inventory: load slots: %w", err)
	}

	now := s.opts.now()
	var out []Slot
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		slot, err := decodeSlot(fields)
		if err != nil {
			return nil, err
		}
		slot = slot.Observed(now)
		if slot.Status == StatusOpen && window.Contains(slot.StartTime) {
			out = append(out, slot)
		}
	}
	sortSlots(out)
	return out, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, tenantID, slotID string) (Slot, error) {
	fields, err := s.redis.HGetAll(ctx, slotKey(tenantID, slotID)).Result()
	if err != nil {
		return Slot{}, fmt.Errorf("inventory: get slot: %w", err)
	}
	if len(fields) == 0 {
		return Slot{}, ErrNotFound
	}
	slot, err := decodeSlot(fields)
	if err != nil {
		return Slot{}, err
	}
	return slot.Observed(s.opts.now()), nil
}

// TryReserve implements Store.
func (s *RedisStore) TryReserve(ctx context.Context, tenantID, slotID string) (Slot, error) {
	now := s.opts.now()
	holdID := s.opts.newID()
	res, err := scriptResult(reserveScript.Run(ctx, s.redis, []string{slotKey(tenantID, slotID)},
		ms(now), holdID, ms(now.Add(s.opts.holdTTL))).Result())
	if err != nil {
		return Slot{}, fmt.Errorf("inventory: reserve slot: %w", err)
	}
	if err := outcome(res); err != nil {
		return Slot{}, err
	}
	return s.raw(ctx, tenantID, slotID)
}

// Finalize implements Store.
func (s *RedisStore) Finalize(ctx context.Context, tenantID, slotID, holdID string) (Slot, error) {
	res, err := scriptResult(finalizeScript.Run(ctx, s.redis, []string{slotKey(tenantID, slotID)}, holdID).Result())
	if err != nil {
		return Slot{}, fmt.Errorf("inventory: finalize slot: %w", err)
	}
	if err := outcome(res); err != nil {
		return Slot{}, err
	}
	return s.raw(ctx, tenantID, slotID)
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, tenantID, slotID, holdID string) (bool, error) {
	res, err := scriptResult(releaseScript.Run(ctx, s.redis, []string{slotKey(tenantID, slotID)}, holdID).Result())
	if err != nil {
		return false, fmt.Errorf("inventory: release slot: %w", err)
	}
	if res == scriptNoop {
		return false, nil
	}
	if err := outcome(res); err != nil {
		return false, err
	}
	return true, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, slot Slot) error {
	if err := validateSlot(slot); err != nil {
		return err
	}
	if slot.Status == "" {
		slot.Status = StatusOpen
	}
	_, err := scriptResult(putScript.Run(ctx, s.redis,
		[]string{slotKey(slot.TenantID, slot.ID), indexKey(slot.TenantID)},
		slot.TenantID, slot.ID, slot.DoctorName, ms(slot.StartTime), ms(slot.EndTime), string(slot.Status)).Result())
	if err != nil {
		return fmt.Errorf("inventory: put slot: %w", err)
	}
	return nil
}

// raw reads the slot without applying expiry; used right after a transition.
func (s *RedisStore) raw(ctx context.Context, tenantID, slotID string) (Slot, error) {
	fields, err := s.redis.HGetAll(ctx, slotKey(tenantID, slotID)).Result()
	if err != nil {
		return Slot{}, fmt.Errorf("inventory: read slot: %w", err)
	}
	if len(fields) == 0 {
		return Slot{}, ErrNotFound
	}
	return decodeSlot(fields)
}

func outcome(res string) error {
	switch res {
	case scriptOK:
		return nil
	case scriptNotFound:
		return ErrNotFound
	case scriptConflict:
		return ErrConflict
	default:
		return fmt.Errorf("inventory: unexpected script result %q", res)
	}
}
