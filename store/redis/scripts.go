package redis

import goredis "github.com/redis/go-redis/v9"

// The scripts below make each queue mutation atomic. Job hash keys are
// derived inside the scripts from a prefix argument, which ties the store
// to a single Redis node (no Cluster slot routing).

// Every job hash records its queue zset ("origin"), its delayed zset
// ("delayed") and its insertion sequence ("seq"). A job whose run_at is in
// the future waits in the delayed zset; claims promote it to the queue
// zset under its original sequence once it is due, so the queue zset only
// ever holds claimable jobs.

// enqueueScript: KEYS[1]=job hash, KEYS[2]=queue zset, KEYS[3]=queue set,
// KEYS[4]=seq, KEYS[5]=delayed zset. ARGV[1]=job id, ARGV[2]=run_at (ms)
// when delayed or "", ARGV[3..]=hash field/value pairs.
var enqueueScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
local seq = redis.call('INCR', KEYS[4])
redis.call('HSET', KEYS[1], 'seq', seq)
if ARGV[2] ~= '' then
  redis.call('ZADD', KEYS[5], tonumber(ARGV[2]), ARGV[1])
else
  redis.call('ZADD', KEYS[2], seq, ARGV[1])
end
redis.call('SADD', KEYS[3], KEYS[2])
return 1
`)

// claimScript: KEYS[1]=running set, then one (queue zset, delayed zset)
// pair per queue in priority order. ARGV[1]=now (unix ms), ARGV[2]=job key
// prefix, ARGV[3]=worker id, ARGV[4]=now (RFC 3339), ARGV[5]=max delayed
// jobs promoted per queue.
var claimScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local batch = tonumber(ARGV[5])
for i = 2, #KEYS, 2 do
  local ready, delayed = KEYS[i], KEYS[i + 1]
  for _, id in ipairs(redis.call('ZRANGEBYSCORE', delayed, '-inf', now, 'LIMIT', 0, batch)) do
    redis.call('ZREM', delayed, id)
    local seq = redis.call('HGET', ARGV[2] .. id, 'seq')
    if seq then redis.call('ZADD', ready, tonumber(seq), id) end
  end
  local head = redis.call('ZRANGE', ready, 0, 0)
  if #head > 0 then
    local id = head[1]
    local key = ARGV[2] .. id
    redis.call('ZREM', ready, id)
    redis.call('HSET', key, 'state', 'running', 'worker_id', ARGV[3],
      'started_at', ARGV[4], 'heartbeat_at', ARGV[4])
    redis.call('SADD', KEYS[1], id)
    return redis.call('HGETALL', key)
  end
end
return false
`)

// cancelScript: KEYS[1]=job hash. ARGV[1]=job id.
var cancelScript = goredis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') ~= 'queued' then return false end
local fields = redis.call('HGETALL', KEYS[1])
redis.call('ZREM', redis.call('HGET', KEYS[1], 'origin'), ARGV[1])
redis.call('ZREM', redis.call('HGET', KEYS[1], 'delayed'), ARGV[1])
redis.call('DEL', KEYS[1])
return fields
`)

// deleteScript: KEYS[1]=job hash, KEYS[2]=running set. ARGV[1]=job id.
var deleteScript = goredis.NewScript(`
local origin = redis.call('HGET', KEYS[1], 'origin')
if not origin then return 0 end
redis.call('ZREM', origin, ARGV[1])
redis.call('ZREM', redis.call('HGET', KEYS[1], 'delayed'), ARGV[1])
redis.call('SREM', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[1])
return 1
`)

// requeueScript: KEYS[1]=job hash, KEYS[2]=running set, KEYS[3]=seq,
// KEYS[4]=queue set. ARGV[1]=job id, ARGV[2]=retry_count,
// ARGV[3]=last_error, ARGV[4]=run_at (ms), ARGV[5]=now (ms).
var requeueScript = goredis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') ~= 'running' then return 0 end
redis.call('HSET', KEYS[1], 'state', 'queued', 'retry_count', ARGV[2],
  'last_error', ARGV[3], 'run_at', ARGV[4])
redis.call('HDEL', KEYS[1], 'worker_id', 'started_at', 'heartbeat_at')
redis.call('SREM', KEYS[2], ARGV[1])
local seq = redis.call('INCR', KEYS[3])
redis.call('HSET', KEYS[1], 'seq', seq)
local origin = redis.call('HGET', KEYS[1], 'origin')
if tonumber(ARGV[4]) > tonumber(ARGV[5]) then
  redis.call('ZADD', redis.call('HGET', KEYS[1], 'delayed'), tonumber(ARGV[4]), ARGV[1])
else
  redis.call('ZADD', origin, seq, ARGV[1])
end
redis.call('SADD', KEYS[4], origin)
return 1
`)

// clearScript: KEYS[1]=queue set, then one (queue zset, delayed zset) pair
// per queue. ARGV[1]=job key prefix.
var clearScript = goredis.NewScript(`
for i = 2, #KEYS, 2 do
  for j = i, i + 1 do
    for _, id in ipairs(redis.call('ZRANGE', KEYS[j], 0, -1)) do
      redis.call('DEL', ARGV[1] .. id)
    end
    redis.call('DEL', KEYS[j])
  end
  redis.call('SREM', KEYS[1], KEYS[i])
end
return (#KEYS - 1) / 2
`)

// heartbeatScript: KEYS[1]=job hash. ARGV[1]=worker id, ARGV[2]=now.
var heartbeatScript = goredis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') ~= 'running' then return 0 end
if redis.call('HGET', KEYS[1], 'worker_id') ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'heartbeat_at', ARGV[2])
return 1
`)
