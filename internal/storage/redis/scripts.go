package redis

const (
	// addTimeScript atomically adds accumulated time to a domain's daily
	// record, creating it with explicit defaults on first write.
	addTimeScript = `
local record_key = KEYS[1]    -- webtally:day:{date}:{domain}
local domains_set = KEYS[2]   -- webtally:day:{date}:domains
local days_set = KEYS[3]      -- webtally:days

local date = ARGV[1]
local domain = ARGV[2]
local ms = tonumber(ARGV[3])
local last_visited = ARGV[4]
local favicon = ARGV[5]

redis.call('HSETNX', record_key, 'visit_count', 0)
redis.call('HSETNX', record_key, 'sent_80', '0')
redis.call('HSETNX', record_key, 'sent_100', '0')
redis.call('HINCRBY', record_key, 'time_ms', ms)
redis.call('HSET', record_key, 'last_visited', last_visited)
if favicon ~= '' then
  redis.call('HSET', record_key, 'favicon', favicon)
end

redis.call('SADD', domains_set, domain)
redis.call('SADD', days_set, date)

return 'OK'
`

	// incrementVisitScript atomically adds one debounced visit.
	incrementVisitScript = `
local record_key = KEYS[1]
local domains_set = KEYS[2]
local days_set = KEYS[3]

local date = ARGV[1]
local domain = ARGV[2]
local last_visited = ARGV[3]

redis.call('HSETNX', record_key, 'time_ms', 0)
redis.call('HSETNX', record_key, 'sent_80', '0')
redis.call('HSETNX', record_key, 'sent_100', '0')
redis.call('HINCRBY', record_key, 'visit_count', 1)
redis.call('HSET', record_key, 'last_visited', last_visited)

redis.call('SADD', domains_set, domain)
redis.call('SADD', days_set, date)

return 'OK'
`

	// markNotifiedScript atomically flips a notification-sent flag.
	markNotifiedScript = `
local record_key = KEYS[1]
local domains_set = KEYS[2]
local days_set = KEYS[3]

local date = ARGV[1]
local domain = ARGV[2]
local field = ARGV[3]

redis.call('HSETNX', record_key, 'time_ms', 0)
redis.call('HSETNX', record_key, 'visit_count', 0)
redis.call('HSETNX', record_key, 'sent_80', '0')
redis.call('HSETNX', record_key, 'sent_100', '0')
redis.call('HSET', record_key, field, '1')

redis.call('SADD', domains_set, domain)
redis.call('SADD', days_set, date)

return 'OK'
`
)
