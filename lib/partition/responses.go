package partition

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ReneKroon/ttlcache"
	"github.com/ValentinKolb/dFlow/lib/protocol"
	"github.com/VictoriaMetrics/metrics"
)

// responseRegistry routes the responses of processed commands to the clients
// waiting in Submit. Entries of clients that gave up are evicted by the TTL.
type responseRegistry struct {
	cache   *ttlcache.Cache
	expired *metrics.Counter
}

func newResponseRegistry(partitionID int32, ttl time.Duration, set *metrics.Set) *responseRegistry {
	r := &responseRegistry{
		cache:   ttlcache.NewCache(),
		expired: set.GetOrCreateCounter(fmt.Sprintf(`dflow_requests_expired_total{partition="%d"}`, partitionID)),
	}
	r.cache.SetTTL(ttl)
	r.cache.SetExpirationCallback(func(key string, _ interface{}) {
		r.expired.Inc()
		log.Debugf("request %s on partition %d expired without a response", key, partitionID)
	})
	return r
}

func requestKey(requestID int64) string {
	return strconv.FormatInt(requestID, 10)
}

// register returns the channel the response of requestID is delivered on.
func (r *responseRegistry) register(requestID int64) <-chan *protocol.Record {
	ch := make(chan *protocol.Record, 1)
	r.cache.Set(requestKey(requestID), ch)
	return ch
}

// complete hands record to the client waiting for requestID. It reports
// whether a client was waiting.
func (r *responseRegistry) complete(requestID int64, record *protocol.Record) bool {
	key := requestKey(requestID)
	value, ok := r.cache.Get(key)
	if !ok {
		return false
	}
	r.cache.Remove(key)

	select {
	case value.(chan *protocol.Record) <- record:
	default:
	}
	return true
}

func (r *responseRegistry) remove(requestID int64) {
	r.cache.Remove(requestKey(requestID))
}

func (r *responseRegistry) close() {
	r.cache.Close()
}
