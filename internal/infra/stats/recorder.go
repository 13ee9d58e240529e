// Package stats keeps per-template render counters in Redis.
package stats

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"resume-renderer/internal/infra/logging"
)

const (
	keyPrefix = "renderstats:"
	// Unrecognized collects failures of templates that never rendered.
	Unrecognized   = "_unrecognized"
	maxTemplateLen = 64
)

// Recorder writes counters; a nil Recorder or client is a no-op.
type Recorder struct {
	rdb     *redis.Client
	timeout time.Duration
}

// TemplateStats are the counters for one template.
type TemplateStats struct {
	Renders    int64            `json:"renders"`
	Failures   int64            `json:"failures"`
	TotalMS    int64            `json:"total_ms"`
	ErrorCodes map[string]int64 `json:"error_codes,omitempty"`
}

// NewRecorder wraps rdb. Passing nil disables recording.
func NewRecorder(rdb *redis.Client) *Recorder {
	return &Recorder{rdb: rdb, timeout: time.Second}
}

// Enabled reports whether counters are written anywhere.
func (r *Recorder) Enabled() bool {
	return r != nil && r.rdb != nil
}

// Record counts one render of template. An empty code means success.
// Only a success creates a template's hash; failures of templates without
// one are counted under Unrecognized. Write errors are logged and otherwise
// ignored.
func (r *Recorder) Record(ctx context.Context, template, code string, d time.Duration) {
	if !r.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	key := r.key(ctx, template, code)
	pipe := r.rdb.TxPipeline()
	pipe.HIncrBy(ctx, key, "renders", 1)
	if code != "" {
		pipe.HIncrBy(ctx, key, "failures", 1)
		pipe.HIncrBy(ctx, key, "code:"+code, 1)
	} else {
		pipe.HIncrBy(ctx, key, "total_ms", d.Milliseconds())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logging.Warn("Redis stats write failed", "template", template, "error", err)
	}
}

func (r *Recorder) key(ctx context.Context, template, code string) string {
	if template == "" || len(template) > maxTemplateLen || template == Unrecognized {
		return keyPrefix + Unrecognized
	}
	key := keyPrefix + template
	if code == "" {
		return key
	}
	n, err := r.rdb.Exists(ctx, key).Result()
	if err != nil || n == 0 {
		return keyPrefix + Unrecognized
	}
	return key
}

// Snapshot returns the counters of every template seen so far.
func (r *Recorder) Snapshot(ctx context.Context) (map[string]TemplateStats, error) {
	out := make(map[string]TemplateStats)
	if !r.Enabled() {
		return out, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	iter := r.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := r.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		out[strings.TrimPrefix(key, keyPrefix)] = parseFields(fields)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseFields(fields map[string]string) TemplateStats {
	var st TemplateStats
	for k, v := range fields {
		n, _ := strconv.ParseInt(v, 10, 64)
		switch {
		case k == "renders":
			st.Renders = n
		case k == "failures":
			st.Failures = n
		case k == "total_ms":
			st.TotalMS = n
		case strings.HasPrefix(k, "code:"):
			if st.ErrorCodes == nil {
				st.ErrorCodes = make(map[string]int64)
			}
			st.ErrorCodes[strings.TrimPrefix(k, "code:")] = n
		}
	}
	return st
}
