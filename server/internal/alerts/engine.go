package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/defecttrend/defecttrend/pkg/types"
	"github.com/defecttrend/defecttrend/server/internal/config"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	Job        string     `json:"job"`
	Build      int        `json:"build"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

type rule struct {
	config.AlertRule
	cond condition
}

// Engine evaluates alert rules against every recorded build and delivers
// webhook notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []rule
	webhooks []config.WebhookConfig
	analysis func() types.SeverityConfig

	mu       sync.Mutex
	active   map[string]*Alert    // key: "ruleName:job"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts
	client   *http.Client
	now      func() time.Time
	wg       sync.WaitGroup // in-flight deliveries
}

// New creates an Engine from the server alert configuration. analysis is
// called on every evaluation so that reloaded settings apply immediately.
// Rules whose condition does not parse are logged and skipped.
func New(cfg config.AlertsConfig, analysis func() types.SeverityConfig) *Engine {
	e := &Engine{
		webhooks: cfg.Webhooks,
		analysis: analysis,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	for _, r := range cfg.Rules {
		c, err := parseCondition(r.Condition)
		if err != nil {
			slog.Warn("alerts: skipping rule", "rule", r.Name, "err", err)
			continue
		}
		e.rules = append(e.rules, rule{AlertRule: r, cond: c})
	}
	return e
}

// Evaluate tests all rules against the newest build of job. Its signature
// matches store.Listener. Alerts that fire are stored and webhook delivery
// runs asynchronously; firing alerts whose condition is now false resolve.
func (e *Engine) Evaluate(job string, head *types.HistoryNode) {
	if len(e.rules) == 0 || head == nil {
		return
	}

	cfg := e.analysis()
	now := e.now()
	for _, r := range e.rules {
		key := r.Name + ":" + job
		fires, value := r.cond.eval(cfg, head)

		e.mu.Lock()
		var notify *Alert
		if fires {
			cooldown := r.Cooldown
			if cooldown <= 0 {
				cooldown = defaultCooldown
			}
			if now.Sub(e.lastFire[key]) > cooldown {
				sev := r.Severity
				if sev == "" {
					sev = "warning"
				}
				a := &Alert{
					ID:       uuid.NewString(),
					RuleName: r.Name,
					Job:      job,
					Build:    head.Build.Number,
					Severity: sev,
					Value:    value,
					Message: fmt.Sprintf("[%s] %s fired on %s build %s: %s (value %g)",
						sev, r.Name, job, head.Build.DisplayLabel(), r.Condition, value),
					FiredAt: now,
					State:   StateFiring,
				}
				e.active[key] = a
				e.lastFire[key] = now
				cp := *a
				notify = &cp

				slog.Warn("alert fired",
					"rule", r.Name,
					"job", job,
					"build", head.Build.Number,
					"value", value,
					"severity", sev,
				)
			}
		} else if a, ok := e.active[key]; ok {
			resolved := now
			a.State = StateResolved
			a.ResolvedAt = &resolved
			delete(e.active, key)

			e.history = append(e.history, a)
			if len(e.history) > maxHistoryLen {
				e.history = e.history[len(e.history)-maxHistoryLen:]
			}
			cp := *a
			notify = &cp

			slog.Info("alert resolved", "rule", r.Name, "job", job, "build", head.Build.Number)
		}
		e.mu.Unlock()

		if notify != nil {
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.deliver(notify)
			}()
		}
	}
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Wait blocks until all in-flight webhook deliveries have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}
