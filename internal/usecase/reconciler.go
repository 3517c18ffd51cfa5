package usecase

import (
	"time"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
	"github.com/eliteGoblin/focusd/site_mon/internal/policy"
)

// EvaluateFunc decides one hostname; policy.Evaluate is the reference.
type EvaluateFunc func(cfg domain.Configuration, hostname string, now time.Time) domain.Verdict

// Reconcile computes the navigations that bring tabs in line with cfg at now.
// It has no side effects; applying the actions is the caller's job.
func Reconcile(cfg domain.Configuration, tabs []domain.Tab, now time.Time, page policy.BlockPage) []domain.TabAction {
	return ReconcileWith(cfg, tabs, now, page, policy.Evaluate)
}

// ReconcileWith is Reconcile with a custom evaluator (e.g. a cached one).
// Every tab sees the same cfg and now.
func ReconcileWith(cfg domain.Configuration, tabs []domain.Tab, now time.Time, page policy.BlockPage, eval EvaluateFunc) []domain.TabAction {
	var actions []domain.TabAction

	for _, tab := range tabs {
		// The block page is recognised before scheme filtering: it may
		// itself be served over http.
		if page.IsBlockPage(tab.URL) {
			original, ok := page.Original(tab.URL)
			if !ok {
				continue
			}
			host, ok := policy.HostOf(original)
			if !ok {
				continue
			}
			v := eval(cfg, host, now)
			if v.Block {
				continue
			}
			actions = append(actions, domain.TabAction{
				TabID:   tab.ID,
				Kind:    domain.ActionRestore,
				URL:     original,
				FromURL: tab.URL,
				Verdict: v,
			})
			continue
		}

		host, ok := policy.HostOf(tab.URL)
		if !ok {
			continue
		}
		v := eval(cfg, host, now)
		if !v.Block {
			continue
		}
		actions = append(actions, domain.TabAction{
			TabID:   tab.ID,
			Kind:    domain.ActionBlock,
			URL:     page.Address(tab.URL, now),
			FromURL: tab.URL,
			Verdict: v,
		})
	}

	return actions
}
