package pipeline_test

import (
	"testing"

	"github.com/thirdeye-labs/overseer/internal/pipeline"
)

func newRouter() *pipeline.Router {
	chain := pipeline.DefaultChain()
	return pipeline.NewRouter(chain, pipeline.NewGuard(chain))
}

func TestRouteEmptyHistoryDefaultsToClarification(t *testing.T) {
	r := newRouter()
	rec := r.Route("Write a hello world function", nil)
	if rec.Gate != pipeline.GateSharingan {
		t.Errorf("Route() gate = %q, want %q", rec.Gate, pipeline.GateSharingan)
	}
	if rec.Confidence < 90 {
		t.Errorf("Route() confidence = %d, want >= 90", rec.Confidence)
	}
}

func TestRouteKeywordMarkers(t *testing.T) {
	r := newRouter()
	cases := []struct {
		task string
		want string
	}{
		{"do something with the data, not sure what exactly", pipeline.GateSharingan},
		{"design a migration plan for the billing service", pipeline.GateRinnegan},
		{"verify this claim and add a citation", pipeline.GateTenseigan},
	}
	for _, tc := range cases {
		rec := r.Route(tc.task, nil)
		if rec.Gate != tc.want {
			t.Errorf("Route(%q) = %q, want %q", tc.task, rec.Gate, tc.want)
		}
		if rec.Confidence < 95 {
			t.Errorf("Route(%q) confidence = %d, want >= 95 for a keyword match", tc.task, rec.Confidence)
		}
		if rec.Reasoning == "" {
			t.Errorf("Route(%q) returned empty reasoning", tc.task)
		}
	}
}

func TestRouteFollowsChainWithHistory(t *testing.T) {
	r := newRouter()
	rec := r.Route("keep going", []string{pipeline.GateSharingan})
	if rec.Gate != pipeline.GatePromptHelper {
		t.Errorf("Route() after sharingan = %q, want prompt-helper", rec.Gate)
	}
}

func TestRouteTerminalFallsBackToNavigator(t *testing.T) {
	r := newRouter()
	rec := r.Route("anything else?", []string{pipeline.GateByakugan})
	if rec.Gate != pipeline.GateOverseer {
		t.Errorf("Route() after terminal gate = %q, want overseer", rec.Gate)
	}
	if rec.Confidence >= 85 {
		t.Errorf("catch-all confidence = %d, want reduced (< 85)", rec.Confidence)
	}
}

func TestExtractExplicitGate(t *testing.T) {
	r := newRouter()
	if got := r.ExtractExplicitGate("run the Mangekyo review on this diff"); got != pipeline.GateMangekyo {
		t.Errorf("ExtractExplicitGate() = %q, want mangekyo", got)
	}
	if got := r.ExtractExplicitGate("just a normal task"); got != "" {
		t.Errorf("ExtractExplicitGate() = %q, want empty", got)
	}
}

func TestRouteMarkersMatchWholeWordsOnly(t *testing.T) {
	r := newRouter()
	cases := []string{
		"fetch the user list from the backend", // "fetch" contains "etc"
		"refactor the stuffing logic",          // "stuffing" contains "stuff"
	}
	for _, task := range cases {
		rec := r.Route(task, nil)
		if rec.Gate != pipeline.GateSharingan {
			t.Errorf("Route(%q) = %q, want %q", task, rec.Gate, pipeline.GateSharingan)
		}
		if rec.Confidence != 90 {
			t.Errorf("Route(%q) confidence = %d, want 90 (no marker should fire)", task, rec.Confidence)
		}
	}
}
