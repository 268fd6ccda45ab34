package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertSpec struct {
	Groups []alertGroup `yaml:"groups"`
}

func TestAlertRules(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "importdesk.yml"))
	require.NoError(t, err)

	var spec alertSpec
	require.NoError(t, yaml.Unmarshal(data, &spec))
	require.Len(t, spec.Groups, 1)
	group := spec.Groups[0]
	require.Equal(t, "importdesk", group.Name)

	expected := map[string]string{
		"HighErrorRate":       "critical",
		"StockDiscrepancy":    "critical",
		"ReconcileJobFailing": "warning",
		"FrequentShortfalls":  "warning",
	}
	require.Len(t, group.Rules, len(expected))

	// Every metric an expression references must be exported. Vectors only
	// appear once they have a child, so touch each one first.
	metrics := NewMetrics()
	metrics.ObserveShortfall("probe")
	_ = metrics.Jobs().Track("inventory:reconcile").End(errors.New("probe"))
	metrics.Middleware(http.NotFoundHandler()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/probe", nil))
	exported := scrape(t, metrics)
	metricName := regexp.MustCompile(`importdesk_[a-z_]+`)

	for _, rule := range group.Rules {
		severity, ok := expected[rule.Alert]
		require.True(t, ok, "unexpected rule %q", rule.Alert)
		require.Equal(t, severity, rule.Labels["severity"], rule.Alert)
		require.NotEmpty(t, rule.Annotations["summary"], rule.Alert)
		require.NotEmpty(t, rule.Annotations["description"], rule.Alert)
		require.NotEmpty(t, rule.Annotations["runbook"], rule.Alert)
		require.NotEmpty(t, rule.For, rule.Alert)
		for _, name := range metricName.FindAllString(rule.Expr, -1) {
			require.Contains(t, exported, "# TYPE "+name+" ", "rule %s references unknown metric %s", rule.Alert, name)
		}
	}
}
