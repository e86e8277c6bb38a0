package snapshot

import (
	"errors"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vantagestack/vantage-intel/internal/models"
)

// Classifier maps a metric's namespace (the segment before the first '.') to
// a ChangeType. The mapping is fixed at load time.
type Classifier struct {
	byNamespace map[string]models.ChangeType
}

type classifyFile struct {
	Types []classifyEntry `yaml:"types"`
}

type classifyEntry struct {
	Namespace string `yaml:"namespace"`
	Type      string `yaml:"type"`
}

// NewClassifier loads the namespace mapping pack from path, falling back to
// built-in defaults when the path is empty or the file does not exist.
func NewClassifier(path string) (*Classifier, error) {
	mapping := defaultMapping()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		} else {
			var cfg classifyFile
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, err
			}
			for _, entry := range cfg.Types {
				ns := strings.ToLower(strings.TrimSpace(entry.Namespace))
				if ns == "" {
					continue
				}
				mapping[ns] = models.ChangeType(entry.Type)
			}
		}
	}

	return &Classifier{byNamespace: mapping}, nil
}

// Classify returns the ChangeType for a metric name.
func (c *Classifier) Classify(metric string) models.ChangeType {
	ns := metric
	if idx := strings.IndexByte(metric, '.'); idx > 0 {
		ns = metric[:idx]
	}
	if t, ok := c.byNamespace[strings.ToLower(ns)]; ok {
		return t
	}
	return models.ChangeGeneric
}

func defaultMapping() map[string]models.ChangeType {
	return map[string]models.ChangeType{
		"financial": models.ChangeFinancialMetric,
		"revenue":   models.ChangeFinancialMetric,
		"margin":    models.ChangeFinancialMetric,
		"market":    models.ChangeMarketTrend,
		"share":     models.ChangeMarketTrend,
		"strategy":  models.ChangeStrategicShift,
		"product":   models.ChangeStrategicShift,
		"sentiment": models.ChangeSentiment,
		"news":      models.ChangeSentiment,
	}
}
