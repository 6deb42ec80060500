package monitor

// Threshold holds the warning/critical/emergency levels for one metric.
// For inverted metrics (availability) lower values are worse.
type Threshold struct {
	Metric    MetricType `mapstructure:"metric"`
	Warning   float64    `mapstructure:"warning"`
	Critical  float64    `mapstructure:"critical"`
	Emergency float64    `mapstructure:"emergency"`
	Inverted  bool       `mapstructure:"inverted"`
}

// Evaluate returns the highest severity breached by value, the level that
// was crossed, and whether any level was breached at all.
func (t Threshold) Evaluate(value float64) (Severity, float64, bool) {
	if t.Inverted {
		switch {
		case value <= t.Emergency:
			return SeverityEmergency, t.Emergency, true
		case value <= t.Critical:
			return SeverityCritical, t.Critical, true
		case value <= t.Warning:
			return SeverityWarning, t.Warning, true
		}
		return SeverityInfo, 0, false
	}
	switch {
	case value >= t.Emergency:
		return SeverityEmergency, t.Emergency, true
	case value >= t.Critical:
		return SeverityCritical, t.Critical, true
	case value >= t.Warning:
		return SeverityWarning, t.Warning, true
	}
	return SeverityInfo, 0, false
}

// DefaultThresholds returns the SLA-derived defaults: response time in ms,
// availability and error rate in percent.
func DefaultThresholds() map[MetricType]Threshold {
	return map[MetricType]Threshold{
		MetricResponseTime: {
			Metric: MetricResponseTime, Warning: 500, Critical: 1000, Emergency: 2000,
		},
		MetricAvailability: {
			Metric: MetricAvailability, Warning: 99.5, Critical: 99.0, Emergency: 95.0, Inverted: true,
		},
		MetricErrorRate: {
			Metric: MetricErrorRate, Warning: 1, Critical: 5, Emergency: 10,
		},
		MetricConcurrentUsers: {
			Metric: MetricConcurrentUsers, Warning: 800, Critical: 1000, Emergency: 1200,
		},
		MetricResourceUsage: {
			Metric: MetricResourceUsage, Warning: 75, Critical: 90, Emergency: 95,
		},
	}
}
