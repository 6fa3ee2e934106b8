package events

// SignalMetadata is the substructure embedded in every non-exempt event.
// Required keys are Port, ModelID, DaemonName, ModelProvider; an empty
// string in a required field fails the gate identically to the field
// being absent.
type SignalMetadata struct {
	Port          string `json:"port"`
	ModelID       string `json:"model_id"`
	DaemonName    string `json:"daemon_name"`
	ModelProvider string `json:"model_provider"`

	ModelTier          string  `json:"model_tier,omitempty"`
	ModelFamily        string  `json:"model_family,omitempty"`
	InferenceLatencyMs int64   `json:"inference_latency_ms,omitempty"`
	TokensIn           int64   `json:"tokens_in,omitempty"`
	TokensOut          int64   `json:"tokens_out,omitempty"`
	TokensThinking     int64   `json:"tokens_thinking,omitempty"`
	QualityScore       float64 `json:"quality_score,omitempty"`
	QualityMethod      string  `json:"quality_method,omitempty"`
	CostUSD            float64 `json:"cost_usd,omitempty"`
	Cycle              int64   `json:"cycle,omitempty"`
	TaskType           string  `json:"task_type,omitempty"`
	Timestamp          string  `json:"timestamp,omitempty"`
	Generation         string  `json:"generation,omitempty"`
}

// requiredFields names, in gate-check order, the four keys that must be
// non-empty on every non-exempt event.
func (s *SignalMetadata) requiredFields() []struct {
	name  string
	value string
} {
	return []struct {
		name  string
		value string
	}{
		{"port", s.Port},
		{"model_id", s.ModelID},
		{"daemon_name", s.DaemonName},
		{"model_provider", s.ModelProvider},
	}
}

// MissingFields returns the required keys that are empty, in declaration
// order: {port:"P4"} yields ["model_id","daemon_name","model_provider"].
func (s *SignalMetadata) MissingFields() []string {
	if s == nil {
		return []string{"port", "model_id", "daemon_name", "model_provider"}
	}
	var missing []string
	for _, f := range s.requiredFields() {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// ToMap renders the signal metadata as a plain JSON-shaped map for
// embedding into an event's data payload.
func (s *SignalMetadata) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"port":           s.Port,
		"model_id":       s.ModelID,
		"daemon_name":    s.DaemonName,
		"model_provider": s.ModelProvider,
	}
	if s.ModelTier != "" {
		m["model_tier"] = s.ModelTier
	}
	if s.ModelFamily != "" {
		m["model_family"] = s.ModelFamily
	}
	if s.InferenceLatencyMs != 0 {
		m["inference_latency_ms"] = s.InferenceLatencyMs
	}
	if s.TokensIn != 0 {
		m["tokens_in"] = s.TokensIn
	}
	if s.TokensOut != 0 {
		m["tokens_out"] = s.TokensOut
	}
	if s.TokensThinking != 0 {
		m["tokens_thinking"] = s.TokensThinking
	}
	if s.QualityScore != 0 {
		m["quality_score"] = s.QualityScore
	}
	if s.QualityMethod != "" {
		m["quality_method"] = s.QualityMethod
	}
	if s.CostUSD != 0 {
		m["cost_usd"] = s.CostUSD
	}
	if s.Cycle != 0 {
		m["cycle"] = s.Cycle
	}
	if s.TaskType != "" {
		m["task_type"] = s.TaskType
	}
	if s.Timestamp != "" {
		m["timestamp"] = s.Timestamp
	}
	if s.Generation != "" {
		m["generation"] = s.Generation
	}
	return m
}
