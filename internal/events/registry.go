package events

import "sync"

// ModelEntry is one row of the model registry table embedded in C3.
// Fixed at compile time; updated only by code change.
type ModelEntry struct {
	ModelID          string
	Family           string
	ParamsB          float64
	Provider         string
	Tier             string
	VRAMGb           float64
	PriceInPer1M     float64
	PriceOutPer1M    float64
	SupportsThinking bool
	RPMLimit         int
	RPDLimit         int
}

// ModelRegistry is C3's static model table plus the pure construction
// function that turns per-call observations into a SignalMetadata
// record.
type ModelRegistry struct {
	mu      sync.RWMutex
	entries map[string]ModelEntry
}

// DefaultModelRegistry returns the fixed registry. The entries here are
// a representative cross-section of local (ollama) and hosted models;
// unknown model_ids fall back to zero-but-non-empty defaults rather
// than failing the gate.
func DefaultModelRegistry() *ModelRegistry {
	r := &ModelRegistry{entries: make(map[string]ModelEntry)}
	for _, e := range []ModelEntry{
		{ModelID: "gemma3:4b", Family: "Gemma3", ParamsB: 4, Provider: "ollama", Tier: "small", VRAMGb: 4},
		{ModelID: "gemma3:27b", Family: "Gemma3", ParamsB: 27, Provider: "ollama", Tier: "large", VRAMGb: 20},
		{ModelID: "qwen2.5:14b", Family: "Qwen2.5", ParamsB: 14, Provider: "ollama", Tier: "medium", VRAMGb: 10, SupportsThinking: true},
		{ModelID: "qwen2.5:7b", Family: "Qwen2.5", ParamsB: 7, Provider: "ollama", Tier: "small", VRAMGb: 6},
		{ModelID: "llama3.1:8b", Family: "Llama3.1", ParamsB: 8, Provider: "ollama", Tier: "small", VRAMGb: 6},
		{ModelID: "deepseek-r1:14b", Family: "DeepSeek-R1", ParamsB: 14, Provider: "ollama", Tier: "medium", VRAMGb: 10, SupportsThinking: true},
		{ModelID: "gemini-2.0-flash", Family: "Gemini2", Provider: "genai", Tier: "medium", PriceInPer1M: 0.10, PriceOutPer1M: 0.40, RPMLimit: 2000, RPDLimit: 0},
		{ModelID: "gemini-1.5-pro", Family: "Gemini1.5", Provider: "genai", Tier: "large", PriceInPer1M: 1.25, PriceOutPer1M: 5.00, RPMLimit: 360, RPDLimit: 0},
		{ModelID: "gemini-embedding-001", Family: "GeminiEmbed", Provider: "genai", Tier: "embedding", PriceInPer1M: 0.01},
		{ModelID: "claude-3-5-sonnet-latest", Family: "Claude3.5", Provider: "anthropic", Tier: "large", PriceInPer1M: 3.00, PriceOutPer1M: 15.00, RPMLimit: 50},
		{ModelID: "gpt-4o-mini", Family: "GPT4o", Provider: "openai", Tier: "small", PriceInPer1M: 0.15, PriceOutPer1M: 0.60, RPMLimit: 500},
	} {
		r.entries[e.ModelID] = e
	}
	return r
}

// Lookup returns the registry entry for a model_id, if known.
func (r *ModelRegistry) Lookup(modelID string) (ModelEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[modelID]
	return e, ok
}

// Register adds or replaces a registry entry. Exposed mainly for tests;
// production entries are the compiled-in defaults.
func (r *ModelRegistry) Register(e ModelEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.ModelID] = e
}

// Observations are the per-call fields a daemon supplies alongside the
// static (port, model_id, daemon_name) triple.
type Observations struct {
	LatencyMs      int64
	TokensIn       int64
	TokensOut      int64
	TokensThinking int64
	QualityScore   float64
	QualityMethod  string
	Cycle          int64
	TaskType       string
	Generation     string
	// Provider is used only when ModelID is unknown to the registry;
	// it supplies the caller's own idea of the provider so the field
	// gate still passes on an unregistered model.
	Provider string
}

// BuildSignalMetadata is the pure C3 construction function: given
// (port, model_id, daemon_name) and observations, returns a populated
// signal_metadata record. Unknown model_ids default to
// model_family="Unknown" and a non-empty provider, so an unrecognized
// model still satisfies the C2 field gate.
func (r *ModelRegistry) BuildSignalMetadata(port, modelID, daemonName string, obs Observations) SignalMetadata {
	sig := SignalMetadata{
		Port:               port,
		ModelID:            modelID,
		DaemonName:         daemonName,
		InferenceLatencyMs: obs.LatencyMs,
		TokensIn:           obs.TokensIn,
		TokensOut:          obs.TokensOut,
		TokensThinking:     obs.TokensThinking,
		QualityScore:       obs.QualityScore,
		QualityMethod:      obs.QualityMethod,
		Cycle:              obs.Cycle,
		TaskType:           obs.TaskType,
		Generation:         obs.Generation,
	}

	if entry, ok := r.Lookup(modelID); ok {
		sig.ModelProvider = entry.Provider
		sig.ModelFamily = entry.Family
		sig.ModelTier = entry.Tier
		sig.CostUSD = estimateCost(entry, obs.TokensIn, obs.TokensOut)
	} else {
		sig.ModelFamily = "Unknown"
		sig.ModelProvider = obs.Provider
		if sig.ModelProvider == "" {
			sig.ModelProvider = "unknown"
		}
	}
	return sig
}

func estimateCost(e ModelEntry, tokensIn, tokensOut int64) float64 {
	if e.PriceInPer1M == 0 && e.PriceOutPer1M == 0 {
		return 0
	}
	return float64(tokensIn)/1_000_000*e.PriceInPer1M + float64(tokensOut)/1_000_000*e.PriceOutPer1M
}
